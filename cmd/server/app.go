package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pulserank/apicache/internal/cache"
	"github.com/pulserank/apicache/internal/config"
	"github.com/pulserank/apicache/internal/cost"
	"github.com/pulserank/apicache/internal/database"
	"github.com/pulserank/apicache/internal/metrics"
	"github.com/pulserank/apicache/internal/provider"
	"github.com/pulserank/apicache/internal/provider/dataforseo"
	"github.com/pulserank/apicache/internal/provider/majestic"
	"github.com/pulserank/apicache/internal/provider/semrush"
	"github.com/pulserank/apicache/internal/storage"
	"github.com/pulserank/apicache/internal/usage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app holds one instance of every long lived service.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	db       *gorm.DB
	registry *prometheus.Registry
	recorder *usage.Recorder
	store    *cache.Store
	query    *usage.QueryService
	cacher   *provider.Cacher

	majestic   *majestic.CachedClient
	dataforseo *dataforseo.CachedClient
	semrush    *semrush.CachedClient
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if strings.EqualFold(cfg.LogFormat, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func newApp(cfg *config.Config, logger *logrus.Logger) (*app, error) {
	db, err := database.Open(logger, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := usage.NewRecorder(logger, db, metrics.New(registry), cfg.UsageLogCalls)

	policy, err := cache.LoadPolicy(cfg.CachePolicyFile, cfg.CacheDefaultTTL)
	if err != nil {
		logger.WithError(err).WithField("path", cfg.CachePolicyFile).Error("Failed to load cache policy, using defaults")
		policy = cache.DefaultPolicy(cfg.CacheDefaultTTL)
	}

	store := cache.NewStore(logger, db, policy, recorder)
	if cfg.OffloadEnabled() {
		s3Storage, err := storage.NewS3Storage(logger, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize payload storage: %w", err)
		}
		store.EnableOffload(s3Storage, cfg.CacheOffloadThreshold)
		logger.WithFields(logrus.Fields{
			"bucket":    cfg.S3Bucket,
			"threshold": cfg.CacheOffloadThreshold,
		}).Info("Large cached responses are offloaded to S3")
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		registry: registry,
		recorder: recorder,
		store:    store,
		query:    usage.NewQueryService(logger, db, cost.DefaultPricing),
		cacher:   provider.NewCacher(logger, store, recorder, cfg.CacheSingleFlight),
	}
	a.wireProviders()
	return a, nil
}

// wireProviders builds a cached client for every provider with credentials.
func (a *app) wireProviders() {
	cfg := a.cfg
	httpClient := func(service string) *http.Client {
		return provider.NewHTTPClient(a.logger, service, cfg.ProviderRequestTimeout, cfg.ProviderRateLimit)
	}

	if cfg.MajesticAPIKey != "" {
		raw := majestic.NewClient(a.logger, httpClient(usage.ServiceMajestic), cfg.MajesticAPIKey)
		a.majestic = majestic.NewCachedClient(raw, a.cacher)
	} else {
		a.logger.WithField("service", usage.ServiceMajestic).Warn("Provider credentials missing, routes disabled")
	}

	if cfg.DataForSEOLogin != "" && cfg.DataForSEOPassword != "" {
		raw := dataforseo.NewClient(a.logger, httpClient(usage.ServiceDataForSEO), cfg.DataForSEOLogin, cfg.DataForSEOPassword)
		a.dataforseo = dataforseo.NewCachedClient(raw, a.cacher)
	} else {
		a.logger.WithField("service", usage.ServiceDataForSEO).Warn("Provider credentials missing, routes disabled")
	}

	if cfg.SEMrushAPIKey != "" {
		raw := semrush.NewClient(a.logger, httpClient(usage.ServiceSEMrush), cfg.SEMrushAPIKey)
		a.semrush = semrush.NewCachedClient(raw, a.cacher)
	} else {
		a.logger.WithField("service", usage.ServiceSEMrush).Warn("Provider credentials missing, routes disabled")
	}
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
