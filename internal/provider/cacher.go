// Package provider decorates raw SEO provider calls with response caching
// and usage accounting.
package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pulserank/apicache/internal/cache"
	"github.com/pulserank/apicache/internal/cachekey"
	"github.com/pulserank/apicache/internal/cost"
	"github.com/pulserank/apicache/internal/models"
	"github.com/pulserank/apicache/internal/usage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Options tune a single decorated call.
type Options struct {
	// ForceRefresh skips the cache lookup; the fresh result still replaces
	// the cached one.
	ForceRefresh bool
	UserID       string
	// TTL overrides the endpoint's configured TTL when positive.
	TTL     time.Duration
	MaxHits int
	// ItemCount scales the modeled cost. Zero counts as one item.
	ItemCount int
}

type CacheStore interface {
	Get(ctx context.Context, cacheKey string, opts cache.GetOptions) (json.RawMessage, bool)
	Set(ctx context.Context, cacheKey string, value json.RawMessage, endpoint string, params cachekey.Params, opts cache.SetOptions)
	GetConfig(ctx context.Context, endpoint string) models.CacheConfig
}

type UsageRecorder interface {
	RecordAPICall(ctx context.Context, call usage.Call)
}

// Cacher holds what every decorated operation shares. One instance serves
// all providers.
type Cacher struct {
	store        CacheStore
	recorder     UsageRecorder
	log          *logrus.Entry
	singleFlight bool
	group        singleflight.Group
}

// NewCacher builds a Cacher. With singleFlight set, concurrent misses for
// the same cache key share one upstream call.
func NewCacher(logger *logrus.Logger, store CacheStore, recorder UsageRecorder, singleFlight bool) *Cacher {
	return &Cacher{
		store:        store,
		recorder:     recorder,
		log:          logger.WithField("component", "provider_cacher"),
		singleFlight: singleFlight,
	}
}

// Fetch runs a cacheable operation: serve from cache when possible,
// otherwise call fetch, store its result and record the billed call.
// Provider failures are returned as ExternalAPIErrors and never cached.
func Fetch[T any](ctx context.Context, c *Cacher, endpoint string, params cachekey.Params, opts Options, fetch func(context.Context) (T, error)) (T, error) {
	log := c.log.WithField("endpoint", endpoint)

	key, err := cachekey.Build(endpoint, params)
	if err != nil {
		log.WithError(err).Warn("Cannot fingerprint parameters, calling provider uncached")
		return Call(ctx, c, endpoint, params, opts, fetch)
	}

	if cfg := c.store.GetConfig(ctx, endpoint); !cfg.IsActive {
		return Call(ctx, c, endpoint, params, opts, fetch)
	}

	if !opts.ForceRefresh {
		start := time.Now()
		if raw, ok := c.store.Get(ctx, key, cache.GetOptions{MaxHits: opts.MaxHits}); ok {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				c.record(ctx, endpoint, params, opts, time.Since(start), nil, true)
				return v, nil
			}
			log.WithField("cache_key", key).WithError(err).Warn("Discarding undecodable cache entry")
		}
	}

	if !c.singleFlight {
		return fetchAndStore(ctx, c, key, endpoint, params, opts, fetch)
	}

	// The shared call runs detached so one caller giving up does not fail
	// the others waiting on it.
	leader := false
	ch := c.group.DoChan(key, func() (any, error) {
		leader = true
		return fetchAndStore(context.WithoutCancel(ctx), c, key, endpoint, params, opts, fetch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		if !leader {
			c.record(ctx, endpoint, params, opts, 0, nil, true)
		}
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, NewError(usage.ServiceName(endpoint), endpoint, 0, ctx.Err())
	}
}

func fetchAndStore[T any](ctx context.Context, c *Cacher, key, endpoint string, params cachekey.Params, opts Options, fetch func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fetch(ctx)
	elapsed := time.Since(start)
	if err != nil {
		err = NewError(usage.ServiceName(endpoint), endpoint, 0, err)
		c.record(ctx, endpoint, params, opts, elapsed, err, false)
		var zero T
		return zero, err
	}

	if raw, err := json.Marshal(v); err != nil {
		c.log.WithFields(logrus.Fields{
			"endpoint":  endpoint,
			"cache_key": key,
		}).WithError(err).Warn("Cannot encode provider result for caching")
	} else {
		c.store.Set(ctx, key, raw, endpoint, params, cache.SetOptions{TTL: opts.TTL, UserID: opts.UserID})
	}

	c.record(ctx, endpoint, params, opts, elapsed, nil, false)
	return v, nil
}

// Call runs an operation that is never cached, such as submitting a job or
// polling for its completion. It is still accounted for.
func Call[T any](ctx context.Context, c *Cacher, endpoint string, params cachekey.Params, opts Options, fetch func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fetch(ctx)
	elapsed := time.Since(start)
	if err != nil {
		err = NewError(usage.ServiceName(endpoint), endpoint, 0, err)
		c.record(ctx, endpoint, params, opts, elapsed, err, false)
		var zero T
		return zero, err
	}

	c.record(ctx, endpoint, params, opts, elapsed, nil, false)
	return v, nil
}

// record prices the call and hands it to the recorder. Only successful
// upstream calls carry the modeled cost; hits and failures count with zero
// credits.
func (c *Cacher) record(ctx context.Context, endpoint string, params cachekey.Params, opts Options, d time.Duration, err error, hit bool) {
	credits := cost.Zero(cost.ProviderOf(endpoint))
	if !hit && err == nil {
		if estimate := cost.Estimate(endpoint, opts.ItemCount); estimate != nil {
			credits = estimate
		}
	}

	c.recorder.RecordAPICall(ctx, usage.Call{
		Endpoint:      endpoint,
		ResponseTime:  d,
		UserID:        opts.UserID,
		Err:           err,
		CacheHit:      hit,
		RequestParams: params,
		Credits:       credits,
	})
}
