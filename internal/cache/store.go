package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pulserank/apicache/internal/cachekey"
	"github.com/pulserank/apicache/internal/models"
	"github.com/pulserank/apicache/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound     = errors.New("cache entry not found")
	ErrEmptyPattern = errors.New("invalidation pattern must not be empty")
)

// Recorder receives the outcome of every lookup.
type Recorder interface {
	RecordHit(ctx context.Context, cacheKey string)
	RecordMiss(ctx context.Context, cacheKey string)
}

type GetOptions struct {
	// MaxHits evicts the entry once it has been served this many times.
	// Zero falls back to the endpoint's CacheConfig.
	MaxHits int
}

type SetOptions struct {
	// TTL overrides the endpoint's configured TTL when positive.
	TTL    time.Duration
	UserID string
}

// Store persists provider responses keyed by cache key. Read failures
// degrade to misses and write failures are logged, so the cache can never
// fail the request it serves.
type Store struct {
	db       *gorm.DB
	log      *logrus.Entry
	policy   *Policy
	recorder Recorder

	payloads         storage.Storage
	offloadThreshold int

	now func() time.Time
}

func NewStore(logger *logrus.Logger, db *gorm.DB, policy *Policy, recorder Recorder) *Store {
	if policy == nil {
		policy = DefaultPolicy(DefaultTTL)
	}
	return &Store{
		db:       db,
		log:      logger.WithField("component", "cache_store"),
		policy:   policy,
		recorder: recorder,
		now:      time.Now,
	}
}

// EnableOffload keeps responses larger than threshold bytes in payloads and
// stores only a reference in the database row.
func (s *Store) EnableOffload(payloads storage.Storage, threshold int) {
	s.payloads = payloads
	s.offloadThreshold = threshold
}

func payloadKey(cacheKey string) string {
	return "api-cache/" + strings.Replace(cacheKey, ":", "/", 1)
}

func (s *Store) load(ctx context.Context, cacheKey string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where("cache_key = ?", cacheKey).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Get returns the cached response for cacheKey. The boolean is false on a
// miss, which also covers expired entries, exhausted entries and storage
// failures.
func (s *Store) Get(ctx context.Context, cacheKey string, opts GetOptions) (json.RawMessage, bool) {
	log := s.log.WithFields(logrus.Fields{
		"operation": "get",
		"cache_key": cacheKey,
	})

	value, err := s.get(ctx, cacheKey, opts, log)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.WithError(err).Warn("Cache read failed, treating as miss")
		}
		s.recorder.RecordMiss(ctx, cacheKey)
		return nil, false
	}

	s.recorder.RecordHit(ctx, cacheKey)
	return value, true
}

func (s *Store) get(ctx context.Context, cacheKey string, opts GetOptions, log *logrus.Entry) (json.RawMessage, error) {
	entry, err := s.load(ctx, cacheKey)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if entry.Expired(now) {
		log.Debug("Cache entry expired")
		s.evict(ctx, entry, log)
		return nil, ErrNotFound
	}

	maxHits := opts.MaxHits
	if maxHits <= 0 {
		if cfg := s.GetConfig(ctx, entry.Endpoint); cfg.MaxHits != nil {
			maxHits = *cfg.MaxHits
		}
	}
	if maxHits > 0 && entry.HitCount >= maxHits {
		log.WithField("hit_count", entry.HitCount).Debug("Cache entry reached max hits")
		s.evict(ctx, entry, log)
		return nil, ErrNotFound
	}

	// The guard keeps concurrent readers from serving more than maxHits.
	update := s.db.WithContext(ctx).Model(&models.CacheEntry{}).Where("cache_key = ?", cacheKey)
	if maxHits > 0 {
		update = update.Where("hit_count < ?", maxHits)
	}
	result := update.Updates(map[string]any{
		"hit_count":     gorm.Expr("hit_count + 1"),
		"last_accessed": now,
	})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to bump hit count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	if entry.PayloadRef == "" {
		return json.RawMessage(entry.Response), nil
	}
	if s.payloads == nil {
		return nil, fmt.Errorf("entry references offloaded payload %s but offload is disabled", entry.PayloadRef)
	}
	data, err := s.payloads.Get(ctx, entry.PayloadRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch offloaded payload: %w", err)
	}
	return json.RawMessage(data), nil
}

func (s *Store) evict(ctx context.Context, entry *models.CacheEntry, log *logrus.Entry) {
	if err := s.db.WithContext(ctx).Where("cache_key = ?", entry.CacheKey).Delete(&models.CacheEntry{}).Error; err != nil {
		log.WithError(err).Warn("Failed to evict cache entry")
		return
	}
	s.deletePayloads(ctx, []string{entry.PayloadRef}, log)
}

func (s *Store) deletePayloads(ctx context.Context, refs []string, log *logrus.Entry) {
	if s.payloads == nil {
		return
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.payloads.Delete(ctx, ref); err != nil {
			log.WithFields(logrus.Fields{"payload_ref": ref}).WithError(err).Warn("Failed to delete offloaded payload")
		}
	}
}

// Set stores value under cacheKey, replacing any previous response and
// resetting its hit count.
func (s *Store) Set(ctx context.Context, cacheKey string, value json.RawMessage, endpoint string, params cachekey.Params, opts SetOptions) {
	log := s.log.WithFields(logrus.Fields{
		"operation": "set",
		"cache_key": cacheKey,
		"endpoint":  endpoint,
	})

	if err := s.set(ctx, cacheKey, value, endpoint, params, opts, log); err != nil {
		log.WithError(err).Warn("Failed to cache response")
	}
}

func (s *Store) set(ctx context.Context, cacheKey string, value json.RawMessage, endpoint string, params cachekey.Params, opts SetOptions, log *logrus.Entry) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.GetConfig(ctx, endpoint).TTLDuration()
	}

	canonical, err := cachekey.Canonical(params)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	now := s.now().UTC()
	entry := models.CacheEntry{
		CacheKey:     cacheKey,
		Endpoint:     endpoint,
		Parameters:   models.JSON(canonical),
		Response:     models.JSON(value),
		SizeBytes:    int64(len(value)),
		ExpiresAt:    now.Add(ttl),
		HitCount:     0,
		LastAccessed: now,
	}
	if opts.UserID != "" {
		entry.UserID = &opts.UserID
	}

	if s.payloads != nil && s.offloadThreshold > 0 && len(value) > s.offloadThreshold {
		ref := payloadKey(cacheKey)
		if err := s.payloads.Put(ctx, ref, value, "application/json"); err != nil {
			log.WithError(err).Warn("Failed to offload payload, storing inline")
		} else {
			entry.PayloadRef = ref
			entry.Response = nil
		}
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"endpoint", "parameters", "response", "payload_ref", "size_bytes",
			"expires_at", "hit_count", "last_accessed", "user_id", "updated_at",
		}),
	}).Create(&entry).Error
}

// GetConfig returns the endpoint's CacheConfig, creating it from the policy
// on first access. Storage failures fall back to the policy default.
func (s *Store) GetConfig(ctx context.Context, endpoint string) models.CacheConfig {
	cfg, err := s.getConfig(ctx, endpoint)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"operation": "get_config",
			"endpoint":  endpoint,
		}).WithError(err).Warn("Failed to load cache config, using policy default")
		return s.policy.Config(endpoint)
	}
	return cfg
}

func (s *Store) getConfig(ctx context.Context, endpoint string) (models.CacheConfig, error) {
	var cfg models.CacheConfig
	err := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Take(&cfg).Error
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return cfg, err
	}

	cfg = s.policy.Config(endpoint)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&cfg).Error; err != nil {
		return cfg, fmt.Errorf("failed to create cache config: %w", err)
	}

	// A concurrent creator may have won; read back whatever is stored.
	var stored models.CacheConfig
	if err := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Take(&stored).Error; err != nil {
		return cfg, fmt.Errorf("failed to reload cache config: %w", err)
	}
	return stored, nil
}

// ConfigUpdate is a partial CacheConfig. Nil fields are left unchanged.
type ConfigUpdate struct {
	Endpoint string         `json:"endpoint"`
	TTL      *time.Duration `json:"-"`
	MaxHits  *int           `json:"maxHits"`
	IsActive *bool          `json:"isActive"`
	Priority *int           `json:"priority"`
}

// UpdateConfig applies a partial update to the endpoint's CacheConfig,
// creating it first if needed. A non-positive MaxHits clears the limit.
func (s *Store) UpdateConfig(ctx context.Context, update ConfigUpdate) (models.CacheConfig, error) {
	if update.Endpoint == "" {
		return models.CacheConfig{}, errors.New("endpoint is required")
	}
	if update.TTL != nil && *update.TTL < time.Second {
		return models.CacheConfig{}, fmt.Errorf("ttl must be at least one second, got %s", *update.TTL)
	}

	if _, err := s.getConfig(ctx, update.Endpoint); err != nil {
		return models.CacheConfig{}, err
	}

	changes := map[string]any{"updated_at": s.now().UTC()}
	if update.TTL != nil {
		changes["ttl"] = int(*update.TTL / time.Second)
	}
	if update.MaxHits != nil {
		if *update.MaxHits > 0 {
			changes["max_hits"] = *update.MaxHits
		} else {
			changes["max_hits"] = nil
		}
	}
	if update.IsActive != nil {
		changes["is_active"] = *update.IsActive
	}
	if update.Priority != nil {
		changes["priority"] = *update.Priority
	}

	err := s.db.WithContext(ctx).Model(&models.CacheConfig{}).
		Where("endpoint = ?", update.Endpoint).
		Updates(changes).Error
	if err != nil {
		return models.CacheConfig{}, fmt.Errorf("failed to update cache config: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"operation": "update_config",
		"endpoint":  update.Endpoint,
	}).Info("Cache config updated")
	return s.getConfig(ctx, update.Endpoint)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Invalidate deletes every entry whose endpoint contains pattern and returns
// how many were removed.
func (s *Store) Invalidate(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, ErrEmptyPattern
	}
	log := s.log.WithFields(logrus.Fields{
		"operation": "invalidate",
		"pattern":   pattern,
	})

	query := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.CacheEntry{}).
			Where(`endpoint LIKE ? ESCAPE '\'`, "%"+escapeLike(pattern)+"%")
	}
	return s.deleteMatching(ctx, query, log)
}

// CleanupExpired deletes every entry past its TTL and returns how many were
// removed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	log := s.log.WithField("operation", "cleanup_expired")
	now := s.now().UTC()

	query := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.CacheEntry{}).Where("expires_at < ?", now)
	}
	return s.deleteMatching(ctx, query, log)
}

func (s *Store) deleteMatching(ctx context.Context, query func() *gorm.DB, log *logrus.Entry) (int64, error) {
	var refs []string
	if s.payloads != nil {
		if err := query().Where("payload_ref <> ''").Pluck("payload_ref", &refs).Error; err != nil {
			return 0, fmt.Errorf("failed to list offloaded payloads: %w", err)
		}
	}

	result := query().Delete(&models.CacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete cache entries: %w", result.Error)
	}

	s.deletePayloads(ctx, refs, log)
	log.WithField("count", result.RowsAffected).Info("Deleted cache entries")
	return result.RowsAffected, nil
}

// StatsSummary aggregates CacheStats rows.
type StatsSummary struct {
	TotalRequests       int64   `json:"totalRequests"`
	CacheHits           int64   `json:"cacheHits"`
	CacheMisses         int64   `json:"cacheMisses"`
	APICalls            int64   `json:"apiCalls"`
	HitRate             float64 `json:"hitRate"`
	AverageResponseTime float64 `json:"averageResponseTime"`
}

// Stats summarises the day-bucketed lookup counters. An empty endpoint or a
// zero date widens the filter to all endpoints or all days.
func (s *Store) Stats(ctx context.Context, endpoint string, date time.Time) (StatsSummary, error) {
	query := s.db.WithContext(ctx).Model(&models.CacheStats{})
	if endpoint != "" {
		query = query.Where("endpoint = ?", endpoint)
	}
	if !date.IsZero() {
		y, m, d := date.UTC().Date()
		query = query.Where("date = ?", time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	}

	var rows []models.CacheStats
	if err := query.Find(&rows).Error; err != nil {
		return StatsSummary{}, fmt.Errorf("failed to load cache stats: %w", err)
	}

	var (
		sum       StatsSummary
		weightSum float64
	)
	for _, row := range rows {
		sum.TotalRequests += row.TotalRequests
		sum.CacheHits += row.CacheHits
		sum.CacheMisses += row.CacheMisses
		sum.APICalls += row.APICalls
		weightSum += row.AverageResponseTime * float64(row.APICalls)
	}
	if sum.TotalRequests > 0 {
		sum.HitRate = float64(sum.CacheHits) / float64(sum.TotalRequests)
	}
	if sum.APICalls > 0 {
		sum.AverageResponseTime = weightSum / float64(sum.APICalls)
	}
	return sum, nil
}
