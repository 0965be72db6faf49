package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pulserank/apicache/internal/cachekey"
	"github.com/pulserank/apicache/internal/database/dbtest"
	"github.com/pulserank/apicache/internal/models"
	"github.com/pulserank/apicache/internal/storage"
	"github.com/pulserank/apicache/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

type countingRecorder struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{hits: map[string]int{}, misses: map[string]int{}}
}

func (r *countingRecorder) RecordHit(_ context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits[key]++
}

func (r *countingRecorder) RecordMiss(_ context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses[key]++
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}}
}

func (m *memoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m *memoryStorage) Put(_ context.Context, key string, content []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	m.objects[key] = append([]byte(nil), content...)
	return nil
}

func (m *memoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func newTestStore(t *testing.T) (*Store, *countingRecorder, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	rec := newCountingRecorder()
	s := NewStore(dbtest.Logger(), db, DefaultPolicy(DefaultTTL), rec)
	s.now = func() time.Time { return testNow }
	return s, rec, db
}

func entryExists(t *testing.T, db *gorm.DB, key string) bool {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Where("cache_key = ?", key).Count(&count).Error)
	return count > 0
}

func TestGetMissOnEmptyStore(t *testing.T) {
	s, rec, _ := newTestStore(t)
	key := cachekey.MustBuild("majestic.backlinkData", cachekey.Params{"item": "example.com"})

	value, ok := s.Get(context.Background(), key, GetOptions{})

	assert.False(t, ok)
	assert.Nil(t, value)
	assert.Equal(t, 1, rec.misses[key])
	assert.Zero(t, rec.hits[key])
}

func TestSetThenGetCountsHits(t *testing.T) {
	db := dbtest.New(t)
	recorder := usage.NewRecorder(dbtest.Logger(), db, nil, false)
	s := NewStore(dbtest.Logger(), db, nil, recorder)
	ctx := context.Background()

	params := cachekey.Params{"item": "example.com", "count": 10}
	key := cachekey.MustBuild("majestic.refDomains", params)
	payload := json.RawMessage(`{"DataTables":{"Results":{"Data":[{"Domain":"a.com"}]}}}`)

	s.Set(ctx, key, payload, "majestic.refDomains", params, SetOptions{})

	const n = 4
	for i := 0; i < n; i++ {
		value, ok := s.Get(ctx, key, GetOptions{})
		require.True(t, ok)
		assert.JSONEq(t, string(payload), string(value))
	}

	var entry models.CacheEntry
	require.NoError(t, db.Where("cache_key = ?", key).Take(&entry).Error)
	assert.Equal(t, n, entry.HitCount)

	var stats models.CacheStats
	require.NoError(t, db.Where("endpoint = ?", "majestic.refDomains").Take(&stats).Error)
	assert.Equal(t, int64(n), stats.CacheHits)
	assert.Zero(t, stats.CacheMisses)
}

func TestGetExpiredEntryIsDeleted(t *testing.T) {
	s, rec, db := newTestStore(t)
	ctx := context.Background()
	key := cachekey.MustBuild("dataforseo.serpData", cachekey.Params{"keyword": "seo"})

	s.Set(ctx, key, json.RawMessage(`[1]`), "dataforseo.serpData", nil, SetOptions{TTL: time.Hour})

	s.now = func() time.Time { return testNow.Add(59 * time.Minute) }
	_, ok := s.Get(ctx, key, GetOptions{})
	assert.True(t, ok)

	s.now = func() time.Time { return testNow.Add(61 * time.Minute) }
	_, ok = s.Get(ctx, key, GetOptions{})
	assert.False(t, ok)
	assert.False(t, entryExists(t, db, key))
	assert.Equal(t, 1, rec.misses[key])
}

func TestGetMaxHitsEviction(t *testing.T) {
	s, _, db := newTestStore(t)
	ctx := context.Background()
	key := cachekey.MustBuild("semrush.domainRank", cachekey.Params{"domain": "example.com"})

	s.Set(ctx, key, json.RawMessage(`"rank"`), "semrush.domainRank", nil, SetOptions{})

	const k = 3
	for i := 0; i < k; i++ {
		_, ok := s.Get(ctx, key, GetOptions{MaxHits: k})
		require.True(t, ok, "get %d", i+1)
	}

	_, ok := s.Get(ctx, key, GetOptions{MaxHits: k})
	assert.False(t, ok)
	assert.False(t, entryExists(t, db, key))
}

func TestGetMaxHitsFromConfig(t *testing.T) {
	s, _, db := newTestStore(t)
	ctx := context.Background()
	endpoint := "majestic.topPages"
	key := cachekey.MustBuild(endpoint, cachekey.Params{"item": "example.com"})

	maxHits := 1
	_, err := s.UpdateConfig(ctx, ConfigUpdate{Endpoint: endpoint, MaxHits: &maxHits})
	require.NoError(t, err)

	s.Set(ctx, key, json.RawMessage(`{}`), endpoint, nil, SetOptions{})
	_, ok := s.Get(ctx, key, GetOptions{})
	assert.True(t, ok)
	_, ok = s.Get(ctx, key, GetOptions{})
	assert.False(t, ok)
	assert.False(t, entryExists(t, db, key))
}

func TestSetReplacesResponseAndResetsHitCount(t *testing.T) {
	s, _, db := newTestStore(t)
	ctx := context.Background()
	key := cachekey.MustBuild("semrush.domainOverview", cachekey.Params{"domain": "example.com"})

	s.Set(ctx, key, json.RawMessage(`{"v":1}`), "semrush.domainOverview", nil, SetOptions{})
	s.Get(ctx, key, GetOptions{})
	s.Get(ctx, key, GetOptions{})

	s.Set(ctx, key, json.RawMessage(`{"v":2}`), "semrush.domainOverview", nil, SetOptions{UserID: "user-1"})

	var entry models.CacheEntry
	require.NoError(t, db.Where("cache_key = ?", key).Take(&entry).Error)
	assert.Zero(t, entry.HitCount)
	assert.JSONEq(t, `{"v":2}`, string(entry.Response))
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "user-1", *entry.UserID)

	var count int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSetUsesEndpointTTL(t *testing.T) {
	tests := []struct {
		endpoint string
		ttl      time.Duration
	}{
		{"dataforseo.serpData", 6 * time.Hour},
		{"dataforseo.keywordMetrics", 30 * 24 * time.Hour},
		{"majestic.newLostBacklinks", 6 * time.Hour},
		{"totally.new.endpoint", DefaultTTL},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			s, _, db := newTestStore(t)
			key := cachekey.MustBuild(tt.endpoint, nil)

			s.Set(context.Background(), key, json.RawMessage(`null`), tt.endpoint, nil, SetOptions{})

			var entry models.CacheEntry
			require.NoError(t, db.Where("cache_key = ?", key).Take(&entry).Error)
			assert.WithinDuration(t, testNow.Add(tt.ttl), entry.ExpiresAt, time.Second)
		})
	}
}

func TestGetConfigIsLazyAndIdempotent(t *testing.T) {
	s, _, db := newTestStore(t)
	ctx := context.Background()

	first := s.GetConfig(ctx, "totally.new.endpoint")
	second := s.GetConfig(ctx, "totally.new.endpoint")

	assert.Equal(t, int(DefaultTTL/time.Second), first.TTL)
	assert.True(t, first.IsActive)
	assert.Equal(t, DefaultPriority, first.Priority)
	assert.Nil(t, first.MaxHits)
	assert.Equal(t, first.TTL, second.TTL)

	var count int64
	require.NoError(t, db.Model(&models.CacheConfig{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetConfigFallsBackWhenStorageFails(t *testing.T) {
	s, _, db := newTestStore(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	cfg := s.GetConfig(context.Background(), "dataforseo.serpData")
	assert.Equal(t, int((6 * time.Hour).Seconds()), cfg.TTL)
}

func TestUpdateConfig(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	ttl := 2 * time.Hour
	maxHits := 10
	inactive := false
	cfg, err := s.UpdateConfig(ctx, ConfigUpdate{
		Endpoint: "majestic.anchorText",
		TTL:      &ttl,
		MaxHits:  &maxHits,
		IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, 7200, cfg.TTL)
	require.NotNil(t, cfg.MaxHits)
	assert.Equal(t, 10, *cfg.MaxHits)
	assert.False(t, cfg.IsActive)
	assert.Equal(t, DefaultPriority, cfg.Priority)

	cleared := 0
	cfg, err = s.UpdateConfig(ctx, ConfigUpdate{Endpoint: "majestic.anchorText", MaxHits: &cleared})
	require.NoError(t, err)
	assert.Nil(t, cfg.MaxHits)
	assert.Equal(t, 7200, cfg.TTL)
	assert.False(t, s.GetConfig(ctx, "majestic.anchorText").IsActive)
}

func TestUpdateConfigValidation(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.UpdateConfig(context.Background(), ConfigUpdate{})
	assert.Error(t, err)

	ttl := time.Millisecond
	_, err = s.UpdateConfig(context.Background(), ConfigUpdate{Endpoint: "majestic.topics", TTL: &ttl})
	assert.Error(t, err)
}

func TestInvalidate(t *testing.T) {
	s, _, db := newTestStore(t)
	ctx := context.Background()

	endpoints := []string{
		"majestic.backlinkData",
		"majestic.refDomains",
		"semrush.domainOrganic",
		"semrush.domainOrganicGross",
	}
	for _, ep := range endpoints {
		s.Set(ctx, cachekey.MustBuild(ep, nil), json.RawMessage(`1`), ep, nil, SetOptions{})
	}

	n, err := s.Invalidate(ctx, "domainOrganic")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Invalidate(ctx, "%")
	require.NoError(t, err)
	assert.Zero(t, n, "wildcards are matched literally")

	n, err = s.Invalidate(ctx, "majestic")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var count int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&count).Error)
	assert.Zero(t, count)

	_, err = s.Invalidate(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyPattern)
}

func TestCleanupExpired(t *testing.T) {
	s, _, db := newTestStore(t)
	ctx := context.Background()

	short := cachekey.MustBuild("dataforseo.serpData", cachekey.Params{"keyword": "a"})
	long := cachekey.MustBuild("dataforseo.serpData", cachekey.Params{"keyword": "b"})
	s.Set(ctx, short, json.RawMessage(`1`), "dataforseo.serpData", nil, SetOptions{TTL: time.Minute})
	s.Set(ctx, long, json.RawMessage(`2`), "dataforseo.serpData", nil, SetOptions{TTL: time.Hour})

	s.now = func() time.Time { return testNow.Add(10 * time.Minute) }
	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	assert.False(t, entryExists(t, db, short))
	assert.True(t, entryExists(t, db, long))
}

func TestOffloadLargePayloads(t *testing.T) {
	s, _, db := newTestStore(t)
	payloads := newMemoryStorage()
	s.EnableOffload(payloads, 16)
	ctx := context.Background()

	small := cachekey.MustBuild("majestic.topics", cachekey.Params{"item": "a.com"})
	large := cachekey.MustBuild("majestic.topics", cachekey.Params{"item": "b.com"})
	largeValue := json.RawMessage(`{"topics":["news","sports","science","travel"]}`)

	s.Set(ctx, small, json.RawMessage(`[]`), "majestic.topics", nil, SetOptions{})
	s.Set(ctx, large, largeValue, "majestic.topics", nil, SetOptions{})

	var entry models.CacheEntry
	require.NoError(t, db.Where("cache_key = ?", large).Take(&entry).Error)
	assert.Equal(t, payloadKey(large), entry.PayloadRef)
	assert.Empty(t, entry.Response)
	assert.Equal(t, int64(len(largeValue)), entry.SizeBytes)
	assert.Len(t, payloads.objects, 1)

	value, ok := s.Get(ctx, large, GetOptions{})
	require.True(t, ok)
	assert.JSONEq(t, string(largeValue), string(value))

	n, err := s.Invalidate(ctx, "majestic.topics")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, payloads.objects)
}

func TestOffloadFailureStoresInline(t *testing.T) {
	s, _, _ := newTestStore(t)
	payloads := newMemoryStorage()
	payloads.failPut = true
	s.EnableOffload(payloads, 4)
	ctx := context.Background()

	key := cachekey.MustBuild("majestic.hostedDomains", nil)
	s.Set(ctx, key, json.RawMessage(`{"hosted":true}`), "majestic.hostedDomains", nil, SetOptions{})

	value, ok := s.Get(ctx, key, GetOptions{})
	require.True(t, ok)
	assert.JSONEq(t, `{"hosted":true}`, string(value))
}

func TestGetTreatsStorageFailureAsMiss(t *testing.T) {
	s, rec, db := newTestStore(t)
	key := cachekey.MustBuild("majestic.backlinkData", nil)
	s.Set(context.Background(), key, json.RawMessage(`1`), "majestic.backlinkData", nil, SetOptions{})

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	var ok bool
	assert.NotPanics(t, func() {
		_, ok = s.Get(context.Background(), key, GetOptions{})
		s.Set(context.Background(), key, json.RawMessage(`2`), "majestic.backlinkData", nil, SetOptions{})
	})
	assert.False(t, ok)
	assert.Equal(t, 1, rec.misses[key])
}

func TestStats(t *testing.T) {
	db := dbtest.New(t)
	rows := []models.CacheStats{
		{Date: testNow.Truncate(24 * time.Hour), Endpoint: "majestic.topics", TotalRequests: 10, CacheHits: 6, CacheMisses: 4, APICalls: 4, AverageResponseTime: 100},
		{Date: testNow.Truncate(24 * time.Hour), Endpoint: "semrush.domainRank", TotalRequests: 10, CacheHits: 2, CacheMisses: 8, APICalls: 1, AverageResponseTime: 600},
		{Date: testNow.Add(-24 * time.Hour).Truncate(24 * time.Hour), Endpoint: "majestic.topics", TotalRequests: 5, CacheHits: 5},
	}
	require.NoError(t, db.Create(&rows).Error)
	s := NewStore(dbtest.Logger(), db, nil, newCountingRecorder())
	ctx := context.Background()

	all, err := s.Stats(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(25), all.TotalRequests)
	assert.Equal(t, int64(13), all.CacheHits)
	assert.InDelta(t, 13.0/25, all.HitRate, 1e-9)
	assert.InDelta(t, (100.0*4+600)/5, all.AverageResponseTime, 1e-9)

	today, err := s.Stats(ctx, "majestic.topics", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(10), today.TotalRequests)
	assert.InDelta(t, 0.6, today.HitRate, 1e-9)
	assert.InDelta(t, 100.0, today.AverageResponseTime, 1e-9)

	none, err := s.Stats(ctx, "dataforseo.trends", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, StatsSummary{}, none)
}
