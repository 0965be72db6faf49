package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulserank/apicache/internal/cachekey"
	"github.com/pulserank/apicache/internal/cost"
	"github.com/pulserank/apicache/internal/database/dbtest"
	"github.com/pulserank/apicache/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

func newTestRecorder(t *testing.T, logCalls bool) (*Recorder, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	r := NewRecorder(dbtest.Logger(), db, nil, logCalls)
	r.now = func() time.Time { return fixedNow }
	return r, db
}

func loadCacheStats(t *testing.T, db *gorm.DB, endpoint string) models.CacheStats {
	t.Helper()
	var row models.CacheStats
	require.NoError(t, db.Where("endpoint = ?", endpoint).First(&row).Error)
	return row
}

func TestServiceName(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"majestic.backlinkData", ServiceMajestic},
		{"dataforseo.serpData", ServiceDataForSEO},
		{"semrush.domainOverview", ServiceSEMrush},
		{"ahrefs.backlinks", ServiceUnknown},
		{"", ServiceUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, ServiceName(tt.endpoint))
		})
	}
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	local := time.Date(2024, 3, 16, 5, 0, 0, 0, loc)

	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), Day(local))
	assert.Equal(t, Day(fixedNow), Day(Day(fixedNow)))
}

func TestRecordHitAndMiss(t *testing.T) {
	r, db := newTestRecorder(t, false)
	ctx := context.Background()
	key := cachekey.MustBuild("majestic.backlinkData", cachekey.Params{"item": "example.com"})

	r.RecordMiss(ctx, key)
	r.RecordHit(ctx, key)
	r.RecordHit(ctx, key)

	row := loadCacheStats(t, db, "majestic.backlinkData")
	assert.Equal(t, int64(3), row.TotalRequests)
	assert.Equal(t, int64(2), row.CacheHits)
	assert.Equal(t, int64(1), row.CacheMisses)
	assert.Equal(t, row.TotalRequests, row.CacheHits+row.CacheMisses)
	assert.True(t, row.Date.Equal(Day(fixedNow)))
}

func TestRecordLookupBucketsByDay(t *testing.T) {
	r, db := newTestRecorder(t, false)
	ctx := context.Background()
	key := cachekey.MustBuild("semrush.domainRank", nil)

	r.RecordMiss(ctx, key)
	r.now = func() time.Time { return fixedNow.Add(24 * time.Hour) }
	r.RecordMiss(ctx, key)

	var count int64
	require.NoError(t, db.Model(&models.CacheStats{}).Where("endpoint = ?", "semrush.domainRank").Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRecordAPICallRunningAverage(t *testing.T) {
	r, db := newTestRecorder(t, false)
	ctx := context.Background()

	for _, ms := range []int{100, 200, 300} {
		r.RecordAPICall(ctx, Call{
			Endpoint:     "dataforseo.serpData",
			ResponseTime: time.Duration(ms) * time.Millisecond,
		})
	}

	row := loadCacheStats(t, db, "dataforseo.serpData")
	assert.Equal(t, int64(3), row.APICalls)
	assert.InDelta(t, 200.0, row.AverageResponseTime, 1e-9)
	assert.Zero(t, row.TotalRequests)

	var usageRows int64
	require.NoError(t, db.Model(&models.APIUsageStats{}).Count(&usageRows).Error)
	assert.Zero(t, usageRows, "calls without credits skip the fine-grained rollup")
}

func TestRecordAPICallCacheHitSkipsUpstreamCounters(t *testing.T) {
	r, db := newTestRecorder(t, false)
	ctx := context.Background()

	r.RecordAPICall(ctx, Call{
		Endpoint:     "semrush.domainOverview",
		ResponseTime: 3 * time.Millisecond,
		CacheHit:     true,
		Credits:      cost.SEMrushCredits{},
	})

	var stats int64
	require.NoError(t, db.Model(&models.CacheStats{}).Count(&stats).Error)
	assert.Zero(t, stats)

	var row models.APIUsageStats
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, int64(1), row.TotalCalls)
	assert.Equal(t, int64(1), row.CacheHits)
	assert.Zero(t, row.CacheMisses)
	assert.Zero(t, row.TotalSemrushAPIUnitsUsed)
}

func TestRecordAPICallCreditsAreAdditive(t *testing.T) {
	r, db := newTestRecorder(t, false)
	ctx := context.Background()

	calls := []cost.MajesticCredits{
		{RetrievalUnits: 100},
		{RetrievalUnits: 50, AnalysisUnits: 1000},
		{IndexItemUnits: 3},
	}
	for _, c := range calls {
		r.RecordAPICall(ctx, Call{
			Endpoint:     "majestic.refDomains",
			UserID:       "user-1",
			ResponseTime: 10 * time.Millisecond,
			Credits:      c,
		})
	}

	var row models.APIUsageStats
	require.NoError(t, db.Where("user_id = ?", "user-1").First(&row).Error)
	assert.Equal(t, ServiceMajestic, row.ServiceName)
	assert.Equal(t, int64(3), row.TotalCalls)
	assert.Equal(t, int64(3), row.CacheMisses)
	assert.InDelta(t, 150.0, row.TotalMajesticRetrievalResUnitsUsed, 1e-9)
	assert.InDelta(t, 1000.0, row.TotalMajesticAnalysisResUnitsUsed, 1e-9)
	assert.InDelta(t, 3.0, row.TotalMajesticIndexItemResUnitsUsed, 1e-9)
	assert.Zero(t, row.TotalDataforseoBalanceUsed)
	assert.Zero(t, row.TotalSemrushAPIUnitsUsed)
}

func TestRecordAPICallSeparatesUsers(t *testing.T) {
	r, db := newTestRecorder(t, false)
	ctx := context.Background()

	for _, user := range []string{"", "user-1", "user-1", "user-2"} {
		r.RecordAPICall(ctx, Call{
			Endpoint: "dataforseo.keywordMetrics",
			UserID:   user,
			Credits:  cost.DataForSEOCredits{BalanceUsed: 0.05},
		})
	}

	var rows []models.APIUsageStats
	require.NoError(t, db.Order("user_id").Find(&rows).Error)
	require.Len(t, rows, 3)
	assert.Equal(t, "", rows[0].UserID)
	assert.Equal(t, int64(2), rows[1].TotalCalls)
	assert.InDelta(t, 0.10, rows[1].TotalDataforseoBalanceUsed, 1e-9)
}

func TestRecordAPICallErrors(t *testing.T) {
	r, db := newTestRecorder(t, true)
	ctx := context.Background()

	r.RecordAPICall(ctx, Call{
		Endpoint:      "semrush.keywordAnalytics",
		UserID:        "user-1",
		ResponseTime:  42 * time.Millisecond,
		Err:           errors.New("upstream returned 500"),
		RequestParams: cachekey.Params{"phrase": "seo"},
		Credits:       cost.SEMrushCredits{APIUnitsUsed: 10},
	})

	var row models.APIUsageStats
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, int64(1), row.Errors)

	var entry models.APIUsageLog
	require.NoError(t, db.First(&entry).Error)
	assert.Len(t, entry.ID, 36)
	assert.False(t, entry.Success)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "upstream returned 500", *entry.ErrorMessage)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "user-1", *entry.UserID)
	assert.Equal(t, int64(42), entry.ResponseTime)
	require.NotNil(t, entry.SemrushAPIUnitsUsed)
	assert.InDelta(t, 10.0, *entry.SemrushAPIUnitsUsed, 1e-9)
	assert.Nil(t, entry.MajesticRetrievalResUnitsUsed)
	assert.JSONEq(t, `{"phrase":"seo"}`, string(entry.RequestParams))
}

func TestRecordAPICallWithoutCallLogging(t *testing.T) {
	r, db := newTestRecorder(t, false)

	r.RecordAPICall(context.Background(), Call{Endpoint: "majestic.topics"})

	var count int64
	require.NoError(t, db.Model(&models.APIUsageLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecorderSwallowsStorageErrors(t *testing.T) {
	r, db := newTestRecorder(t, true)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	assert.NotPanics(t, func() {
		r.RecordHit(context.Background(), "majestic.topics:abc")
		r.RecordAPICall(context.Background(), Call{
			Endpoint: "majestic.topics",
			Credits:  cost.MajesticCredits{AnalysisUnits: 1},
		})
	})
}
