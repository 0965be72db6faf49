package usage

import (
	"context"
	"testing"
	"time"

	"github.com/pulserank/apicache/internal/cost"
	"github.com/pulserank/apicache/internal/database/dbtest"
	"github.com/pulserank/apicache/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedUsers(t *testing.T, db *gorm.DB) {
	t.Helper()
	users := []models.User{
		{ID: "user-1", Name: "Ada", Email: "ada@example.com"},
		{ID: "user-2", Email: "bob@example.com"},
	}
	require.NoError(t, db.Create(&users).Error)
	orders := []models.UserOrder{
		{ID: "order-1", UserID: "user-1", Status: models.OrderStatusActive},
		{ID: "order-2", UserID: "user-2", Status: "CANCELLED"},
	}
	require.NoError(t, db.Create(&orders).Error)
}

func seedUsage(t *testing.T, db *gorm.DB) *QueryService {
	t.Helper()
	seedUsers(t, db)

	r := NewRecorder(dbtest.Logger(), db, nil, true)
	r.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	calls := []Call{
		{Endpoint: "majestic.backlinkData", UserID: "user-1", ResponseTime: 100 * time.Millisecond, Credits: cost.MajesticCredits{RetrievalUnits: 100}},
		{Endpoint: "majestic.backlinkData", UserID: "user-1", ResponseTime: 300 * time.Millisecond, Credits: cost.MajesticCredits{RetrievalUnits: 100}},
		{Endpoint: "majestic.backlinkData", UserID: "user-2", ResponseTime: 5 * time.Millisecond, CacheHit: true, Credits: cost.MajesticCredits{}},
		{Endpoint: "semrush.domainOverview", UserID: "user-2", ResponseTime: 200 * time.Millisecond, Credits: cost.SEMrushCredits{APIUnitsUsed: 10}},
		{Endpoint: "dataforseo.serpData", ResponseTime: 50 * time.Millisecond, Err: assert.AnError, Credits: cost.DataForSEOCredits{BalanceUsed: 0.002}},
		{Endpoint: "majestic.backlinkData", UserID: "ghost", ResponseTime: 10 * time.Millisecond, Credits: cost.MajesticCredits{RetrievalUnits: 1}},
	}
	for _, c := range calls {
		r.RecordAPICall(ctx, c)
	}

	return NewQueryService(dbtest.Logger(), db, cost.DefaultPricing)
}

func window() Timeframe {
	return parseTimeframeAt("7d", fixedNow.Add(time.Hour))
}

func TestParseTimeframe(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		label string
		want  time.Duration
	}{
		{"1d", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
		{"90d", 90 * 24 * time.Hour},
		{"", 7 * 24 * time.Hour},
		{"forever", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			tf := parseTimeframeAt(tt.label, now)
			assert.Equal(t, now, tf.EndDate)
			assert.Equal(t, tt.want, tf.EndDate.Sub(tf.StartDate))
			assert.Equal(t, tt.label, tf.Label)
		})
	}
}

func TestServiceUsageStats(t *testing.T) {
	db := dbtest.New(t)
	q := seedUsage(t, db)

	stats, err := q.ServiceUsageStats(context.Background(), window())
	require.NoError(t, err)
	require.Len(t, stats, 3)

	backlinks := stats[0]
	assert.Equal(t, ServiceMajestic, backlinks.ServiceName)
	assert.Equal(t, "majestic.backlinkData", backlinks.Endpoint)
	assert.Equal(t, int64(4), backlinks.TotalCalls)
	assert.Equal(t, int64(1), backlinks.CacheHits)
	assert.Equal(t, int64(3), backlinks.CacheMisses)
	assert.Equal(t, 3, backlinks.UniqueUsers)
	assert.InDelta(t, 0.25, backlinks.HitRate, 1e-9)
	assert.InDelta(t, 201.0, backlinks.Majestic.RetrievalUnits, 1e-9)
	assert.InDelta(t, 2.01, backlinks.TotalCost, 1e-9)
	// user-1 rollup averages 200ms over 2 calls; the others are single calls.
	assert.InDelta(t, (200.0*2+5+10)/4, backlinks.AverageResponseTime, 1e-9)

	var serp ServiceUsage
	for _, s := range stats {
		if s.Endpoint == "dataforseo.serpData" {
			serp = s
		}
	}
	assert.Equal(t, ServiceDataForSEO, serp.ServiceName)
	assert.Equal(t, int64(1), serp.Errors)
	assert.InDelta(t, 1.0, serp.ErrorRate, 1e-9)
	assert.Zero(t, serp.UniqueUsers)
	assert.InDelta(t, 0.002, serp.TotalCost, 1e-9)
}

func TestServiceUsageStatsOutsideWindow(t *testing.T) {
	db := dbtest.New(t)
	q := seedUsage(t, db)

	stats, err := q.ServiceUsageStats(context.Background(), parseTimeframeAt("1d", fixedNow.Add(72*time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestUserUsageStats(t *testing.T) {
	db := dbtest.New(t)
	q := seedUsage(t, db)

	users, err := q.UserUsageStats(context.Background(), window())
	require.NoError(t, err)
	require.Len(t, users, 2, "unknown users are skipped")

	ada, bob := users[0], users[1]
	assert.Equal(t, "user-1", ada.UserID)
	assert.Equal(t, "Ada", ada.UserName)
	assert.True(t, ada.IsActive)
	assert.Equal(t, int64(2), ada.TotalCalls)
	require.Len(t, ada.Services, 1)
	assert.Equal(t, cost.MajesticCredits{RetrievalUnits: 200}, ada.Services[0].Credits)

	assert.Equal(t, "user-2", bob.UserID)
	assert.Equal(t, "bob@example.com", bob.UserName)
	assert.False(t, bob.IsActive)
	assert.Equal(t, int64(2), bob.TotalCalls)
	require.Len(t, bob.Services, 2)
	assert.Equal(t, ServiceMajestic, bob.Services[0].ServiceName)
	assert.Equal(t, ServiceSEMrush, bob.Services[1].ServiceName)
	assert.Equal(t, cost.SEMrushCredits{APIUnitsUsed: 10}, bob.Services[1].Credits)
	assert.InDelta(t, 0.1, bob.TotalCost, 1e-9)
}

func TestUsageSummary(t *testing.T) {
	db := dbtest.New(t)
	q := seedUsage(t, db)

	s, err := q.UsageSummary(context.Background(), window())
	require.NoError(t, err)

	assert.Equal(t, int64(6), s.TotalCalls)
	assert.Equal(t, 3, s.TotalUsers)
	assert.Equal(t, 1, s.ActiveUsers)
	assert.Equal(t, 3, s.Services)
	assert.InDelta(t, 1.0/6, s.CacheHitRate, 1e-9)
	assert.InDelta(t, 1.0/6, s.ErrorRate, 1e-9)
	assert.InDelta(t, (100.0+300+5+200+50+10)/6, s.AverageResponseTime, 1e-9)
	assert.InDelta(t, 201+10+0.002, s.TotalCreditsUsed, 1e-9)
	assert.InDelta(t, 2.01+0.1+0.002, s.TotalCost, 1e-9)
}

func TestUsageSummaryEmpty(t *testing.T) {
	q := NewQueryService(dbtest.Logger(), dbtest.New(t), cost.DefaultPricing)

	s, err := q.UsageSummary(context.Background(), window())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, s)
}

func TestUserAPILogs(t *testing.T) {
	db := dbtest.New(t)
	seedUsers(t, db)
	r := NewRecorder(dbtest.Logger(), db, nil, true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		at := fixedNow.Add(time.Duration(i) * time.Minute)
		r.now = func() time.Time { return at }
		r.RecordAPICall(ctx, Call{Endpoint: "majestic.topics", UserID: "user-1", ResponseTime: time.Duration(i) * time.Millisecond})
	}
	r.RecordAPICall(ctx, Call{Endpoint: "majestic.topics", UserID: "user-2"})

	q := NewQueryService(dbtest.Logger(), db, cost.DefaultPricing)

	logs, err := q.UserAPILogs(ctx, "user-1", window(), 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, int64(4), logs[0].ResponseTime)
	assert.Equal(t, int64(2), logs[2].ResponseTime)

	logs, err = q.UserAPILogs(ctx, "user-1", window(), 0)
	require.NoError(t, err)
	assert.Len(t, logs, 5)
}
