package usage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pulserank/apicache/internal/cachekey"
	"github.com/pulserank/apicache/internal/cost"
	"github.com/pulserank/apicache/internal/metrics"
	"github.com/pulserank/apicache/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ServiceMajestic   = "Majestic"
	ServiceDataForSEO = "DataForSeo"
	ServiceSEMrush    = "SEMRush"
	ServiceUnknown    = "unknown"
)

// ServiceName maps an endpoint to the service label used in rollups.
func ServiceName(endpoint string) string {
	switch cost.ProviderOf(endpoint) {
	case cost.Majestic:
		return ServiceMajestic
	case cost.DataForSEO:
		return ServiceDataForSEO
	case cost.SEMrush:
		return ServiceSEMrush
	default:
		return ServiceUnknown
	}
}

// Day returns the UTC calendar day bucket containing t.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Call describes one provider call, or one request served from cache, for
// accounting.
type Call struct {
	Endpoint      string
	ResponseTime  time.Duration
	UserID        string
	Err           error
	CacheHit      bool
	RequestParams cachekey.Params
	// Credits selects the fine-grained rollup. Nil skips it.
	Credits cost.Credits
}

// Recorder owns the CacheStats, APIUsageStats and APIUsageLog tables. Every
// write is a single atomic upsert or insert and every failure is logged and
// dropped: accounting never fails the request that triggered it.
type Recorder struct {
	db       *gorm.DB
	log      *logrus.Entry
	metrics  *metrics.Metrics
	logCalls bool
	now      func() time.Time
}

func NewRecorder(logger *logrus.Logger, db *gorm.DB, m *metrics.Metrics, logCalls bool) *Recorder {
	return &Recorder{
		db:       db,
		log:      logger.WithField("component", "usage_recorder"),
		metrics:  m,
		logCalls: logCalls,
		now:      time.Now,
	}
}

func (r *Recorder) RecordHit(ctx context.Context, cacheKey string) {
	r.recordLookup(ctx, cacheKey, true)
}

func (r *Recorder) RecordMiss(ctx context.Context, cacheKey string) {
	r.recordLookup(ctx, cacheKey, false)
}

func (r *Recorder) recordLookup(ctx context.Context, cacheKey string, hit bool) {
	endpoint := cachekey.Endpoint(cacheKey)
	r.metrics.CacheLookup(endpoint, hit)

	row := models.CacheStats{
		Date:          Day(r.now()),
		Endpoint:      endpoint,
		TotalRequests: 1,
	}
	counter := "cache_misses"
	if hit {
		counter = "cache_hits"
		row.CacheHits = 1
	} else {
		row.CacheMisses = 1
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "endpoint"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_requests": gorm.Expr("cache_stats.total_requests + 1"),
			counter:          gorm.Expr("cache_stats." + counter + " + 1"),
			"updated_at":     r.now(),
		}),
	}).Create(&row).Error
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"operation": "record_lookup",
			"endpoint":  endpoint,
			"hit":       hit,
		}).WithError(err).Warn("Failed to record cache lookup")
	}
}

// RecordAPICall accounts for one call. Upstream calls bump the day's
// CacheStats call counter and running mean; when Credits is set the
// service/endpoint/user rollup is incremented too, and an audit row is
// appended if call logging is on.
func (r *Recorder) RecordAPICall(ctx context.Context, call Call) {
	service := ServiceName(call.Endpoint)
	ms := float64(call.ResponseTime.Milliseconds())
	log := r.log.WithFields(logrus.Fields{
		"endpoint": call.Endpoint,
		"service":  service,
	})

	if !call.CacheHit {
		r.metrics.UpstreamCall(service, call.Endpoint, call.ResponseTime, call.Err)
		if err := r.recordUpstreamCall(ctx, call.Endpoint, ms); err != nil {
			log.WithField("operation", "record_api_call").WithError(err).Warn("Failed to update cache stats")
		}
	}

	if call.Credits != nil {
		if err := r.recordUsageStats(ctx, service, call, ms); err != nil {
			log.WithField("operation", "record_usage_stats").WithError(err).Warn("Failed to update usage stats")
		}
	}

	if r.logCalls {
		if err := r.appendLog(ctx, service, call); err != nil {
			log.WithField("operation", "append_usage_log").WithError(err).Warn("Failed to append usage log")
		}
	}
}

func (r *Recorder) recordUpstreamCall(ctx context.Context, endpoint string, ms float64) error {
	row := models.CacheStats{
		Date:                Day(r.now()),
		Endpoint:            endpoint,
		APICalls:            1,
		AverageResponseTime: ms,
	}

	// Both assignments read the pre-update row, so the mean is
	// (avg*n + sample) / (n+1) without an application-side read.
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "endpoint"}},
		DoUpdates: clause.Assignments(map[string]any{
			"api_calls": gorm.Expr("cache_stats.api_calls + 1"),
			"average_response_time": gorm.Expr(
				"(cache_stats.average_response_time * cache_stats.api_calls + ?) / (cache_stats.api_calls + 1)", ms),
			"updated_at": r.now(),
		}),
	}).Create(&row).Error
}

func (r *Recorder) recordUsageStats(ctx context.Context, service string, call Call, ms float64) error {
	row := models.APIUsageStats{
		Date:                Day(r.now()),
		ServiceName:         service,
		Endpoint:            call.Endpoint,
		UserID:              call.UserID,
		TotalCalls:          1,
		AverageResponseTime: ms,
	}

	updates := map[string]any{
		"total_calls": gorm.Expr("api_usage_stats.total_calls + 1"),
		"average_response_time": gorm.Expr(
			"(api_usage_stats.average_response_time * api_usage_stats.total_calls + ?) / (api_usage_stats.total_calls + 1)", ms),
		"updated_at": r.now(),
	}

	if call.CacheHit {
		row.CacheHits = 1
		updates["cache_hits"] = gorm.Expr("api_usage_stats.cache_hits + 1")
	} else {
		row.CacheMisses = 1
		updates["cache_misses"] = gorm.Expr("api_usage_stats.cache_misses + 1")
	}
	if call.Err != nil {
		row.Errors = 1
		updates["errors"] = gorm.Expr("api_usage_stats.errors + 1")
	}

	for column, amount := range creditColumns(call.Credits) {
		if amount == 0 {
			continue
		}
		setCreditField(&row, column, amount)
		updates[column] = gorm.Expr("api_usage_stats."+column+" + ?", amount)
		r.metrics.Credits(service, column, amount)
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "date"}, {Name: "service_name"}, {Name: "endpoint"}, {Name: "user_id"},
		},
		DoUpdates: clause.Assignments(updates),
	}).Create(&row).Error
}

func (r *Recorder) appendLog(ctx context.Context, service string, call Call) error {
	entry := models.APIUsageLog{
		ID:           uuid.NewString(),
		ServiceName:  service,
		Endpoint:     call.Endpoint,
		ResponseTime: call.ResponseTime.Milliseconds(),
		Success:      call.Err == nil,
		CacheHit:     call.CacheHit,
		CreatedAt:    r.now().UTC(),
	}
	if call.UserID != "" {
		entry.UserID = &call.UserID
	}
	if call.Err != nil {
		msg := call.Err.Error()
		entry.ErrorMessage = &msg
	}
	if call.RequestParams != nil {
		if raw, err := json.Marshal(call.RequestParams); err == nil {
			entry.RequestParams = models.JSON(raw)
		}
	}

	switch c := call.Credits.(type) {
	case cost.MajesticCredits:
		entry.MajesticIndexItemResUnitsUsed = &c.IndexItemUnits
		entry.MajesticRetrievalResUnitsUsed = &c.RetrievalUnits
		entry.MajesticAnalysisResUnitsUsed = &c.AnalysisUnits
	case cost.DataForSEOCredits:
		entry.DataforseoBalanceUsed = &c.BalanceUsed
	case cost.SEMrushCredits:
		entry.SemrushAPIUnitsUsed = &c.APIUnitsUsed
	}

	return r.db.WithContext(ctx).Create(&entry).Error
}

// creditColumns maps a breakdown onto its rollup columns. Each provider only
// ever touches its own columns.
func creditColumns(c cost.Credits) map[string]float64 {
	switch v := c.(type) {
	case cost.MajesticCredits:
		return map[string]float64{
			"total_majestic_index_item_res_units_used": v.IndexItemUnits,
			"total_majestic_retrieval_res_units_used":  v.RetrievalUnits,
			"total_majestic_analysis_res_units_used":   v.AnalysisUnits,
		}
	case cost.DataForSEOCredits:
		return map[string]float64{"total_dataforseo_balance_used": v.BalanceUsed}
	case cost.SEMrushCredits:
		return map[string]float64{"total_semrush_api_units_used": v.APIUnitsUsed}
	default:
		return nil
	}
}

func setCreditField(row *models.APIUsageStats, column string, amount float64) {
	switch column {
	case "total_majestic_index_item_res_units_used":
		row.TotalMajesticIndexItemResUnitsUsed = amount
	case "total_majestic_retrieval_res_units_used":
		row.TotalMajesticRetrievalResUnitsUsed = amount
	case "total_majestic_analysis_res_units_used":
		row.TotalMajesticAnalysisResUnitsUsed = amount
	case "total_dataforseo_balance_used":
		row.TotalDataforseoBalanceUsed = amount
	case "total_semrush_api_units_used":
		row.TotalSemrushAPIUnitsUsed = amount
	}
}
