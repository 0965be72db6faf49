package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pulserank/apicache/internal/cost"
	"github.com/pulserank/apicache/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const DefaultLogLimit = 100

type Timeframe struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Label     string    `json:"timeframe"`
}

var timeframes = map[string]time.Duration{
	"1d":  24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// ParseTimeframe turns a dashboard label into a window ending now. Unknown
// labels fall back to seven days.
func ParseTimeframe(label string) Timeframe {
	return parseTimeframeAt(label, time.Now())
}

func parseTimeframeAt(label string, now time.Time) Timeframe {
	window, ok := timeframes[label]
	if !ok {
		window = timeframes["7d"]
	}
	now = now.UTC()
	return Timeframe{
		StartDate: now.Add(-window),
		EndDate:   now,
		Label:     label,
	}
}

// CreditTotals is the per-provider credit consumption of a set of rollups.
type CreditTotals struct {
	Majestic   cost.MajesticCredits   `json:"majesticCredits"`
	DataForSEO cost.DataForSEOCredits `json:"dataforseoCredits"`
	SEMrush    cost.SEMrushCredits    `json:"semrushCredits"`
}

func creditsOf(row models.APIUsageStats) CreditTotals {
	return CreditTotals{
		Majestic: cost.MajesticCredits{
			IndexItemUnits: row.TotalMajesticIndexItemResUnitsUsed,
			RetrievalUnits: row.TotalMajesticRetrievalResUnitsUsed,
			AnalysisUnits:  row.TotalMajesticAnalysisResUnitsUsed,
		},
		DataForSEO: cost.DataForSEOCredits{BalanceUsed: row.TotalDataforseoBalanceUsed},
		SEMrush:    cost.SEMrushCredits{APIUnitsUsed: row.TotalSemrushAPIUnitsUsed},
	}
}

func (c CreditTotals) Add(o CreditTotals) CreditTotals {
	return CreditTotals{
		Majestic:   c.Majestic.Add(o.Majestic),
		DataForSEO: cost.DataForSEOCredits{BalanceUsed: c.DataForSEO.BalanceUsed + o.DataForSEO.BalanceUsed},
		SEMrush:    cost.SEMrushCredits{APIUnitsUsed: c.SEMrush.APIUnitsUsed + o.SEMrush.APIUnitsUsed},
	}
}

// Total sums raw units across providers. The vocabularies differ, so this is
// only meaningful as a coarse activity figure.
func (c CreditTotals) Total() float64 {
	return c.Majestic.Total() + c.DataForSEO.Total() + c.SEMrush.Total()
}

func (c CreditTotals) USD(p cost.Pricing) float64 {
	return p.USD(c.Majestic) + p.USD(c.DataForSEO) + p.USD(c.SEMrush)
}

// For returns the breakdown of a single service, or nil for an unknown one.
func (c CreditTotals) For(service string) cost.Credits {
	switch service {
	case ServiceMajestic:
		return c.Majestic
	case ServiceDataForSEO:
		return c.DataForSEO
	case ServiceSEMrush:
		return c.SEMrush
	default:
		return nil
	}
}

type ServiceUsage struct {
	ServiceName           string  `json:"serviceName"`
	Endpoint              string  `json:"endpoint"`
	TotalCalls            int64   `json:"totalCalls"`
	TotalCreditsUsed      float64 `json:"totalCreditsUsed"`
	TotalCost             float64 `json:"totalCost"`
	AverageResponseTime   float64 `json:"averageResponseTime"`
	CacheHits             int64   `json:"cacheHits"`
	CacheMisses           int64   `json:"cacheMisses"`
	Errors                int64   `json:"errors"`
	UniqueUsers           int     `json:"uniqueUsers"`
	HitRate               float64 `json:"hitRate"`
	ErrorRate             float64 `json:"errorRate"`
	AverageCreditsPerCall float64 `json:"averageCreditsPerCall"`
	AverageCostPerCall    float64 `json:"averageCostPerCall"`
	CreditTotals
}

type ServiceCredits struct {
	ServiceName string       `json:"serviceName"`
	TotalCalls  int64        `json:"totalCalls"`
	Credits     cost.Credits `json:"credits,omitempty"`
}

type UserUsage struct {
	UserID           string           `json:"userId"`
	UserName         string           `json:"userName"`
	UserEmail        string           `json:"userEmail"`
	UserImage        *string          `json:"userImage"`
	TotalCalls       int64            `json:"totalCalls"`
	TotalCreditsUsed float64          `json:"totalCreditsUsed"`
	TotalCost        float64          `json:"totalCost"`
	Services         []ServiceCredits `json:"services"`
	LastActiveAt     *time.Time       `json:"lastActiveAt"`
	IsActive         bool             `json:"isActive"`
}

type Summary struct {
	TotalCalls          int64   `json:"totalCalls"`
	TotalCreditsUsed    float64 `json:"totalCreditsUsed"`
	TotalCost           float64 `json:"totalCost"`
	TotalUsers          int     `json:"totalUsers"`
	ActiveUsers         int     `json:"activeUsers"`
	Services            int     `json:"services"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	CacheHitRate        float64 `json:"cacheHitRate"`
	ErrorRate           float64 `json:"errorRate"`
}

// QueryService is the read side over the usage rollups. It never writes.
type QueryService struct {
	db      *gorm.DB
	log     *logrus.Entry
	pricing cost.Pricing
}

func NewQueryService(logger *logrus.Logger, db *gorm.DB, pricing cost.Pricing) *QueryService {
	return &QueryService{
		db:      db,
		log:     logger.WithField("component", "usage_query"),
		pricing: pricing,
	}
}

func (q *QueryService) rollups(ctx context.Context, tf Timeframe, withUserOnly bool) ([]models.APIUsageStats, error) {
	query := q.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", Day(tf.StartDate), tf.EndDate.UTC())
	if withUserOnly {
		query = query.Where("user_id <> ?", "")
	}

	var rows []models.APIUsageStats
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load usage stats: %w", err)
	}
	return rows, nil
}

// users loads the referenced users together with their active orders.
func (q *QueryService) users(ctx context.Context, rows []models.APIUsageStats) (map[string]models.User, error) {
	ids := make([]string, 0, len(rows))
	seen := make(map[string]struct{})
	for _, row := range rows {
		if row.UserID == "" {
			continue
		}
		if _, ok := seen[row.UserID]; ok {
			continue
		}
		seen[row.UserID] = struct{}{}
		ids = append(ids, row.UserID)
	}
	if len(ids) == 0 {
		return map[string]models.User{}, nil
	}

	var users []models.User
	err := q.db.WithContext(ctx).
		Preload("Orders", "status = ?", models.OrderStatusActive).
		Where("id IN ?", ids).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}

// ServiceUsageStats groups the window's rollups by service and endpoint,
// busiest first.
func (q *QueryService) ServiceUsageStats(ctx context.Context, tf Timeframe) ([]ServiceUsage, error) {
	rows, err := q.rollups(ctx, tf, false)
	if err != nil {
		return nil, err
	}

	type group struct {
		usage     ServiceUsage
		weightSum float64
		users     map[string]struct{}
	}
	groups := make(map[string]*group)
	for _, row := range rows {
		key := row.ServiceName + "|" + row.Endpoint
		g, ok := groups[key]
		if !ok {
			g = &group{
				usage: ServiceUsage{ServiceName: row.ServiceName, Endpoint: row.Endpoint},
				users: make(map[string]struct{}),
			}
			groups[key] = g
		}
		g.usage.TotalCalls += row.TotalCalls
		g.usage.CacheHits += row.CacheHits
		g.usage.CacheMisses += row.CacheMisses
		g.usage.Errors += row.Errors
		g.usage.CreditTotals = g.usage.CreditTotals.Add(creditsOf(row))
		g.weightSum += row.AverageResponseTime * float64(row.TotalCalls)
		if row.UserID != "" {
			g.users[row.UserID] = struct{}{}
		}
	}

	out := make([]ServiceUsage, 0, len(groups))
	for _, g := range groups {
		u := g.usage
		u.TotalCreditsUsed = u.CreditTotals.Total()
		u.TotalCost = u.CreditTotals.USD(q.pricing)
		u.UniqueUsers = len(g.users)
		if u.TotalCalls > 0 {
			calls := float64(u.TotalCalls)
			u.AverageResponseTime = g.weightSum / calls
			u.HitRate = float64(u.CacheHits) / calls
			u.ErrorRate = float64(u.Errors) / calls
			u.AverageCreditsPerCall = u.TotalCreditsUsed / calls
			u.AverageCostPerCall = u.TotalCost / calls
		}
		out = append(out, u)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCalls != out[j].TotalCalls {
			return out[i].TotalCalls > out[j].TotalCalls
		}
		if out[i].ServiceName != out[j].ServiceName {
			return out[i].ServiceName < out[j].ServiceName
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	return out, nil
}

// UserUsageStats groups the window's attributed rollups by user. Rollups of
// users that no longer exist are skipped.
func (q *QueryService) UserUsageStats(ctx context.Context, tf Timeframe) ([]UserUsage, error) {
	rows, err := q.rollups(ctx, tf, true)
	if err != nil {
		return nil, err
	}
	users, err := q.users(ctx, rows)
	if err != nil {
		return nil, err
	}

	type group struct {
		usage    UserUsage
		credits  CreditTotals
		services map[string]*ServiceCredits
		perSvc   map[string]CreditTotals
	}
	groups := make(map[string]*group)
	for _, row := range rows {
		user, ok := users[row.UserID]
		if !ok {
			q.log.WithField("user_id", row.UserID).Debug("Skipping usage of unknown user")
			continue
		}

		g, ok := groups[row.UserID]
		if !ok {
			name := user.Name
			if name == "" {
				name = user.Email
			}
			g = &group{
				usage: UserUsage{
					UserID:       user.ID,
					UserName:     name,
					UserEmail:    user.Email,
					UserImage:    user.Image,
					LastActiveAt: user.LastActiveAt,
					IsActive:     len(user.Orders) > 0,
				},
				services: make(map[string]*ServiceCredits),
				perSvc:   make(map[string]CreditTotals),
			}
			groups[row.UserID] = g
		}

		rowCredits := creditsOf(row)
		g.usage.TotalCalls += row.TotalCalls
		g.credits = g.credits.Add(rowCredits)

		svc, ok := g.services[row.ServiceName]
		if !ok {
			svc = &ServiceCredits{ServiceName: row.ServiceName}
			g.services[row.ServiceName] = svc
		}
		svc.TotalCalls += row.TotalCalls
		g.perSvc[row.ServiceName] = g.perSvc[row.ServiceName].Add(rowCredits)
	}

	out := make([]UserUsage, 0, len(groups))
	for _, g := range groups {
		u := g.usage
		u.TotalCreditsUsed = g.credits.Total()
		u.TotalCost = g.credits.USD(q.pricing)
		u.Services = make([]ServiceCredits, 0, len(g.services))
		for name, svc := range g.services {
			svc.Credits = g.perSvc[name].For(name)
			u.Services = append(u.Services, *svc)
		}
		sort.Slice(u.Services, func(i, j int) bool {
			return u.Services[i].ServiceName < u.Services[j].ServiceName
		})
		out = append(out, u)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCalls != out[j].TotalCalls {
			return out[i].TotalCalls > out[j].TotalCalls
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// UsageSummary aggregates the whole window. Average response time is
// weighted by call count.
func (q *QueryService) UsageSummary(ctx context.Context, tf Timeframe) (Summary, error) {
	rows, err := q.rollups(ctx, tf, false)
	if err != nil {
		return Summary{}, err
	}
	users, err := q.users(ctx, rows)
	if err != nil {
		return Summary{}, err
	}

	var (
		s         Summary
		credits   CreditTotals
		weightSum float64
		hits      int64
		errs      int64
	)
	userSet := make(map[string]struct{})
	activeSet := make(map[string]struct{})
	serviceSet := make(map[string]struct{})

	for _, row := range rows {
		s.TotalCalls += row.TotalCalls
		credits = credits.Add(creditsOf(row))
		weightSum += row.AverageResponseTime * float64(row.TotalCalls)
		hits += row.CacheHits
		errs += row.Errors
		serviceSet[row.ServiceName] = struct{}{}

		if row.UserID == "" {
			continue
		}
		userSet[row.UserID] = struct{}{}
		if u, ok := users[row.UserID]; ok && len(u.Orders) > 0 {
			activeSet[row.UserID] = struct{}{}
		}
	}

	s.TotalCreditsUsed = credits.Total()
	s.TotalCost = credits.USD(q.pricing)
	s.TotalUsers = len(userSet)
	s.ActiveUsers = len(activeSet)
	s.Services = len(serviceSet)
	if s.TotalCalls > 0 {
		calls := float64(s.TotalCalls)
		s.AverageResponseTime = weightSum / calls
		s.CacheHitRate = float64(hits) / calls
		s.ErrorRate = float64(errs) / calls
	}
	return s, nil
}

// UserAPILogs returns a user's audit rows in the window, newest first. A
// non-positive limit means DefaultLogLimit.
func (q *QueryService) UserAPILogs(ctx context.Context, userID string, tf Timeframe, limit int) ([]models.APIUsageLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	var logs []models.APIUsageLog
	err := q.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ? AND created_at <= ?", userID, tf.StartDate.UTC(), tf.EndDate.UTC()).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load usage logs for user %s: %w", userID, err)
	}
	return logs, nil
}
