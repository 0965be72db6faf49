package models

import (
	"time"
)

type CacheEntry struct {
	CacheKey     string `gorm:"primaryKey;type:varchar(512);not null"`
	Endpoint     string `gorm:"type:varchar(128);not null;index"`
	Parameters   JSON   `gorm:"not null"`
	Response     JSON
	PayloadRef   string    `gorm:"type:varchar(600)"`
	SizeBytes    int64     `gorm:"not null;default:0"`
	ExpiresAt    time.Time `gorm:"index;not null"`
	HitCount     int       `gorm:"not null;default:0"`
	LastAccessed time.Time `gorm:"index;not null"`
	UserID       *string   `gorm:"type:varchar(64);index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the entry is past its TTL at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

type CacheConfig struct {
	Endpoint  string    `gorm:"primaryKey;type:varchar(128);not null" json:"endpoint"`
	TTL       int       `gorm:"column:ttl;not null" json:"ttl"`
	MaxHits   *int      `json:"maxHits"`
	IsActive  bool      `gorm:"not null" json:"isActive"`
	Priority  int       `gorm:"not null;default:5" json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TTLDuration returns the configured TTL.
func (c CacheConfig) TTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

type CacheStats struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement"`
	Date                time.Time `gorm:"not null;uniqueIndex:idx_cache_stats_date_endpoint"`
	Endpoint            string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_cache_stats_date_endpoint"`
	TotalRequests       int64     `gorm:"not null;default:0"`
	CacheHits           int64     `gorm:"not null;default:0"`
	CacheMisses         int64     `gorm:"not null;default:0"`
	APICalls            int64     `gorm:"column:api_calls;not null;default:0"`
	AverageResponseTime float64   `gorm:"not null;default:0"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// APIUsageStats is a daily rollup per service, endpoint and user. UserID is
// empty for calls without an associated user.
type APIUsageStats struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement"`
	Date                time.Time `gorm:"not null;uniqueIndex:idx_api_usage_stats_bucket"`
	ServiceName         string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_api_usage_stats_bucket"`
	Endpoint            string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_api_usage_stats_bucket"`
	UserID              string    `gorm:"type:varchar(64);not null;default:'';uniqueIndex:idx_api_usage_stats_bucket;index"`
	TotalCalls          int64     `gorm:"not null;default:0"`
	AverageResponseTime float64   `gorm:"not null;default:0"`
	CacheHits           int64     `gorm:"not null;default:0"`
	CacheMisses         int64     `gorm:"not null;default:0"`
	Errors              int64     `gorm:"not null;default:0"`

	TotalMajesticIndexItemResUnitsUsed float64 `gorm:"not null;default:0"`
	TotalMajesticRetrievalResUnitsUsed float64 `gorm:"not null;default:0"`
	TotalMajesticAnalysisResUnitsUsed  float64 `gorm:"not null;default:0"`
	TotalDataforseoBalanceUsed         float64 `gorm:"not null;default:0"`
	TotalSemrushAPIUnitsUsed           float64 `gorm:"column:total_semrush_api_units_used;not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIUsageLog is an append-only audit row, one per provider call.
type APIUsageLog struct {
	ID            string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        *string `gorm:"type:varchar(64);index" json:"userId"`
	ServiceName   string  `gorm:"type:varchar(32);not null;index" json:"serviceName"`
	Endpoint      string  `gorm:"type:varchar(128);not null" json:"endpoint"`
	RequestParams JSON    `json:"requestParams"`
	ResponseTime  int64   `gorm:"not null" json:"responseTime"`
	Success       bool    `gorm:"not null" json:"success"`
	ErrorMessage  *string `json:"errorMessage"`
	CacheHit      bool    `gorm:"not null" json:"cacheHit"`

	MajesticIndexItemResUnitsUsed *float64 `json:"majesticIndexItemResUnitsUsed,omitempty"`
	MajesticRetrievalResUnitsUsed *float64 `json:"majesticRetrievalResUnitsUsed,omitempty"`
	MajesticAnalysisResUnitsUsed  *float64 `json:"majesticAnalysisResUnitsUsed,omitempty"`
	DataforseoBalanceUsed         *float64 `json:"dataforseoBalanceUsed,omitempty"`
	SemrushAPIUnitsUsed           *float64 `gorm:"column:semrush_api_units_used" json:"semrushApiUnitsUsed,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// User and UserOrder belong to the surrounding application. They are only
// read here, to label reports and derive whether a user has an active
// subscription.
type User struct {
	ID           string  `gorm:"primaryKey;type:varchar(64)"`
	Name         string  `gorm:"type:varchar(255)"`
	Email        string  `gorm:"type:varchar(255);not null"`
	Image        *string `gorm:"type:text"`
	LastActiveAt *time.Time
	Orders       []UserOrder `gorm:"foreignKey:UserID"`
}

const OrderStatusActive = "ACTIVE"

type UserOrder struct {
	ID     string `gorm:"primaryKey;type:varchar(64)"`
	UserID string `gorm:"type:varchar(64);not null;index"`
	Status string `gorm:"type:varchar(32);not null;index"`
}

func (CacheEntry) TableName() string {
	return "api_cache"
}

func (CacheConfig) TableName() string {
	return "cache_configs"
}

func (CacheStats) TableName() string {
	return "cache_stats"
}

func (APIUsageStats) TableName() string {
	return "api_usage_stats"
}

func (APIUsageLog) TableName() string {
	return "api_usage_logs"
}

// All lists every model migrated by this service.
func All() []any {
	return []any{
		&CacheEntry{},
		&CacheConfig{},
		&CacheStats{},
		&APIUsageStats{},
		&APIUsageLog{},
	}
}
