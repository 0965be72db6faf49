package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	// TLSSelfSigned serves HTTPS with a generated certificate when no
	// certificate files are configured.
	TLSSelfSigned bool
	LogLevel      string
	LogFormat     string

	DatabaseDriver   string
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string
	SQLitePath       string

	CacheDefaultTTL        time.Duration
	CacheCleanupInterval   time.Duration
	CachePolicyFile        string
	CacheSingleFlight      bool
	CacheOffloadThreshold  int
	UsageLogCalls          bool
	RateLimit              int
	RateLimitWindow        time.Duration
	ProviderRateLimit      float64
	ProviderRequestTimeout time.Duration

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	MajesticAPIKey     string
	DataForSEOLogin    string
	DataForSEOPassword string
	SEMrushAPIKey      string
}

// Load reads configuration from the environment, after merging any .env
// files found in the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		TLSCertFile:   getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:    getEnv("TLS_KEY_FILE", ""),
		TLSSelfSigned: getEnvBool("TLS_SELF_SIGNED", false),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),

		DatabaseDriver:   strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		PostgresUser:     getEnv("POSTGRES_USER", "pulserank"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase: getEnv("POSTGRES_DATABASE", "pulserank"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
		SQLitePath:       getEnv("SQLITE_PATH", "apicache.db"),

		CacheDefaultTTL:        getEnvDuration("CACHE_DEFAULT_TTL", 24*time.Hour),
		CacheCleanupInterval:   getEnvDuration("CACHE_CLEANUP_INTERVAL", 30*time.Minute),
		CachePolicyFile:        getEnv("CACHE_POLICY_FILE", ""),
		CacheSingleFlight:      getEnvBool("CACHE_SINGLE_FLIGHT", true),
		CacheOffloadThreshold:  getEnvInt("CACHE_OFFLOAD_THRESHOLD", 256*1024),
		UsageLogCalls:          getEnvBool("USAGE_LOG_CALLS", true),
		RateLimit:              getEnvInt("RATE_LIMIT", 100),
		RateLimitWindow:        getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		ProviderRateLimit:      getEnvFloat("PROVIDER_RATE_LIMIT", 5),
		ProviderRequestTimeout: getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 60*time.Second),

		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		MajesticAPIKey:     getEnv("MAJESTIC_API_KEY", ""),
		DataForSEOLogin:    getEnv("DATAFORSEO_LOGIN", ""),
		DataForSEOPassword: getEnv("DATAFORSEO_PASSWORD", ""),
		SEMrushAPIKey:      getEnv("SEMRUSH_API_KEY", ""),
	}
}

// OffloadEnabled reports whether large cached responses go to S3.
func (c *Config) OffloadEnabled() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
