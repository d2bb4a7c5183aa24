// Package config loads application settings from environment variables
// with defaults, and validates them on startup.
package config

import (
	"strconv"
	"time"

	"github.com/JonMunkholm/maintrack/internal/core"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	S3        S3Config
	Import    ImportConfig
	WorkOrder WorkOrderConfig
	Audit     AuditConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds the wait for in-flight imports and requests.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// StoreConfig selects where the dataset is kept.
type StoreConfig struct {
	// Driver is sqlite, postgres or s3.
	Driver string `env:"STORE_DRIVER" default:"sqlite"`

	SQLitePath string `env:"SQLITE_PATH" default:"maintrack.db"`

	// KeepSnapshots is how many replaced datasets each store retains.
	KeepSnapshots int `env:"STORE_KEEP_SNAPSHOTS" default:"20"`
}

// DatabaseConfig holds PostgreSQL settings, used when STORE_DRIVER=postgres.
type DatabaseConfig struct {
	// Supports both DATABASE_URL and DB_URL.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// S3Config holds bucket settings. The bucket stores the dataset when
// STORE_DRIVER=s3, and is the report source whenever S3_BUCKET is set.
type S3Config struct {
	Endpoint        string `env:"S3_ENDPOINT"`
	Region          string `env:"S3_REGION" default:"us-east-1"`
	Bucket          string `env:"S3_BUCKET"`
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	UseSSL          bool   `env:"S3_USE_SSL" default:"true"`
	DatasetKey      string `env:"S3_DATASET_KEY" default:"maintrack/dataset.json"`
	ReportsPrefix   string `env:"S3_REPORTS_PREFIX" default:"laudos/"`
	SnapshotsPrefix string `env:"S3_SNAPSHOTS_PREFIX" default:"maintrack/snapshots/"`

	// PublicBaseURL is the base of report links shown to users.
	PublicBaseURL string `env:"S3_PUBLIC_BASE_URL"`
}

// Enabled reports whether a bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	MaxFileSize int64         `env:"IMPORT_MAX_FILE_SIZE" default:"20971520"`
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`
	PreviewTTL  time.Duration `env:"IMPORT_PREVIEW_TTL" default:"30m"`
}

// WorkOrderConfig holds work-order generation settings.
type WorkOrderConfig struct {
	HorizonDays   int           `env:"WORKORDER_HORIZON_DAYS" default:"30"`
	CheckInterval time.Duration `env:"WORKORDER_CHECK_INTERVAL" default:"1h"`
}

// AuditConfig caps the journals kept inside the dataset.
type AuditConfig struct {
	LogLimit      int `env:"AUDIT_LOG_LIMIT" default:"500"`
	TimelineLimit int `env:"TIMELINE_LIMIT" default:"2000"`
}

// RateLimitConfig holds per-IP rate limits per minute.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
	ImportLimit       int  `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// APIKeys is a comma-separated list of accepted X-API-Key values.
	APIKeys       []string `env:"SECURITY_API_KEYS" envAlt:"API_KEYS"`
	RequireAPIKey bool     `env:"SECURITY_REQUIRE_API_KEY" envAlt:"REQUIRE_API_KEY" default:"false"`

	// TrustedProxies lists proxy CIDRs whose forwarding headers are honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `env:"LOG_LEVEL" default:"info"`
	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// ServiceConfig returns the core service tunables.
func (c *Config) ServiceConfig() core.ServiceConfig {
	return core.ServiceConfig{
		PreviewTTL:       c.Import.PreviewTTL,
		MaxWait:          c.Import.MaxWaitTime,
		MaxFileSize:      c.Import.MaxFileSize,
		WorkOrderHorizon: c.WorkOrder.HorizonDays,
		Limits: core.Limits{
			AuditEntries:   c.Audit.LogLimit,
			TimelineEvents: c.Audit.TimelineLimit,
		},
	}
}
