// Package config provides centralized configuration management for the pipeline.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database DatabaseConfig
	ETL      ETLConfig
	Logging  LoggingConfig
	Server   ServerConfig
}

// DatabaseConfig holds store connection settings.
type DatabaseConfig struct {
	// URL is the connection string (required). postgres:// and postgresql://
	// select PostgreSQL; sqlite:// or file: select SQLite.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// Driver overrides the engine inferred from URL: postgres or sqlite
	Driver string `env:"DB_DRIVER"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// StatementTimeout bounds each statement on PostgreSQL (default: 5m)
	StatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" default:"5m"`
}

// ETLConfig holds pipeline settings.
type ETLConfig struct {
	// BatchSize is the number of records per insert batch (default: 1000)
	BatchSize int `env:"ETL_BATCH_SIZE" default:"1000"`

	// SetBasedThreshold is the record count from which set-based
	// conflict-ignore inserts replace row-level inserts (default: 10000)
	SetBasedThreshold int `env:"ETL_SET_BASED_THRESHOLD" default:"10000"`

	// BulkThreshold is the record count from which the bulk-staged merge is
	// used (default: 200000)
	BulkThreshold int `env:"ETL_BULK_THRESHOLD" envAlt:"ETL_COPY_THRESHOLD" default:"200000"`

	// BulkEnabled allows the bulk-staged merge (default: true)
	BulkEnabled bool `env:"ETL_BULK_ENABLED" envAlt:"ETL_USE_COPY" default:"true"`

	// Strategy forces an insert strategy: auto, row, set, bulk (default: auto)
	Strategy string `env:"ETL_STRATEGY" default:"auto"`

	// RawDataPath is the directory scanned when no paths are given (default: data/raw)
	RawDataPath string `env:"ETL_DATA_RAW_PATH" default:"data/raw"`

	// ProcessedPath receives successfully loaded files; empty leaves them in place
	ProcessedPath string `env:"ETL_DATA_PROCESSED_PATH"`

	// RejectsPath receives per-file CSV reports of dropped records; empty disables
	RejectsPath string `env:"ETL_REJECTS_PATH"`

	// MaxFileSize is the maximum input file size in bytes (default: 500MB)
	MaxFileSize int64 `env:"ETL_MAX_FILE_SIZE" default:"524288000"`

	// StatusSynonymsFile is an optional YAML file of extra status synonyms
	StatusSynonymsFile string `env:"ETL_STATUS_SYNONYMS_FILE"`

	// WatchInterval is how often serve --watch rescans RawDataPath (default: 5m)
	WatchInterval time.Duration `env:"ETL_WATCH_INTERVAL" default:"5m"`

	// RunWaitTime is how long a triggered run waits for a running one (default: 10s)
	RunWaitTime time.Duration `env:"ETL_RUN_WAIT_TIME" default:"10s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 10m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"10m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for read endpoints (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`

	// APIKeys is a comma-separated list of keys accepted by POST /api/runs.
	// Empty leaves the trigger open, which is only safe on a loopback bind.
	APIKeys string `env:"SERVER_API_KEYS"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP and X-Forwarded-For headers are believed
	TrustedProxies string `env:"SERVER_TRUSTED_PROXIES"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// APIKeyList returns the configured API keys.
func (c *ServerConfig) APIKeyList() []string {
	return splitList(c.APIKeys)
}

// TrustedProxyList returns the configured trusted proxy CIDRs.
func (c *ServerConfig) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
