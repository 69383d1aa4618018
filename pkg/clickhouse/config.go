package clickhouse

import (
	"fmt"
	"time"
)

// Default connection settings.
const (
	DefaultDatabase          = "default"
	DefaultCompression       = "lz4"
	DefaultMaxConns          = int32(10)
	DefaultMinConns          = int32(2)
	DefaultConnMaxLifetime   = time.Hour
	DefaultConnMaxIdleTime   = 30 * time.Minute
	DefaultHealthCheckPeriod = time.Minute
	DefaultDialTimeout       = 10 * time.Second
	DefaultQueryTimeout      = time.Minute

	// DefaultRetryMaxElapsed caps how long transient failures are retried
	// before an operation gives up.
	DefaultRetryMaxElapsed = 30 * time.Second
)

// Config holds connection settings for the native-protocol client.
type Config struct {
	// Addr is the native protocol address, host:port.
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Compression on the wire: lz4, zstd or none.
	Compression string `yaml:"compression"`

	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	ConnMaxLifetime   time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"connMaxIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	DialTimeout       time.Duration `yaml:"dialTimeout"`

	// QueryTimeout bounds a single attempt; each retry gets a fresh
	// allowance.
	QueryTimeout time.Duration `yaml:"queryTimeout"`

	// RetryMaxElapsed bounds the total time spent retrying one operation.
	RetryMaxElapsed time.Duration `yaml:"retryMaxElapsed"`
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("clickhouse addr is required")
	}

	switch c.Compression {
	case "", "lz4", "zstd", "none":
	default:
		return fmt.Errorf("unknown clickhouse compression %q", c.Compression)
	}

	if c.Database == "" {
		c.Database = DefaultDatabase
	}

	if c.Compression == "" {
		c.Compression = DefaultCompression
	}

	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}

	if c.MinConns <= 0 {
		c.MinConns = DefaultMinConns
	}

	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = DefaultConnMaxLifetime
	}

	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = DefaultConnMaxIdleTime
	}

	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = DefaultHealthCheckPeriod
	}

	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}

	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}

	if c.RetryMaxElapsed <= 0 {
		c.RetryMaxElapsed = DefaultRetryMaxElapsed
	}

	return nil
}
