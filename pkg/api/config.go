package api

import "time"

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"

	// DefaultReadTimeout bounds reading one request.
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds writing one response. Simulations run inside
	// it, so it stays generous.
	DefaultWriteTimeout = 120 * time.Second
)

// Config holds HTTP server configuration.
type Config struct {
	Addr string `yaml:"addr"`

	// AllowedOrigins for CORS. Empty allows every origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`

	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// Validate fills zero values with defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}

	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}

	return nil
}
