package history

import (
	"fmt"
	"time"

	"github.com/ethsim/tx-simulator/pkg/clickhouse"
	"github.com/ethsim/tx-simulator/pkg/redis"
)

// Default configuration values for the history pipeline.
const (
	// DefaultQueue is the asynq queue name record tasks are enqueued on.
	DefaultQueue = "history"

	// DefaultTable is the ClickHouse table simulation records land in.
	DefaultTable = "simulation_results"

	// DefaultConcurrency is the default number of concurrent record workers.
	DefaultConcurrency = 5

	// DefaultBufferMaxRows is the flush threshold for the insert buffer.
	DefaultBufferMaxRows = 1000

	// DefaultBufferFlushInterval is the maximum wait before the insert
	// buffer flushes.
	DefaultBufferFlushInterval = time.Second
)

// Config holds the history pipeline configuration. The pipeline is off by
// default; when disabled, the service hands out a no-op recorder and owns no
// connections.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Queue is the asynq queue name for record tasks.
	Queue string `yaml:"queue"`

	// Table is the ClickHouse table records are inserted into.
	Table string `yaml:"table"`

	// Concurrency is the number of concurrent record workers.
	Concurrency int `yaml:"concurrency"`

	// BufferMaxRows is the insert buffer flush threshold.
	BufferMaxRows int `yaml:"bufferMaxRows"`

	// BufferFlushInterval is the maximum wait before the insert buffer
	// flushes.
	BufferFlushInterval time.Duration `yaml:"bufferFlushInterval"`

	Redis      *redis.Config      `yaml:"redis"`
	ClickHouse *clickhouse.Config `yaml:"clickhouse"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Queue == "" {
		c.Queue = DefaultQueue
	}

	if c.Table == "" {
		c.Table = DefaultTable
	}

	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}

	if c.BufferMaxRows <= 0 {
		c.BufferMaxRows = DefaultBufferMaxRows
	}

	if c.BufferFlushInterval <= 0 {
		c.BufferFlushInterval = DefaultBufferFlushInterval
	}

	if c.Redis == nil {
		return fmt.Errorf("history requires a redis config when enabled")
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("invalid redis config: %w", err)
	}

	if c.ClickHouse == nil {
		return fmt.Errorf("history requires a clickhouse config when enabled")
	}

	if err := c.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("invalid clickhouse config: %w", err)
	}

	return nil
}
