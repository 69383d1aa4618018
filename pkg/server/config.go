package server

import (
	"fmt"
	"time"

	"github.com/ethsim/tx-simulator/pkg/api"
	"github.com/ethsim/tx-simulator/pkg/history"
	"github.com/ethsim/tx-simulator/pkg/simulator"
	"github.com/ethsim/tx-simulator/pkg/upstream"
)

type Config struct {
	// MetricsAddr is where the Prometheus endpoint listens.
	MetricsAddr string `yaml:"metricsAddr" default:":9090"`
	// PProfAddr enables the pprof listener when set.
	PProfAddr *string `yaml:"pprofAddr"`
	// LoggingLevel is a logrus level name.
	LoggingLevel string `yaml:"logging" default:"info"`
	// API is the simulation HTTP surface configuration.
	API api.Config `yaml:"api"`
	// Upstream configures the execution-layer endpoints simulations fork from.
	Upstream upstream.Config `yaml:"upstream"`
	// Simulator is the simulation behavior configuration.
	Simulator simulator.Config `yaml:"simulator"`
	// History is the simulation audit trail configuration.
	History history.Config `yaml:"history"`
	// MemoryMonitor configures periodic runtime stats collection.
	MemoryMonitor MemoryMonitorConfig `yaml:"memoryMonitor"`
	// ShutdownTimeout bounds graceful shutdown of every component.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("invalid api configuration: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream configuration: %w", err)
	}

	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("invalid simulator configuration: %w", err)
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("invalid history configuration: %w", err)
	}

	return nil
}
