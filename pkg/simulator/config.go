package simulator

import (
	"fmt"
	"time"
)

// DefaultBlockTime is the per-block timestamp increment in seconds applied
// when a bundle element advances the block without an explicit timestamp.
const DefaultBlockTime uint64 = 12

// Config holds simulator settings.
type Config struct {
	// BlockTime is the timestamp increment in seconds applied on each block
	// advance inside a bundle (default: 12).
	BlockTime uint64 `yaml:"blockTime"`

	// ReturnPartialResults returns the results computed before a failing
	// bundle element alongside the error instead of discarding them
	// (default: false).
	ReturnPartialResults bool `yaml:"returnPartialResults"`

	// DefaultGasLimit is applied to transactions that omit a gas limit.
	// Zero adopts the engine's block gas limit.
	DefaultGasLimit uint64 `yaml:"defaultGasLimit"`

	// SessionTTL destroys sessions that have been idle for longer than this
	// duration. Zero disables expiry (default: 0).
	SessionTTL time.Duration `yaml:"sessionTTL"`
}

func (c *Config) Validate() error {
	if c.BlockTime == 0 {
		c.BlockTime = DefaultBlockTime
	}

	if c.SessionTTL < 0 {
		return fmt.Errorf("sessionTTL must not be negative")
	}

	return nil
}
