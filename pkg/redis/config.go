package redis

import "fmt"

// Config locates the redis instance backing the task queue.
type Config struct {
	// Address is either a host:port pair or a redis:// / rediss:// URL.
	// URL-form addresses carry their own credentials and database index.
	Address string `yaml:"address"`

	// Password for AUTH when Address is a bare host:port.
	Password string `yaml:"password"`

	// DB selects the logical database when Address is a bare host:port.
	DB int `yaml:"db"`
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	return nil
}
