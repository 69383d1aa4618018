// Package redis builds go-redis clients from service configuration, accepting
// both bare host:port addresses and redis:// URLs.
package redis

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// New builds a client for the configured instance. The caller owns the client
// and is responsible for closing it.
func New(config *Config) (*redis.Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	opts, err := options(config)
	if err != nil {
		return nil, err
	}

	return redis.NewClient(opts), nil
}

func options(config *Config) (*redis.Options, error) {
	if strings.Contains(config.Address, "://") {
		opts, err := redis.ParseURL(config.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		return opts, nil
	}

	return &redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	}, nil
}
