package upstream

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/common/metrics"
)

// Pool tracks the health of the configured execution endpoints. An endpoint
// is healthy when it answers eth_chainId and eth_blockNumber.
type Pool struct {
	log     logrus.FieldLogger
	config  *Config
	clients []*Client

	mu      sync.RWMutex
	healthy map[*Client]bool

	scheduler *gocron.Scheduler
}

func NewPool(log logrus.FieldLogger, config *Config) (*Pool, error) {
	clients := make([]*Client, 0, len(config.Endpoints))

	for _, endpoint := range config.Endpoints {
		client, err := NewClient(log, endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for %s: %w", endpoint.Name, err)
		}

		clients = append(clients, client)
	}

	return &Pool{
		log:     log.WithField("component", "upstream"),
		config:  config,
		clients: clients,
		healthy: make(map[*Client]bool, len(clients)),
	}, nil
}

func (p *Pool) HasEndpoints() bool {
	return len(p.clients) > 0
}

func (p *Pool) HasHealthyEndpoint() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, isHealthy := range p.healthy {
		if isHealthy {
			return true
		}
	}

	return false
}

// HealthyEndpoint returns a random healthy endpoint, or nil when none is.
func (p *Pool) HealthyEndpoint() *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	healthy := make([]*Client, 0, len(p.healthy))

	for client, isHealthy := range p.healthy {
		if isHealthy {
			healthy = append(healthy, client)
		}
	}

	if len(healthy) == 0 {
		return nil
	}

	//nolint:gosec // load spreading, not cryptography
	return healthy[rand.IntN(len(healthy))]
}

// WaitForHealthyEndpoint blocks until an endpoint becomes healthy or the
// context ends.
func (p *Pool) WaitForHealthyEndpoint(ctx context.Context) (*Client, error) {
	if len(p.clients) == 0 {
		return nil, fmt.Errorf("no upstream endpoints configured")
	}

	started := time.Now()

	for {
		if client := p.HealthyEndpoint(); client != nil {
			p.log.WithField("waited", time.Since(started).Round(time.Millisecond)).Debug("Found healthy endpoint")

			return client, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Start checks every endpoint with retries until first health, then keeps
// refreshing on a schedule.
func (p *Pool) Start(ctx context.Context) error {
	p.log.WithField("endpoints", len(p.clients)).Info("Starting upstream pool")

	for _, client := range p.clients {
		go func(client *Client) {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 2 * time.Minute

			operation := func() error {
				if err := p.checkEndpoint(ctx, client); err != nil {
					p.log.WithError(err).WithField("endpoint", client.Name()).Warn("Endpoint not healthy yet, will retry")

					return err
				}

				return nil
			}

			if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
				p.log.WithError(err).WithField("endpoint", client.Name()).Error("Endpoint failed initial health checks")
			}
		}(client)
	}

	s := gocron.NewScheduler(time.Local)

	if _, err := s.Every("15s").Do(func() {
		checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, client := range p.clients {
			if err := p.checkEndpoint(checkCtx, client); err != nil {
				p.log.WithError(err).WithField("endpoint", client.Name()).Debug("Endpoint health check failed")
			}
		}
	}); err != nil {
		return err
	}

	if _, err := s.Every("1m").Do(func() {
		p.mu.RLock()

		healthyCount := 0

		for _, isHealthy := range p.healthy {
			if isHealthy {
				healthyCount++
			}
		}

		p.mu.RUnlock()

		p.log.WithFields(logrus.Fields{
			"healthy_endpoints": fmt.Sprintf("%d/%d", healthyCount, len(p.clients)),
		}).Info("Upstream pool status")
	}); err != nil {
		return err
	}

	s.StartAsync()

	p.scheduler = s

	return nil
}

func (p *Pool) checkEndpoint(ctx context.Context, client *Client) error {
	if _, err := client.ChainID(ctx); err != nil {
		p.setHealth(client, false)

		return fmt.Errorf("chain id check failed: %w", err)
	}

	if _, err := client.BlockNumber(ctx); err != nil {
		p.setHealth(client, false)

		return fmt.Errorf("block number check failed: %w", err)
	}

	p.setHealth(client, true)

	return nil
}

func (p *Pool) setHealth(client *Client, isHealthy bool) {
	p.mu.Lock()
	p.healthy[client] = isHealthy

	healthyCount := 0

	for _, h := range p.healthy {
		if h {
			healthyCount++
		}
	}

	p.mu.Unlock()

	metrics.UpstreamEndpoints.WithLabelValues("healthy").Set(float64(healthyCount))
	metrics.UpstreamEndpoints.WithLabelValues("unhealthy").Set(float64(len(p.clients) - healthyCount))
}

func (p *Pool) Stop(ctx context.Context) error {
	p.log.Info("Stopping upstream pool")

	if p.scheduler != nil {
		p.scheduler.Stop()
	}

	return nil
}
