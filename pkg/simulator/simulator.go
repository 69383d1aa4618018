// Package simulator orchestrates transaction simulation over forked engines:
// stateless single calls, stateless committing bundles, and stateful sessions
// holding an engine exclusively across bundles.
package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/common/metrics"
	"github.com/ethsim/tx-simulator/pkg/engine"
)

// Service runs simulations. Stateless operations build a private engine per
// request; stateful sessions keep one engine alive between calls.
type Service struct {
	log       logrus.FieldLogger
	config    *Config
	factory   engine.Factory
	sessions  *registry
	scheduler *gocron.Scheduler
}

// NewService wires a simulator over an engine factory.
func NewService(log logrus.FieldLogger, config *Config, factory engine.Factory) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}

	serviceLog := log.WithField("component", "simulator")

	return &Service{
		log:      serviceLog,
		config:   config,
		factory:  factory,
		sessions: newRegistry(serviceLog),
	}, nil
}

// Start launches the session janitor. A zero SessionTTL leaves expiry
// disabled and starts nothing.
func (s *Service) Start(ctx context.Context) error {
	if s.config.SessionTTL <= 0 {
		return nil
	}

	s.scheduler = gocron.NewScheduler(time.Local)

	if _, err := s.scheduler.Every("1m").Do(func() {
		s.sessions.sweep(s.config.SessionTTL)
	}); err != nil {
		return fmt.Errorf("failed to schedule session janitor: %w", err)
	}

	s.scheduler.StartAsync()

	s.log.WithField("ttl", s.config.SessionTTL.String()).Info("Session janitor started")

	return nil
}

// Stop halts the janitor and destroys every remaining session.
func (s *Service) Stop(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	s.sessions.shutdown()

	return nil
}

// Simulate runs one transaction read-only on a fresh fork. Nothing persists;
// the fork is torn down before returning.
func (s *Service) Simulate(ctx context.Context, tx *TransactionRequest) (*CallResult, error) {
	start := time.Now()

	result, err := s.simulate(ctx, tx)
	s.observe("simulate", start, err)

	return result, err
}

func (s *Service) simulate(ctx context.Context, tx *TransactionRequest) (*CallResult, error) {
	eng, err := s.factory.NewEngine(ctx, engine.Options{
		ForkBlock:      tx.BlockNumber,
		ChainID:        &tx.ChainID,
		BlockTimestamp: tx.BlockTimestamp,
	})
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	results, err := s.newRun(eng, false).run(ctx, []*TransactionRequest{tx})
	if err != nil {
		return nil, err
	}

	return results[0], nil
}

// SimulateBundle runs an ordered bundle on a fresh fork, committing each
// element so later elements observe its effects. The fork is private and torn
// down before returning.
func (s *Service) SimulateBundle(ctx context.Context, txs []*TransactionRequest) ([]*CallResult, error) {
	start := time.Now()

	results, err := s.simulateBundle(ctx, txs)
	s.observe("bundle", start, err)

	return results, err
}

func (s *Service) simulateBundle(ctx context.Context, txs []*TransactionRequest) ([]*CallResult, error) {
	if len(txs) == 0 {
		return []*CallResult{}, nil
	}

	metrics.BundleSize.Observe(float64(len(txs)))

	head := txs[0]

	eng, err := s.factory.NewEngine(ctx, engine.Options{
		ForkBlock:      head.BlockNumber,
		ChainID:        &head.ChainID,
		BlockTimestamp: head.BlockTimestamp,
	})
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	results, err := s.newRun(eng, true).run(ctx, txs)
	if err != nil {
		return s.partial(results), err
	}

	return results, nil
}

// StartSession forks a new engine and registers it for stateful simulation.
func (s *Service) StartSession(ctx context.Context, req *SessionRequest) (string, error) {
	eng, err := s.factory.NewEngine(ctx, engine.Options{
		ForkURL:        req.ForkURL,
		ForkBlock:      req.BlockNumber,
		GasLimit:       req.GasLimit,
		ChainID:        req.ChainID,
		BlockTimestamp: req.BlockTimestamp,
	})
	if err != nil {
		return "", err
	}

	id := s.sessions.add(eng)

	s.log.WithFields(logrus.Fields{
		"session":      id,
		"chain_id":     eng.ChainID(),
		"block_number": eng.BlockNumber(),
	}).Info("Started stateful session")

	return id, nil
}

// RunSession executes a bundle against the session's engine, holding the
// session exclusively. Effects persist for later bundles on the same session.
func (s *Service) RunSession(ctx context.Context, id string, txs []*TransactionRequest) ([]*CallResult, error) {
	start := time.Now()

	results, err := s.runSession(ctx, id, txs)
	s.observe("stateful", start, err)

	return results, err
}

func (s *Service) runSession(ctx context.Context, id string, txs []*TransactionRequest) ([]*CallResult, error) {
	sess, err := s.sessions.acquire(id)
	if err != nil {
		return nil, err
	}
	defer s.sessions.release(sess)

	if len(txs) == 0 {
		return []*CallResult{}, nil
	}

	metrics.BundleSize.Observe(float64(len(txs)))

	results, err := s.newRun(sess.eng, true).run(ctx, txs)
	if err != nil {
		return s.partial(results), err
	}

	return results, nil
}

// EndSession destroys the session and closes its engine.
func (s *Service) EndSession(ctx context.Context, id string) error {
	return s.sessions.destroy(id)
}

// SessionCount reports the number of live sessions.
func (s *Service) SessionCount() int {
	return s.sessions.size()
}

func (s *Service) newRun(eng engine.Engine, commit bool) *bundleRun {
	return &bundleRun{
		eng:             eng,
		blockTime:       s.config.BlockTime,
		commit:          commit,
		defaultGasLimit: s.config.DefaultGasLimit,
	}
}

// partial applies the configured mid-bundle failure policy to already
// computed results.
func (s *Service) partial(results []*CallResult) []*CallResult {
	if s.config.ReturnPartialResults {
		return results
	}

	return nil
}

func (s *Service) observe(mode string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}

	metrics.SimulationsTotal.WithLabelValues(mode, status).Inc()
	metrics.SimulationDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
