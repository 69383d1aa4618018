package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethsim/tx-simulator/pkg/api"
	"github.com/ethsim/tx-simulator/pkg/engine/evm"
	"github.com/ethsim/tx-simulator/pkg/history"
	"github.com/ethsim/tx-simulator/pkg/observability"
	"github.com/ethsim/tx-simulator/pkg/simulator"
	"github.com/ethsim/tx-simulator/pkg/upstream"
)

type Server struct {
	log    logrus.FieldLogger
	config *Config

	pool      *upstream.Pool
	simulator *simulator.Service
	history   *history.Service
	memory    *memoryWatcher

	apiServer   *http.Server
	pprofServer *http.Server
}

func NewServer(log logrus.FieldLogger, config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pool, err := upstream.NewPool(log, &config.Upstream)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream pool: %w", err)
	}

	sim, err := simulator.NewService(log, &config.Simulator, evm.NewFactory(log, pool))
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator: %w", err)
	}

	hist, err := history.NewService(log, &config.History)
	if err != nil {
		return nil, fmt.Errorf("failed to create history pipeline: %w", err)
	}

	handler := api.NewHandler(log, sim, hist.Recorder(), pool)

	return &Server{
		log:       log,
		config:    config,
		pool:      pool,
		simulator: sim,
		history:   hist,
		memory:    newMemoryWatcher(log, config.MemoryMonitor),
		apiServer: &http.Server{
			Addr:         config.API.Addr,
			Handler:      api.NewRouter(log, &config.API, handler),
			ReadTimeout:  config.API.ReadTimeout,
			WriteTimeout: config.API.WriteTimeout,
		},
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Boot order: pool, history, simulator, then the listeners. The API must
	// not accept requests before everything behind it is up.
	if err := s.boot(ctx); err != nil {
		if stopErr := s.stop(); stopErr != nil {
			s.log.WithError(stopErr).Error("cleanup after failed boot")
		}

		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		observability.StartMetricsServer(ctx, s.config.MetricsAddr)

		return nil
	})

	if s.config.PProfAddr != nil {
		g.Go(func() error {
			if err := s.startPProf(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})
	}

	g.Go(func() error {
		s.log.WithField("addr", s.apiServer.Addr).Info("Starting API server")

		if err := s.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		return s.stop()
	})

	return g.Wait()
}

func (s *Server) boot(ctx context.Context) error {
	if err := s.memory.Start(ctx); err != nil {
		return fmt.Errorf("failed to start memory watcher: %w", err)
	}

	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start upstream pool: %w", err)
	}

	if err := s.history.Start(ctx); err != nil {
		return fmt.Errorf("failed to start history pipeline: %w", err)
	}

	if err := s.simulator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start simulator: %w", err)
	}

	return nil
}

func (s *Server) stop() error {
	// The parent context is already done when we get here; shutdown runs on
	// its own clock.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("Starting graceful shutdown...")

	// Stop intake first so in-flight simulations finish.
	if err := s.apiServer.Shutdown(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to shutdown api server")
	}

	if err := s.simulator.Stop(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop simulator")
	}

	if err := s.history.Stop(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop history pipeline")
	}

	if err := s.pool.Stop(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop upstream pool")
	}

	if err := s.memory.Stop(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop memory watcher")
	}

	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown pprof server")
		}
	}

	if err := observability.StopMetricsServer(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop metrics server")
	}

	s.log.Info("Simulator stopped gracefully")

	return nil
}

func (s *Server) startPProf() error {
	s.log.WithField("addr", *s.config.PProfAddr).Info("Starting pprof server")

	s.pprofServer = &http.Server{
		Addr:              *s.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	return s.pprofServer.ListenAndServe()
}
