// Package history records simulation outcomes into ClickHouse through an
// asynq task queue, keeping storage off the simulation hot path. API handlers
// enqueue records; an embedded worker batches and inserts them.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	r "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/clickhouse"
	"github.com/ethsim/tx-simulator/pkg/common/metrics"
	"github.com/ethsim/tx-simulator/pkg/redis"
	"github.com/ethsim/tx-simulator/pkg/rowbuffer"
)

const resultsTableDDL = `CREATE TABLE IF NOT EXISTS %s (
	timestamp DateTime,
	mode LowCardinality(String),
	chain_id UInt64,
	block_number UInt64,
	gas_used UInt64,
	success Bool,
	duration_ms UInt64
) ENGINE = MergeTree
ORDER BY (timestamp, chain_id)`

// Service owns the history pipeline: the enqueue side handed to API handlers
// and the embedded worker consuming records into ClickHouse.
type Service struct {
	log    logrus.FieldLogger
	config *Config

	redisClient *r.Client
	asynqClient *asynq.Client
	asynqServer *asynq.Server
	ch          clickhouse.ClientInterface
	buffer      *rowbuffer.Buffer[Record]
	recorder    Recorder

	wg sync.WaitGroup
}

// NewService builds the pipeline from config. When disabled, the service
// carries only a no-op recorder and owns no connections.
func NewService(log logrus.FieldLogger, config *Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	svc := &Service{
		log:    log.WithField("component", "history"),
		config: config,
	}

	if !config.Enabled {
		svc.recorder = NewNoopRecorder()

		return svc, nil
	}

	redisClient, err := redis.New(config.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	// Separate Redis connections for asynq to avoid shutdown issues.
	redisOpt := redisClient.Options()
	asynqRedisOpt := asynq.RedisClientOpt{
		Addr:     redisOpt.Addr,
		Password: redisOpt.Password,
		DB:       redisOpt.DB,
	}

	chClient, err := clickhouse.New(svc.log, config.ClickHouse)
	if err != nil {
		return nil, fmt.Errorf("failed to create clickhouse client: %w", err)
	}

	svc.redisClient = redisClient
	svc.asynqClient = asynq.NewClient(asynqRedisOpt)
	svc.asynqServer = asynq.NewServer(asynqRedisOpt, asynq.Config{
		Concurrency: config.Concurrency,
		Queues:      map[string]int{config.Queue: 10},
		LogLevel:    asynq.InfoLevel,
		Logger:      svc.log,
	})
	svc.ch = chClient
	svc.buffer = rowbuffer.New(rowbuffer.Config{
		MaxRows:       config.BufferMaxRows,
		FlushInterval: config.BufferFlushInterval,
		Table:         config.Table,
	}, svc.flush, svc.log)
	svc.recorder = &queueRecorder{client: svc.asynqClient, queue: config.Queue}

	return svc, nil
}

// Recorder returns the recorder API handlers should use. Always non-nil.
func (s *Service) Recorder() Recorder {
	return s.recorder
}

// Start connects to ClickHouse, ensures the results table, and starts the
// insert buffer and worker.
func (s *Service) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Debug("History pipeline disabled")

		return nil
	}

	s.log.Info("Starting history pipeline")

	if err := s.ch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start clickhouse client: %w", err)
	}

	// The sink must answer before workers consume.
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	ping := func() error {
		return s.ch.Execute(ctx, "SELECT 1")
	}

	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("clickhouse not reachable: %w", err)
	}

	if err := s.ch.Execute(ctx, fmt.Sprintf(resultsTableDDL, s.config.Table)); err != nil {
		return fmt.Errorf("failed to ensure %s table: %w", s.config.Table, err)
	}

	if err := s.buffer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start row buffer: %w", err)
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(RecordTaskType, s.handleRecordTask)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if err := s.asynqServer.Start(mux); err != nil {
			s.log.WithError(err).Error("Asynq server failed")
		}
	}()

	s.log.WithFields(logrus.Fields{
		"queue": s.config.Queue,
		"table": s.config.Table,
	}).Info("History worker started")

	return nil
}

// Stop drains the worker and buffer, then closes connections.
func (s *Service) Stop(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.log.Info("Stopping history pipeline")

	// Stop intake first so the buffer can drain.
	s.asynqServer.Stop()
	s.asynqServer.Shutdown()
	s.wg.Wait()

	if err := s.asynqClient.Close(); err != nil {
		s.log.WithError(err).Error("Failed to close asynq client")
	}

	if err := s.buffer.Stop(ctx); err != nil {
		s.log.WithError(err).Error("Failed to stop row buffer")
	}

	if err := s.ch.Stop(); err != nil {
		s.log.WithError(err).Error("Failed to stop clickhouse client")
	}

	if err := s.redisClient.Close(); err != nil {
		s.log.WithError(err).Error("Failed to close redis client")
	}

	return nil
}

// handleRecordTask consumes one record task into the insert buffer.
func (s *Service) handleRecordTask(ctx context.Context, task *asynq.Task) error {
	start := time.Now()

	defer func() {
		metrics.TaskProcessingDuration.WithLabelValues(s.config.Queue, RecordTaskType).Observe(time.Since(start).Seconds())
	}()

	var payload RecordPayload
	if err := payload.UnmarshalBinary(task.Payload()); err != nil {
		metrics.TasksProcessed.WithLabelValues(s.config.Queue, RecordTaskType, "unmarshal_error").Inc()

		return fmt.Errorf("failed to unmarshal record payload: %w", err)
	}

	rec := Record{
		Mode:        payload.Mode,
		ChainID:     payload.ChainID,
		BlockNumber: payload.BlockNumber,
		GasUsed:     payload.GasUsed,
		Success:     payload.Success,
		Duration:    time.Duration(payload.DurationMS) * time.Millisecond,
		Timestamp:   payload.Timestamp,
	}

	if err := s.buffer.Submit(ctx, []Record{rec}); err != nil {
		metrics.TasksProcessed.WithLabelValues(s.config.Queue, RecordTaskType, "failed").Inc()

		return fmt.Errorf("failed to buffer record: %w", err)
	}

	metrics.TasksProcessed.WithLabelValues(s.config.Queue, RecordTaskType, "success").Inc()

	return nil
}

// flush inserts one batch of records.
func (s *Service) flush(ctx context.Context, rows []Record) error {
	cols := NewColumns()

	for _, rec := range rows {
		cols.Append(rec)
	}

	return s.ch.Insert(ctx, s.config.Table, cols.Input(), cols.Rows())
}
