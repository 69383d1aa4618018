// Package clickhouse wraps the ch-go native client with connection pooling,
// transient-error retry and operation metrics. The history pipeline is its
// only consumer; writes go through proto column blocks.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/chpool"
	"github.com/ClickHouse/ch-go/compress"
	"github.com/ClickHouse/ch-go/proto"
	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/common/metrics"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

var errNotStarted = errors.New("clickhouse client is not started")

// Client talks to ClickHouse over the native protocol through a connection
// pool. Construction does not connect; Start dials.
type Client struct {
	log    logrus.FieldLogger
	config *Config

	mu   sync.Mutex
	pool *chpool.Pool
}

func New(log logrus.FieldLogger, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid clickhouse config: %w", err)
	}

	return &Client{
		log:    log.WithField("component", "clickhouse"),
		config: cfg,
	}, nil
}

// Start dials the connection pool. Calling Start again after a success is a
// no-op, so a failed boot can simply be retried.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return nil
	}

	var pool *chpool.Pool

	err := c.retry(ctx, "dial", func(ctx context.Context) error {
		var err error

		pool, err = chpool.Dial(ctx, chpool.Options{
			ClientOptions: ch.Options{
				Address:     c.config.Addr,
				Database:    c.config.Database,
				User:        c.config.Username,
				Password:    c.config.Password,
				Compression: c.compression(),
				DialTimeout: c.config.DialTimeout,
			},
			MaxConns:          c.config.MaxConns,
			MinConns:          c.config.MinConns,
			MaxConnLifetime:   c.config.ConnMaxLifetime,
			MaxConnIdleTime:   c.config.ConnMaxIdleTime,
			HealthCheckPeriod: c.config.HealthCheckPeriod,
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to dial clickhouse at %s: %w", c.config.Addr, err)
	}

	c.pool = pool

	c.log.WithFields(logrus.Fields{
		"addr":     c.config.Addr,
		"database": c.config.Database,
	}).Info("Connected to ClickHouse")

	return nil
}

// Stop closes the connection pool. Safe on a client that never started.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool == nil {
		return nil
	}

	c.pool.Close()
	c.pool = nil
	c.log.Info("Closed ClickHouse connection pool")

	return nil
}

// Do runs one query on the pool directly, without retry or metrics.
func (c *Client) Do(ctx context.Context, query ch.Query) error {
	pool, err := c.conn()
	if err != nil {
		return err
	}

	return pool.Do(ctx, query)
}

// Execute runs a statement without reading results.
func (c *Client) Execute(ctx context.Context, query string) error {
	pool, err := c.conn()
	if err != nil {
		return err
	}

	err = c.instrumented(ctx, "execute", "", 0, func(ctx context.Context) error {
		return pool.Do(ctx, ch.Query{Body: query})
	})
	if err != nil {
		return fmt.Errorf("statement failed: %w", err)
	}

	return nil
}

// Insert writes the input columns into table. The columns are re-sent as-is
// on a retry; callers reset them only after Insert returns.
func (c *Client) Insert(ctx context.Context, table string, input proto.Input, rows int) error {
	pool, err := c.conn()
	if err != nil {
		return err
	}

	err = c.instrumented(ctx, "insert", table, rows, func(ctx context.Context) error {
		return pool.Do(ctx, ch.Query{
			Body:  input.Into(table),
			Input: input,
		})
	})
	if err != nil {
		return fmt.Errorf("insert into %s failed: %w", table, err)
	}

	return nil
}

func (c *Client) conn() (*chpool.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool == nil {
		return nil, errNotStarted
	}

	return c.pool, nil
}

func (c *Client) compression() ch.Compression {
	switch c.config.Compression {
	case "zstd":
		return ch.CompressionZSTD
	case "none":
		return ch.CompressionDisabled
	default:
		return ch.CompressionLZ4
	}
}

// instrumented runs fn through the retry loop and records prometheus
// accounting for the operation.
func (c *Client) instrumented(ctx context.Context, op, table string, rows int, fn func(context.Context) error) error {
	start := time.Now()
	status := statusSuccess

	err := c.retry(ctx, op, fn)
	if err != nil {
		status = statusFailed
	}

	metrics.ClickHouseOperationDuration.WithLabelValues(op, table, status).Observe(time.Since(start).Seconds())
	metrics.ClickHouseOperationsTotal.WithLabelValues(op, table, status).Inc()

	if rows > 0 {
		metrics.ClickHouseInsertedRows.WithLabelValues(table, status).Add(float64(rows))
	}

	return err
}

// retry runs fn with exponential backoff, giving up immediately on errors the
// transient classifier rules out. Each attempt is bounded by the query
// timeout; an attempt that times out while the parent context is still alive
// is retried.
func (c *Client) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = c.config.RetryMaxElapsed

	return backoff.RetryNotify(func() error {
		err := c.attempt(ctx, fn)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !transient(err) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		c.log.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"wait":      wait,
		}).Debug("Retrying ClickHouse operation")
	})
}

// attempt bounds one try with the query timeout unless the caller already set
// a deadline.
func (c *Client) attempt(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Deadline(); ok {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	return fn(attemptCtx)
}

// transient reports whether an error is worth retrying. Server exceptions
// retry only for timeout and saturation codes; syntax and data errors fail
// fast.
func transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ch.ErrClosed) {
		return false
	}

	if exc, ok := ch.AsException(err); ok {
		return exc.IsCode(
			proto.ErrTimeoutExceeded,
			proto.ErrNoFreeConnection,
			proto.ErrTooManySimultaneousQueries,
			proto.ErrSocketTimeout,
			proto.ErrNetworkError,
		)
	}

	var corrupted *compress.CorruptedDataErr
	if errors.As(err, &corrupted) {
		return false
	}

	// syscall.Errno satisfies net.Error, so the reset family goes first.
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
