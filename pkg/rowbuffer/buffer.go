// Package rowbuffer coalesces rows bound for the same ClickHouse table so
// that many concurrent producers share one insert. A batch leaves the buffer
// when it reaches MaxRows, when FlushInterval elapses, or on shutdown.
// Producers block until the flush carrying their rows reports back, so a
// successful Submit means the rows were written.
package rowbuffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/common/metrics"
)

// Defaults applied by New when the config leaves them zero.
const (
	DefaultMaxRows       = 10000
	DefaultFlushInterval = time.Second
)

// Trigger labels recorded on flush metrics.
const (
	triggerSize     = "size"
	triggerInterval = "interval"
	triggerShutdown = "shutdown"
)

var errNotStarted = errors.New("row buffer is not started")

// SinkFunc writes one completed batch to its destination.
type SinkFunc[R any] func(ctx context.Context, rows []R) error

// Config holds the buffer's batching limits.
type Config struct {
	MaxRows       int           // rows that force an immediate flush
	FlushInterval time.Duration // longest a row may wait before flushing
	Table         string        // metrics label
}

// batch is one insert in the making: the accumulated rows plus the done
// channel of every producer that contributed to them.
type batch[R any] struct {
	rows []R
	done []chan<- error
}

// Buffer accumulates rows from concurrent producers into batches.
type Buffer[R any] struct {
	cfg  Config
	sink SinkFunc[R]
	log  logrus.FieldLogger

	mu      sync.Mutex
	cur     batch[R]
	running bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// New builds a Buffer that hands completed batches to sink.
func New[R any](cfg Config, sink SinkFunc[R], log logrus.FieldLogger) *Buffer[R] {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}

	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	return &Buffer[R]{
		cfg:  cfg,
		sink: sink,
		log:  log.WithField("component", "rowbuffer"),
		cur:  batch[R]{rows: make([]R, 0, cfg.MaxRows)},
		quit: make(chan struct{}),
	}
}

// Start launches the interval flush loop. Calling Start again is a no-op.
func (b *Buffer[R]) Start(ctx context.Context) error {
	b.mu.Lock()

	if b.running {
		b.mu.Unlock()

		return nil
	}

	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		b.loop(ctx)
	}()

	b.log.WithFields(logrus.Fields{
		"max_rows":       b.cfg.MaxRows,
		"flush_interval": b.cfg.FlushInterval,
	}).Debug("Row buffer started")

	return nil
}

// Stop halts the flush loop and drains whatever is still buffered. Producers
// blocked in Submit receive the shutdown flush result.
func (b *Buffer[R]) Stop(ctx context.Context) error {
	b.mu.Lock()

	if !b.running {
		b.mu.Unlock()

		return nil
	}

	b.running = false
	b.mu.Unlock()

	close(b.quit)
	b.wg.Wait()

	if rest := b.swap(); len(rest.rows) > 0 {
		if err := b.flush(ctx, rest, triggerShutdown); err != nil {
			return fmt.Errorf("failed to drain %d rows on shutdown: %w", len(rest.rows), err)
		}
	}

	b.log.Debug("Row buffer stopped")

	return nil
}

// Submit appends rows to the current batch and blocks until the flush
// carrying them finishes, returning that flush's error.
func (b *Buffer[R]) Submit(ctx context.Context, rows []R) error {
	if len(rows) == 0 {
		return nil
	}

	done := make(chan error, 1)

	b.mu.Lock()

	if !b.running {
		b.mu.Unlock()

		return errNotStarted
	}

	b.cur.rows = append(b.cur.rows, rows...)
	b.cur.done = append(b.cur.done, done)

	var due batch[R]

	overflow := len(b.cur.rows) >= b.cfg.MaxRows
	if overflow {
		due = b.swapLocked()
	}

	b.gaugeLocked()
	b.mu.Unlock()

	// The insert must survive individual producer cancellations, so a size
	// flush runs detached from every submitter context.
	if overflow {
		go func() { _ = b.flush(context.Background(), due, triggerSize) }()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of rows in the accumulating batch.
func (b *Buffer[R]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.cur.rows)
}

// WaiterCount returns the number of producers blocked on the current batch.
func (b *Buffer[R]) WaiterCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.cur.done)
}

func (b *Buffer[R]) loop(ctx context.Context) {
	tick := time.NewTicker(b.cfg.FlushInterval)
	defer tick.Stop()

	for {
		select {
		case <-b.quit:
			return
		case <-ctx.Done():
			return
		case <-tick.C:
			if due := b.swap(); len(due.rows) > 0 {
				_ = b.flush(ctx, due, triggerInterval)
			}
		}
	}
}

// swapLocked hands the accumulating batch to the caller and resets it.
// Caller holds mu.
func (b *Buffer[R]) swapLocked() batch[R] {
	out := b.cur
	b.cur = batch[R]{rows: make([]R, 0, b.cfg.MaxRows)}

	return out
}

func (b *Buffer[R]) swap() batch[R] {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.swapLocked()
	b.gaugeLocked()

	return out
}

// gaugeLocked publishes the backlog gauges. Caller holds mu.
func (b *Buffer[R]) gaugeLocked() {
	metrics.RowBufferPendingRows.WithLabelValues(b.cfg.Table).Set(float64(len(b.cur.rows)))
	metrics.RowBufferPendingTasks.WithLabelValues(b.cfg.Table).Set(float64(len(b.cur.done)))
}

// flush writes a batch through the sink, records the outcome and wakes every
// contributing producer.
func (b *Buffer[R]) flush(ctx context.Context, due batch[R], trigger string) error {
	start := time.Now()
	err := b.sink(ctx, due.rows)
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "failed"
	}

	metrics.RowBufferFlushTotal.WithLabelValues(b.cfg.Table, trigger, status).Inc()
	metrics.RowBufferFlushDuration.WithLabelValues(b.cfg.Table).Observe(elapsed.Seconds())
	metrics.RowBufferFlushSize.WithLabelValues(b.cfg.Table).Observe(float64(len(due.rows)))

	entry := b.log.WithFields(logrus.Fields{
		"rows":     len(due.rows),
		"tasks":    len(due.done),
		"trigger":  trigger,
		"duration": elapsed,
		"table":    b.cfg.Table,
	})

	if err != nil {
		entry.WithError(err).Error("Row buffer flush failed")
	} else {
		entry.Debug("Row buffer flush completed")
	}

	// Each done channel is buffered and belongs to exactly one batch, so
	// these sends cannot block.
	for _, ch := range due.done {
		ch <- err
	}

	return err
}
