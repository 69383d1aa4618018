package history

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ethsim/tx-simulator/pkg/common/metrics"
)

// Record is one simulation outcome worth keeping. Bundles collapse to a
// single record: gas is summed, the block number is the last element's, and
// success means every element succeeded.
type Record struct {
	Mode        string
	ChainID     uint64
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
	Duration    time.Duration
	Timestamp   time.Time
}

// Recorder accepts simulation records for the audit trail. Implementations
// must never block on storage; recording failures are for the caller to log,
// not to surface to API clients.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// NewNoopRecorder returns a recorder that drops everything. Handed out when
// the history pipeline is disabled.
func NewNoopRecorder() Recorder {
	return noopRecorder{}
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, Record) error {
	return nil
}

// enqueuer is the asynq client surface the queue recorder needs.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// queueRecorder enqueues records as asynq tasks for the embedded worker.
type queueRecorder struct {
	client enqueuer
	queue  string
}

func (r *queueRecorder) Record(ctx context.Context, rec Record) error {
	task, err := NewRecordTask(RecordPayload{
		Mode:        rec.Mode,
		ChainID:     rec.ChainID,
		BlockNumber: rec.BlockNumber,
		GasUsed:     rec.GasUsed,
		Success:     rec.Success,
		DurationMS:  uint64(rec.Duration.Milliseconds()),
		Timestamp:   rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to create record task: %w", err)
	}

	if _, err := r.client.EnqueueContext(ctx, task, asynq.Queue(r.queue), asynq.MaxRetry(5), asynq.Timeout(30*time.Second)); err != nil {
		return fmt.Errorf("failed to enqueue record task: %w", err)
	}

	metrics.TasksEnqueued.WithLabelValues(r.queue, RecordTaskType).Inc()

	return nil
}
