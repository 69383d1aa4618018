package history

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// RecordTaskType is the asynq task type carrying one simulation record.
const RecordTaskType = "history:record"

// RecordPayload is the wire form of a simulation record task.
type RecordPayload struct {
	Mode        string    `json:"mode"`
	ChainID     uint64    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	GasUsed     uint64    `json:"gas_used"`
	Success     bool      `json:"success"`
	DurationMS  uint64    `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// MarshalBinary lets asynq and redis serialize the payload directly.
func (p *RecordPayload) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalBinary decodes a payload produced by MarshalBinary.
func (p *RecordPayload) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}

// NewRecordTask wraps a payload in an asynq task.
func NewRecordTask(payload RecordPayload) (*asynq.Task, error) {
	data, err := payload.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(RecordTaskType, data), nil
}
