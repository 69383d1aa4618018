package simulator

import (
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethsim/tx-simulator/pkg/engine"
)

// CallResult is the outcome of one simulated transaction.
type CallResult struct {
	GasUsed uint64

	// BlockNumber the element executed at.
	BlockNumber uint64

	// Success is false when the transaction reverted or halted exceptionally.
	// An unsuccessful transaction is still a result, not an error.
	Success bool

	// Logs in emission order.
	Logs []*types.Log

	// ExitReason names the engine halt reason (Stop, Return, Revert,
	// OutOfGas, ...).
	ExitReason string

	ReturnData []byte

	// Trace is the call-frame tree, present when the element requested one.
	Trace *engine.CallFrame

	// FormattedTrace is the human-readable rendering of Trace.
	FormattedTrace *string
}

// buildResult converts an engine outcome into a CallResult, rendering the
// trace when requested. Reverted transactions render too.
func buildResult(outcome *engine.Outcome, blockNumber uint64, format bool) (*CallResult, error) {
	result := &CallResult{
		GasUsed:     outcome.GasUsed,
		BlockNumber: blockNumber,
		Success:     !outcome.Reverted,
		Logs:        outcome.Logs,
		ExitReason:  outcome.ExitReason,
		ReturnData:  outcome.ReturnData,
		Trace:       outcome.Trace,
	}

	if result.Logs == nil {
		result.Logs = []*types.Log{}
	}

	if format && outcome.Trace != nil {
		formatted, err := formatTrace(outcome.Trace)
		if err != nil {
			return nil, err
		}

		result.FormattedTrace = &formatted
	}

	return result, nil
}
