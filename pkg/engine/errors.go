package engine

import "errors"

// Sentinel errors for engine operations.
var (
	// ErrEngineCreate indicates the fork could not be bootstrapped or the
	// engine could not be constructed.
	ErrEngineCreate = errors.New("failed to create execution engine")

	// ErrExecution indicates an engine-level failure distinct from a
	// reverted transaction: invalid message, unreachable remote state.
	ErrExecution = errors.New("execution failed")
)
