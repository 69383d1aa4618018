package simulator

import "errors"

// Sentinel errors for orchestration failures. Engine-level classes
// (engine.ErrEngineCreate, engine.ErrExecution) pass through unchanged; callers
// match any of them with errors.Is.
var (
	// ErrChainMismatch indicates a bundle's shared chain id differs from the
	// chain id of the engine it runs against.
	ErrChainMismatch = errors.New("chain id does not match engine chain id")

	// ErrMultipleChainIDs indicates elements of one bundle specify different
	// chain ids.
	ErrMultipleChainIDs = errors.New("bundle elements specify multiple chain ids")

	// ErrNoBlockNumber indicates an element omitted its block number after an
	// earlier element in the bundle pinned one.
	ErrNoBlockNumber = errors.New("block number required")

	// ErrInvalidBlockNumbers indicates a block number that moves backwards,
	// repeats a previously requested number, or precedes the engine's current
	// block.
	ErrInvalidBlockNumbers = errors.New("invalid block number sequence")

	// ErrSessionNotFound indicates an unknown or already destroyed session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrOverride indicates a state override could not be applied to the
	// engine.
	ErrOverride = errors.New("invalid state override")

	// ErrTraceFormat indicates a captured call trace could not be rendered.
	ErrTraceFormat = errors.New("failed to format call trace")
)
