// Package engine defines the execution capability consumed by the simulator:
// a single-transaction EVM over a forked view of chain state, with account
// read/write access and block environment accessors.
package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// AccountInfo is the engine's basic view of one account. Storage is accessed
// through the dedicated storage methods since a forked account's full storage
// is not enumerable.
type AccountInfo struct {
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
}

// CallParams describes one transaction to execute.
type CallParams struct {
	From       common.Address
	To         *common.Address // nil deploys a contract
	Data       []byte
	Value      *big.Int
	GasLimit   uint64
	AccessList types.AccessList
	// Trace requests a call-frame tree on the outcome.
	Trace bool
}

// CallFrame is one node of a call trace. Calls holds sub-frames in execution
// order.
type CallFrame struct {
	Kind  string
	From  common.Address
	To    common.Address
	Value *big.Int
	Calls []*CallFrame
}

// Outcome is the raw result of one executed transaction. Reverted covers any
// machine-level halt (revert, out of gas, invalid opcode); it is not an
// engine failure.
type Outcome struct {
	GasUsed    uint64
	Reverted   bool
	ExitReason string
	ReturnData []byte
	Logs       []*types.Log
	Trace      *CallFrame
}

// Options configure engine construction.
type Options struct {
	// ForkURL overrides the endpoint the engine forks from. Empty selects a
	// healthy endpoint from the shared pool.
	ForkURL string
	// ForkBlock pins the fork at a block number. Nil forks at the endpoint's
	// latest block.
	ForkBlock *uint64
	// GasLimit is the block gas limit for the simulated environment.
	GasLimit uint64
	// ChainID overrides the environment chain id. Nil adopts the fork
	// endpoint's chain id.
	ChainID *uint64
	// BlockTimestamp overrides the initial timestamp. Nil adopts the forked
	// block's timestamp.
	BlockTimestamp *uint64
}

// Engine executes transactions against forked chain state. Implementations
// are not safe for concurrent use; callers serialize access.
type Engine interface {
	// Call executes without persisting any state mutation.
	Call(ctx context.Context, params CallParams) (*Outcome, error)

	// Transact executes and persists state mutations, visible to later
	// executions on the same engine.
	Transact(ctx context.Context, params CallParams) (*Outcome, error)

	// ReadAccount returns the account's current basic state. Unknown
	// addresses yield a zero-value account.
	ReadAccount(ctx context.Context, addr common.Address) (AccountInfo, error)

	// WriteAccount persists the account's basic state.
	WriteAccount(ctx context.Context, addr common.Address, info AccountInfo) error

	// GetStorage reads one storage slot.
	GetStorage(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error)

	// SetStorage writes one storage slot, leaving other slots untouched.
	SetStorage(ctx context.Context, addr common.Address, key, value common.Hash) error

	// ReplaceStorage clears the address's storage, then writes the given
	// slots.
	ReplaceStorage(ctx context.Context, addr common.Address, slots map[common.Hash]common.Hash) error

	BlockNumber() uint64
	SetBlockNumber(n uint64)
	Timestamp() uint64
	SetTimestamp(ts uint64)
	ChainID() uint64
	GasLimit() uint64

	// Close releases the engine's resources.
	Close()
}

// Factory constructs engines. The simulator owns one factory and builds a
// private engine per stateless request plus one per session.
type Factory interface {
	NewEngine(ctx context.Context, opts Options) (Engine, error)
}
