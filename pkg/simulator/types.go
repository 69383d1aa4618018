package simulator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionRequest describes one transaction to simulate. Inside a bundle,
// the order of elements is the order of execution.
type TransactionRequest struct {
	// ChainID the transaction targets. All elements of a bundle must agree.
	ChainID uint64

	From common.Address
	// To is nil for contract deployment.
	To         *common.Address
	Data       []byte
	Value      *big.Int
	GasLimit   uint64
	AccessList types.AccessList

	// BlockNumber positions the element: absent executes at the engine's
	// current block, a later number advances the engine first. For stateless
	// requests the first element's number also pins the fork block.
	BlockNumber *uint64

	// BlockTimestamp replaces the timestamp applied on a block advance.
	BlockTimestamp *uint64

	// Overrides mutate engine state before the element executes. Effects
	// persist for the rest of the run.
	Overrides map[common.Address]AccountOverride

	// FormatTrace requests the call-frame tree and its rendered form on the
	// result.
	FormatTrace bool
}

// StorageMode selects how a storage override treats slots it does not list.
type StorageMode int

const (
	// StorageDiff overwrites the listed slots and leaves the rest untouched.
	StorageDiff StorageMode = iota

	// StorageReplace clears the account's storage, then writes the listed
	// slots.
	StorageReplace
)

// StorageOverride rewrites an account's storage.
type StorageOverride struct {
	Mode  StorageMode
	Slots map[common.Hash]common.Hash
}

// AccountOverride mutates parts of one account before execution. Nil fields
// keep the engine's current value; accounts the fork has never seen start
// from a zero-value account.
type AccountOverride struct {
	Balance *big.Int
	Nonce   *uint64
	// Code nil keeps the current code; an empty slice clears it.
	Code    []byte
	Storage *StorageOverride
}

// SessionRequest configures a new stateful session.
type SessionRequest struct {
	// ForkURL overrides the RPC endpoint to fork from. Empty picks a healthy
	// endpoint from the shared pool.
	ForkURL string

	// BlockNumber pins the fork block. Nil forks at the endpoint's latest.
	BlockNumber *uint64

	// BlockTimestamp overrides the initial block timestamp.
	BlockTimestamp *uint64

	// GasLimit for the simulated environment. Zero adopts the forked block's
	// gas limit.
	GasLimit uint64

	// ChainID overrides the environment chain id. Nil adopts the fork
	// endpoint's chain id.
	ChainID *uint64
}
