package simulator

import (
	"context"
	"fmt"

	"github.com/ethsim/tx-simulator/pkg/engine"
)

// bundleRun executes one ordered bundle against an engine the caller owns
// exclusively for the duration.
type bundleRun struct {
	eng       engine.Engine
	blockTime uint64

	// commit persists element effects. Only the single read-only simulation
	// path leaves it false.
	commit bool

	// defaultGasLimit fills elements that omit one. Zero defers to the
	// engine's block gas limit.
	defaultGasLimit uint64

	// prevRequested is the block number the previous element asked for, nil
	// until an element pins one.
	prevRequested *uint64
}

// validateChainIDs rejects a bundle whose elements disagree on chain id or
// whose shared chain id is not the engine's. Runs before any execution.
func validateChainIDs(txs []*TransactionRequest, engineChainID uint64) error {
	if len(txs) == 0 {
		return nil
	}

	shared := txs[0].ChainID

	for i, tx := range txs[1:] {
		if tx.ChainID != shared {
			return fmt.Errorf("%w: element 0 targets %d, element %d targets %d", ErrMultipleChainIDs, shared, i+1, tx.ChainID)
		}
	}

	if shared != engineChainID {
		return fmt.Errorf("%w: bundle targets chain %d, engine runs chain %d", ErrChainMismatch, shared, engineChainID)
	}

	return nil
}

// run executes the bundle in order, failing fast on the first element error.
// Results computed before the failing element are returned alongside the
// error; the caller decides whether to surface them. Effects already
// committed stay committed.
func (b *bundleRun) run(ctx context.Context, txs []*TransactionRequest) ([]*CallResult, error) {
	if err := validateChainIDs(txs, b.eng.ChainID()); err != nil {
		return nil, err
	}

	results := make([]*CallResult, 0, len(txs))

	for i, tx := range txs {
		result, err := b.runElement(ctx, tx)
		if err != nil {
			return results, fmt.Errorf("element %d: %w", i, err)
		}

		results = append(results, result)
	}

	return results, nil
}

// runElement positions the engine for the element, applies its overrides,
// then executes it.
func (b *bundleRun) runElement(ctx context.Context, tx *TransactionRequest) (*CallResult, error) {
	if err := b.position(tx); err != nil {
		return nil, err
	}

	if err := applyOverrides(ctx, b.eng, tx.Overrides); err != nil {
		return nil, err
	}

	params := engine.CallParams{
		From:       tx.From,
		To:         tx.To,
		Data:       tx.Data,
		Value:      tx.Value,
		GasLimit:   tx.GasLimit,
		AccessList: tx.AccessList,
		Trace:      tx.FormatTrace,
	}
	if params.GasLimit == 0 {
		params.GasLimit = b.defaultGasLimit
	}

	var (
		outcome *engine.Outcome
		err     error
	)

	if b.commit {
		outcome, err = b.eng.Transact(ctx, params)
	} else {
		outcome, err = b.eng.Call(ctx, params)
	}

	if err != nil {
		return nil, err
	}

	return buildResult(outcome, b.eng.BlockNumber(), tx.FormatTrace)
}

// position applies the element's block number rules. An element executes in
// place when it omits a block number or names the engine's current block.
// Any other number must move strictly past the previous element's request
// and never behind the engine; a valid advance also bumps the timestamp by
// blockTime unless the element carries its own.
func (b *bundleRun) position(tx *TransactionRequest) error {
	current := b.eng.BlockNumber()

	if tx.BlockNumber == nil {
		if b.prevRequested != nil {
			return fmt.Errorf("%w: an earlier element pinned block %d", ErrNoBlockNumber, *b.prevRequested)
		}

		return nil
	}

	requested := *tx.BlockNumber

	if requested == current {
		b.recordRequested(requested)

		return nil
	}

	if requested < current {
		return fmt.Errorf("%w: block %d is behind the engine's block %d", ErrInvalidBlockNumbers, requested, current)
	}

	if b.prevRequested != nil && requested <= *b.prevRequested {
		return fmt.Errorf("%w: block %d does not advance past %d", ErrInvalidBlockNumbers, requested, *b.prevRequested)
	}

	b.eng.SetBlockNumber(requested)

	if tx.BlockTimestamp != nil {
		b.eng.SetTimestamp(*tx.BlockTimestamp)
	} else {
		b.eng.SetTimestamp(b.eng.Timestamp() + b.blockTime)
	}

	b.recordRequested(requested)

	return nil
}

func (b *bundleRun) recordRequested(n uint64) {
	b.prevRequested = &n
}
