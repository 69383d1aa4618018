package simulator

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ethsim/tx-simulator/pkg/engine"
)

// applyOverrides writes the requested account mutations into the engine.
// Addresses apply in sorted order so a run touches state deterministically.
// Overrides persist; nothing reverts them when the element completes.
func applyOverrides(ctx context.Context, eng engine.Engine, overrides map[common.Address]AccountOverride) error {
	if len(overrides) == 0 {
		return nil
	}

	addrs := make([]common.Address, 0, len(overrides))
	for addr := range overrides {
		addrs = append(addrs, addr)
	}

	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})

	for _, addr := range addrs {
		if err := applyOverride(ctx, eng, addr, overrides[addr]); err != nil {
			return err
		}
	}

	return nil
}

// applyOverride read-merge-writes one account. The base is the engine's
// current view; an account the fork has never seen merges over a zero-value
// account.
func applyOverride(ctx context.Context, eng engine.Engine, addr common.Address, override AccountOverride) error {
	info, err := eng.ReadAccount(ctx, addr)
	if err != nil {
		return fmt.Errorf("%w: reading account %s: %w", ErrOverride, addr.Hex(), err)
	}

	if override.Balance != nil {
		if override.Balance.Sign() < 0 {
			return fmt.Errorf("%w: negative balance for %s", ErrOverride, addr.Hex())
		}

		balance, overflow := uint256.FromBig(override.Balance)
		if overflow {
			return fmt.Errorf("%w: balance for %s overflows 256 bits", ErrOverride, addr.Hex())
		}

		info.Balance = balance
	}

	if override.Nonce != nil {
		info.Nonce = *override.Nonce
	}

	if override.Code != nil {
		info.Code = override.Code
	}

	if err := eng.WriteAccount(ctx, addr, info); err != nil {
		return fmt.Errorf("%w: writing account %s: %w", ErrOverride, addr.Hex(), err)
	}

	if override.Storage == nil {
		return nil
	}

	switch override.Storage.Mode {
	case StorageReplace:
		if err := eng.ReplaceStorage(ctx, addr, override.Storage.Slots); err != nil {
			return fmt.Errorf("%w: replacing storage of %s: %w", ErrOverride, addr.Hex(), err)
		}
	case StorageDiff:
		for key, val := range override.Storage.Slots {
			if err := eng.SetStorage(ctx, addr, key, val); err != nil {
				return fmt.Errorf("%w: writing storage of %s: %w", ErrOverride, addr.Hex(), err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown storage mode %d", ErrOverride, override.Storage.Mode)
	}

	return nil
}
