package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/upstream"
)

const (
	accountCacheSize   = 4096
	storageCacheSize   = 16384
	blockHashCacheSize = 256
)

// remoteAccount is the basic state of one account at the pinned block.
type remoteAccount struct {
	balance *big.Int
	nonce   uint64
	code    []byte
}

type storageSlotKey struct {
	addr common.Address
	slot common.Hash
}

// remoteReader serves account, storage and block hash reads for a fork
// pinned at one block. Every value is cached after the first fetch so a
// slot reads the same for the lifetime of the fork.
type remoteReader struct {
	log    logrus.FieldLogger
	client *upstream.Client
	block  uint64

	accounts    *lru.Cache[common.Address, *remoteAccount]
	storage     *lru.Cache[storageSlotKey, common.Hash]
	blockHashes *lru.Cache[uint64, common.Hash]
}

func newRemoteReader(log logrus.FieldLogger, client *upstream.Client, block uint64) (*remoteReader, error) {
	accounts, err := lru.New[common.Address, *remoteAccount](accountCacheSize)
	if err != nil {
		return nil, err
	}

	storage, err := lru.New[storageSlotKey, common.Hash](storageCacheSize)
	if err != nil {
		return nil, err
	}

	blockHashes, err := lru.New[uint64, common.Hash](blockHashCacheSize)
	if err != nil {
		return nil, err
	}

	return &remoteReader{
		log:         log.WithField("component", "fork_reader"),
		client:      client,
		block:       block,
		accounts:    accounts,
		storage:     storage,
		blockHashes: blockHashes,
	}, nil
}

func (r *remoteReader) retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 10 * time.Second

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (r *remoteReader) account(ctx context.Context, addr common.Address) (*remoteAccount, error) {
	if cached, ok := r.accounts.Get(addr); ok {
		return cached, nil
	}

	var acct *remoteAccount

	err := r.retry(ctx, func() error {
		balance, err := r.client.Balance(ctx, addr, r.block)
		if err != nil {
			return fmt.Errorf("failed to fetch balance: %w", err)
		}

		nonce, err := r.client.Nonce(ctx, addr, r.block)
		if err != nil {
			return fmt.Errorf("failed to fetch nonce: %w", err)
		}

		code, err := r.client.Code(ctx, addr, r.block)
		if err != nil {
			return fmt.Errorf("failed to fetch code: %w", err)
		}

		acct = &remoteAccount{
			balance: balance,
			nonce:   nonce,
			code:    code,
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remote account %s at block %d: %w", addr.Hex(), r.block, err)
	}

	r.accounts.Add(addr, acct)

	return acct, nil
}

func (r *remoteReader) storageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	key := storageSlotKey{addr: addr, slot: slot}

	if cached, ok := r.storage.Get(key); ok {
		return cached, nil
	}

	var value common.Hash

	err := r.retry(ctx, func() error {
		fetched, err := r.client.StorageAt(ctx, addr, slot, r.block)
		if err != nil {
			return err
		}

		value = fetched

		return nil
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("remote storage %s slot %s at block %d: %w", addr.Hex(), slot.Hex(), r.block, err)
	}

	r.storage.Add(key, value)

	return value, nil
}

func (r *remoteReader) blockHash(ctx context.Context, number uint64) (common.Hash, error) {
	if cached, ok := r.blockHashes.Get(number); ok {
		return cached, nil
	}

	var hash common.Hash

	err := r.retry(ctx, func() error {
		header, err := r.client.HeaderByNumber(ctx, &number)
		if err != nil {
			if errors.Is(err, upstream.ErrBlockNotFound) {
				return backoff.Permanent(err)
			}

			return err
		}

		hash = header.Hash

		return nil
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("remote block hash %d: %w", number, err)
	}

	r.blockHashes.Add(number, hash)

	return hash, nil
}
