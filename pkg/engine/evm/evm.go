// Package evm runs transactions on a go-ethereum EVM over a forked remote
// state view. Each engine pins one upstream block; local writes shadow the
// remote reads, so sequential transactions observe each other's effects
// without touching the real chain.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/common/metrics"
	"github.com/ethsim/tx-simulator/pkg/engine"
	"github.com/ethsim/tx-simulator/pkg/upstream"
)

// Factory builds fork engines backed by the upstream endpoint pool.
type Factory struct {
	log  logrus.FieldLogger
	pool *upstream.Pool
}

var _ engine.Factory = (*Factory)(nil)

func NewFactory(log logrus.FieldLogger, pool *upstream.Pool) *Factory {
	return &Factory{
		log:  log.WithField("component", "evm"),
		pool: pool,
	}
}

// NewEngine forks the chain at the requested block and returns an engine
// positioned there. Any failure to reach the upstream or resolve the fork
// point wraps engine.ErrEngineCreate.
func (f *Factory) NewEngine(ctx context.Context, opts engine.Options) (engine.Engine, error) {
	var client *upstream.Client

	if opts.ForkURL != "" {
		c, err := upstream.NewClient(f.log, &upstream.EndpointConfig{
			Name:    "fork-override",
			Address: opts.ForkURL,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrEngineCreate, err)
		}

		client = c
	} else {
		c, err := f.pool.WaitForHealthyEndpoint(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w: %w", engine.ErrEngineCreate, upstream.ErrNoHealthyEndpoint, err)
		}

		client = c
	}

	chainID := client.CachedChainID()

	if opts.ChainID != nil {
		chainID = *opts.ChainID
	} else if chainID == 0 {
		fetched, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to resolve chain id: %w", engine.ErrEngineCreate, err)
		}

		chainID = fetched
	}

	header, err := client.HeaderByNumber(ctx, opts.ForkBlock)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve fork block: %w", engine.ErrEngineCreate, err)
	}

	reader, err := newRemoteReader(f.log, client, header.Number)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrEngineCreate, err)
	}

	timestamp := header.Timestamp
	if opts.BlockTimestamp != nil {
		timestamp = *opts.BlockTimestamp
	}

	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		gasLimit = header.GasLimit
	}

	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}

	f.log.WithFields(logrus.Fields{
		"endpoint":   client.Name(),
		"chain_id":   chainID,
		"fork_block": header.Number,
		"timestamp":  timestamp,
	}).Debug("Forked chain state")

	metrics.ActiveForks.Inc()

	return &Engine{
		log:         f.log,
		db:          newForkDB(reader),
		reader:      reader,
		chainConfig: forkChainConfig(chainID),
		chainID:     chainID,
		blockNumber: header.Number,
		timestamp:   timestamp,
		gasLimit:    gasLimit,
		baseFee:     baseFee,
		random:      header.MixDigest,
	}, nil
}

// forkChainConfig enables every fork from the genesis block so simulated
// execution always runs under the latest rules, whatever the remote chain.
func forkChainConfig(chainID uint64) *params.ChainConfig {
	var shanghaiTime, cancunTime uint64

	return &params.ChainConfig{
		ChainID:                       new(big.Int).SetUint64(chainID),
		HomesteadBlock:                big.NewInt(0),
		DAOForkSupport:                true,
		EIP150Block:                   big.NewInt(0),
		EIP155Block:                   big.NewInt(0),
		EIP158Block:                   big.NewInt(0),
		ByzantiumBlock:                big.NewInt(0),
		ConstantinopleBlock:           big.NewInt(0),
		PetersburgBlock:               big.NewInt(0),
		IstanbulBlock:                 big.NewInt(0),
		MuirGlacierBlock:              big.NewInt(0),
		BerlinBlock:                   big.NewInt(0),
		LondonBlock:                   big.NewInt(0),
		ArrowGlacierBlock:             big.NewInt(0),
		GrayGlacierBlock:              big.NewInt(0),
		MergeNetsplitBlock:            big.NewInt(0),
		ShanghaiTime:                  &shanghaiTime,
		CancunTime:                    &cancunTime,
		TerminalTotalDifficulty:       common.Big0,
		TerminalTotalDifficultyPassed: true,
	}
}

// Engine executes transactions against one forked state view. Not safe for
// concurrent use.
type Engine struct {
	log    logrus.FieldLogger
	db     *forkDB
	reader *remoteReader

	chainConfig *params.ChainConfig
	chainID     uint64
	blockNumber uint64
	timestamp   uint64
	gasLimit    uint64
	baseFee     *big.Int
	random      common.Hash
	coinbase    common.Address

	closed bool
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) Call(ctx context.Context, params engine.CallParams) (*engine.Outcome, error) {
	return e.execute(ctx, params, false)
}

func (e *Engine) Transact(ctx context.Context, params engine.CallParams) (*engine.Outcome, error) {
	return e.execute(ctx, params, true)
}

func (e *Engine) execute(ctx context.Context, params engine.CallParams, persist bool) (*engine.Outcome, error) {
	e.db.beginTx(ctx)

	gasLimit := params.GasLimit
	if gasLimit == 0 {
		gasLimit = e.gasLimit
	}

	value := params.Value
	if value == nil {
		value = new(big.Int)
	}

	msg := &core.Message{
		From:              params.From,
		To:                params.To,
		Nonce:             e.db.GetNonce(params.From),
		Value:             value,
		GasLimit:          gasLimit,
		GasPrice:          new(big.Int),
		GasFeeCap:         new(big.Int),
		GasTipCap:         new(big.Int),
		Data:              params.Data,
		AccessList:        params.AccessList,
		SkipAccountChecks: true,
	}

	vmConfig := vm.Config{NoBaseFee: true}

	var tracer *callTracer

	if params.Trace {
		tracer = newCallTracer()
		vmConfig.Tracer = tracer
	}

	machine := vm.NewEVM(e.blockContext(ctx), core.NewEVMTxContext(msg), e.db, e.chainConfig, vmConfig)

	gp := new(core.GasPool).AddGas(math.MaxUint64)

	result, err := core.ApplyMessage(machine, msg, gp)

	if readErr := e.db.readErr(); readErr != nil {
		e.db.revertAll()

		return nil, fmt.Errorf("%w: remote state unavailable: %w", engine.ErrExecution, readErr)
	}

	if err != nil {
		e.db.revertAll()

		return nil, fmt.Errorf("%w: %w", engine.ErrExecution, err)
	}

	outcome := &engine.Outcome{
		GasUsed:    result.UsedGas,
		Reverted:   result.Err != nil,
		ExitReason: exitReason(result),
		ReturnData: result.ReturnData,
		Logs:       e.db.collectLogs(e.blockNumber),
	}

	if tracer != nil {
		outcome.Trace = tracer.result()
	}

	if persist {
		e.db.commit()
	} else {
		e.db.revertAll()
	}

	e.log.WithFields(logrus.Fields{
		"from":     params.From.Hex(),
		"gas_used": outcome.GasUsed,
		"reverted": outcome.Reverted,
		"persist":  persist,
	}).Debug("Executed transaction")

	return outcome, nil
}

func (e *Engine) blockContext(ctx context.Context) vm.BlockContext {
	random := e.random

	return vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     e.blockHashFn(ctx),
		Coinbase:    e.coinbase,
		GasLimit:    e.gasLimit,
		BlockNumber: new(big.Int).SetUint64(e.blockNumber),
		Time:        e.timestamp,
		Difficulty:  new(big.Int),
		BaseFee:     new(big.Int).Set(e.baseFee),
		BlobBaseFee: big.NewInt(1),
		Random:      &random,
	}
}

// blockHashFn resolves BLOCKHASH against the upstream. Blocks the upstream
// does not have, such as numbers past the fork point, read as zero.
func (e *Engine) blockHashFn(ctx context.Context) vm.GetHashFunc {
	return func(n uint64) common.Hash {
		hash, err := e.db.reader.blockHash(ctx, n)
		if err != nil {
			if !errors.Is(err, upstream.ErrBlockNotFound) {
				e.db.setErr(err)
			}

			return common.Hash{}
		}

		return hash
	}
}

func (e *Engine) ReadAccount(ctx context.Context, addr common.Address) (engine.AccountInfo, error) {
	e.db.setCtx(ctx)

	a := e.db.loadAccount(addr)

	if err := e.db.readErr(); err != nil {
		return engine.AccountInfo{}, err
	}

	balance, _ := uint256.FromBig(a.balance)
	code := make([]byte, len(a.code))
	copy(code, a.code)

	return engine.AccountInfo{
		Balance: balance,
		Nonce:   a.nonce,
		Code:    code,
	}, nil
}

func (e *Engine) WriteAccount(ctx context.Context, addr common.Address, info engine.AccountInfo) error {
	e.db.setCtx(ctx)

	balance := new(big.Int)
	if info.Balance != nil {
		balance = info.Balance.ToBig()
	}

	e.db.setBasic(addr, balance, info.Nonce, info.Code)

	return e.db.readErr()
}

func (e *Engine) GetStorage(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	e.db.setCtx(ctx)

	value := e.db.GetState(addr, key)

	if err := e.db.readErr(); err != nil {
		return common.Hash{}, err
	}

	return value, nil
}

func (e *Engine) SetStorage(ctx context.Context, addr common.Address, key, value common.Hash) error {
	e.db.setCtx(ctx)
	e.db.setCommitted(addr, key, value)

	return nil
}

func (e *Engine) ReplaceStorage(ctx context.Context, addr common.Address, slots map[common.Hash]common.Hash) error {
	e.db.setCtx(ctx)
	e.db.replaceStorage(addr, slots)

	return nil
}

func (e *Engine) BlockNumber() uint64 {
	return e.blockNumber
}

func (e *Engine) SetBlockNumber(n uint64) {
	e.blockNumber = n
}

func (e *Engine) Timestamp() uint64 {
	return e.timestamp
}

func (e *Engine) SetTimestamp(ts uint64) {
	e.timestamp = ts
}

func (e *Engine) ChainID() uint64 {
	return e.chainID
}

func (e *Engine) GasLimit() uint64 {
	return e.gasLimit
}

func (e *Engine) Close() {
	if e.closed {
		return
	}

	e.closed = true

	if e.reader != nil {
		e.reader.accounts.Purge()
		e.reader.storage.Purge()
		e.reader.blockHashes.Purge()
	}

	metrics.ActiveForks.Dec()
}

// exitReason names the way execution finished, using the conventional halt
// vocabulary.
func exitReason(result *core.ExecutionResult) string {
	if result.Err == nil {
		if len(result.ReturnData) > 0 {
			return "Return"
		}

		return "Stop"
	}

	switch {
	case errors.Is(result.Err, vm.ErrExecutionReverted):
		return "Revert"
	case errors.Is(result.Err, vm.ErrOutOfGas), errors.Is(result.Err, vm.ErrGasUintOverflow):
		return "OutOfGas"
	case errors.Is(result.Err, vm.ErrCodeStoreOutOfGas):
		return "CodeStoreOutOfGas"
	case errors.Is(result.Err, vm.ErrDepth):
		return "CallTooDeep"
	case errors.Is(result.Err, vm.ErrInsufficientBalance):
		return "OutOfFunds"
	case errors.Is(result.Err, vm.ErrContractAddressCollision):
		return "CreateCollision"
	case errors.Is(result.Err, vm.ErrMaxCodeSizeExceeded):
		return "CreateContractSizeLimit"
	case errors.Is(result.Err, vm.ErrMaxInitCodeSizeExceeded):
		return "CreateInitCodeSizeLimit"
	case errors.Is(result.Err, vm.ErrInvalidJump):
		return "InvalidJump"
	case errors.Is(result.Err, vm.ErrWriteProtection):
		return "StateChangeDuringStaticCall"
	case errors.Is(result.Err, vm.ErrReturnDataOutOfBounds):
		return "OutOfOffset"
	case errors.Is(result.Err, vm.ErrNonceUintOverflow):
		return "NonceOverflow"
	case errors.Is(result.Err, vm.ErrInvalidCode):
		return "CreateContractStartingWithEF"
	}

	msg := result.Err.Error()

	switch {
	case strings.Contains(msg, "invalid opcode"):
		return "OpcodeNotFound"
	case strings.Contains(msg, "stack underflow"):
		return "StackUnderflow"
	case strings.Contains(msg, "stack limit reached"):
		return "StackOverflow"
	}

	return msg
}
