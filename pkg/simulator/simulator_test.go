package simulator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethsim/tx-simulator/pkg/engine"
	"github.com/holiman/uint256"
)

// fakeExec records one execution with the environment it observed.
type fakeExec struct {
	params engine.CallParams
	commit bool
	block  uint64
	time   uint64
}

// fakeEngine implements engine.Engine over in-memory maps. Executions are
// recorded with the block environment they saw; outcomes replay from a queue,
// defaulting to a plain success.
type fakeEngine struct {
	mu sync.Mutex

	chainID     uint64
	blockNumber uint64
	timestamp   uint64
	gasLimit    uint64

	accounts map[common.Address]engine.AccountInfo
	writes   []common.Address
	storage  map[common.Address]map[common.Hash]common.Hash
	replaced []common.Address

	execs    []fakeExec
	attempts int
	outcomes []*engine.Outcome
	execErr  error

	readAccountErr error

	inExec  atomic.Bool
	overlap atomic.Bool

	closed int
}

var _ engine.Engine = (*fakeEngine)(nil)

func newFakeEngine(opts engine.Options) *fakeEngine {
	e := &fakeEngine{
		chainID:     1,
		blockNumber: 100,
		timestamp:   1_700_000_000,
		gasLimit:    30_000_000,
		accounts:    map[common.Address]engine.AccountInfo{},
		storage:     map[common.Address]map[common.Hash]common.Hash{},
	}

	if opts.ChainID != nil {
		e.chainID = *opts.ChainID
	}

	if opts.ForkBlock != nil {
		e.blockNumber = *opts.ForkBlock
	}

	if opts.BlockTimestamp != nil {
		e.timestamp = *opts.BlockTimestamp
	}

	if opts.GasLimit != 0 {
		e.gasLimit = opts.GasLimit
	}

	return e
}

func (e *fakeEngine) execute(params engine.CallParams, commit bool) (*engine.Outcome, error) {
	if !e.inExec.CompareAndSwap(false, true) {
		e.overlap.Store(true)
	}
	defer e.inExec.Store(false)

	time.Sleep(time.Millisecond)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.attempts++

	if e.execErr != nil {
		return nil, e.execErr
	}

	e.execs = append(e.execs, fakeExec{params: params, commit: commit, block: e.blockNumber, time: e.timestamp})

	if len(e.outcomes) > 0 {
		out := e.outcomes[0]
		e.outcomes = e.outcomes[1:]

		return out, nil
	}

	return &engine.Outcome{GasUsed: 21_000, ExitReason: "Stop"}, nil
}

func (e *fakeEngine) Call(_ context.Context, params engine.CallParams) (*engine.Outcome, error) {
	return e.execute(params, false)
}

func (e *fakeEngine) Transact(_ context.Context, params engine.CallParams) (*engine.Outcome, error) {
	return e.execute(params, true)
}

func (e *fakeEngine) ReadAccount(_ context.Context, addr common.Address) (engine.AccountInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readAccountErr != nil {
		return engine.AccountInfo{}, e.readAccountErr
	}

	if info, ok := e.accounts[addr]; ok {
		return info, nil
	}

	return engine.AccountInfo{Balance: uint256.NewInt(0)}, nil
}

func (e *fakeEngine) WriteAccount(_ context.Context, addr common.Address, info engine.AccountInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.accounts[addr] = info
	e.writes = append(e.writes, addr)

	return nil
}

func (e *fakeEngine) GetStorage(_ context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.storage[addr][key], nil
}

func (e *fakeEngine) SetStorage(_ context.Context, addr common.Address, key, value common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.storage[addr] == nil {
		e.storage[addr] = map[common.Hash]common.Hash{}
	}

	e.storage[addr][key] = value

	return nil
}

func (e *fakeEngine) ReplaceStorage(_ context.Context, addr common.Address, slots map[common.Hash]common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.replaced = append(e.replaced, addr)

	fresh := make(map[common.Hash]common.Hash, len(slots))
	for key, value := range slots {
		fresh[key] = value
	}

	e.storage[addr] = fresh

	return nil
}

func (e *fakeEngine) BlockNumber() uint64 { return e.blockNumber }

func (e *fakeEngine) SetBlockNumber(n uint64) { e.blockNumber = n }

func (e *fakeEngine) Timestamp() uint64 { return e.timestamp }

func (e *fakeEngine) SetTimestamp(ts uint64) { e.timestamp = ts }

func (e *fakeEngine) ChainID() uint64 { return e.chainID }

func (e *fakeEngine) GasLimit() uint64 { return e.gasLimit }

func (e *fakeEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed++
}

// fakeFactory hands out fake engines, preferring prepared ones so tests can
// seed outcomes and state.
type fakeFactory struct {
	mu       sync.Mutex
	err      error
	opts     []engine.Options
	engines  []*fakeEngine
	prepared []*fakeEngine
}

var _ engine.Factory = (*fakeFactory)(nil)

func (f *fakeFactory) NewEngine(_ context.Context, opts engine.Options) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.opts = append(f.opts, opts)

	var e *fakeEngine
	if len(f.prepared) > 0 {
		e = f.prepared[0]
		f.prepared = f.prepared[1:]
	} else {
		e = newFakeEngine(opts)
	}

	f.engines = append(f.engines, e)

	return e, nil
}

func newTestService(t *testing.T, config *Config, factory engine.Factory) *Service {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	svc, err := NewService(log, config, factory)
	require.NoError(t, err)

	return svc
}

func simpleTx(chainID uint64) *TransactionRequest {
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	return &TransactionRequest{
		ChainID: chainID,
		From:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		To:      &to,
		Value:   big.NewInt(1),
	}
}

func uint64ptr(n uint64) *uint64 {
	return &n
}

func TestSimulate_ReadOnly(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	result, err := svc.Simulate(context.Background(), simpleTx(1))
	require.NoError(t, err)

	assert.Equal(t, uint64(21_000), result.GasUsed)
	assert.True(t, result.Success)
	assert.Equal(t, "Stop", result.ExitReason)
	assert.Equal(t, uint64(100), result.BlockNumber)
	assert.NotNil(t, result.Logs)
	assert.Empty(t, result.Logs)
	assert.Nil(t, result.Trace)

	require.Len(t, factory.engines, 1)
	eng := factory.engines[0]
	require.Len(t, eng.execs, 1)
	assert.False(t, eng.execs[0].commit, "single simulation must not commit")
	assert.Equal(t, 1, eng.closed, "private fork must be torn down")

	require.NotNil(t, factory.opts[0].ChainID)
	assert.Equal(t, uint64(1), *factory.opts[0].ChainID)
	assert.Nil(t, factory.opts[0].ForkBlock)
}

func TestSimulate_PinsForkBlock(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	tx := simpleTx(1)
	tx.BlockNumber = uint64ptr(555)

	result, err := svc.Simulate(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(555), result.BlockNumber)

	require.NotNil(t, factory.opts[0].ForkBlock)
	assert.Equal(t, uint64(555), *factory.opts[0].ForkBlock)

	eng := factory.engines[0]
	require.Len(t, eng.execs, 1)
	assert.Equal(t, uint64(555), eng.execs[0].block)
	assert.Equal(t, uint64(555), eng.blockNumber, "naming the fork block executes in place")
}

func TestSimulate_FreshForkPerCall(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	_, err := svc.Simulate(context.Background(), simpleTx(1))
	require.NoError(t, err)
	_, err = svc.Simulate(context.Background(), simpleTx(1))
	require.NoError(t, err)

	require.Len(t, factory.engines, 2)
	assert.NotSame(t, factory.engines[0], factory.engines[1])
	assert.Equal(t, 1, factory.engines[0].closed)
	assert.Equal(t, 1, factory.engines[1].closed)
}

func TestSimulateBundle_CommitsSequentially(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	results, err := svc.SimulateBundle(context.Background(), []*TransactionRequest{simpleTx(1), simpleTx(1)})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Len(t, factory.engines, 1, "a bundle shares one private fork")
	eng := factory.engines[0]
	require.Len(t, eng.execs, 2)
	assert.True(t, eng.execs[0].commit)
	assert.True(t, eng.execs[1].commit)
	assert.Equal(t, 1, eng.closed)

	// Neither element named a block, so both run at the fork block with an
	// untouched timestamp.
	assert.Equal(t, uint64(100), eng.execs[0].block)
	assert.Equal(t, uint64(100), eng.execs[1].block)
	assert.Equal(t, eng.execs[0].time, eng.execs[1].time)
}

func TestSimulateBundle_Empty(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	results, err := svc.SimulateBundle(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, factory.engines, "no fork for an empty bundle")
}

func TestSimulateBundle_MultipleChainIDs(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	results, err := svc.SimulateBundle(context.Background(), []*TransactionRequest{simpleTx(1), simpleTx(5)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMultipleChainIDs)
	assert.Nil(t, results)

	eng := factory.engines[0]
	assert.Zero(t, eng.attempts, "validation failures must precede execution")
	assert.Equal(t, 1, eng.closed)
}

func TestRunSession_ChainMismatch(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{})
	require.NoError(t, err)

	_, err = svc.RunSession(context.Background(), id, []*TransactionRequest{simpleTx(5), simpleTx(5)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChainMismatch)
	assert.Zero(t, factory.engines[0].attempts)
}

func TestRunSession_AdvancesBlockAndTimestamp(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{BlockNumber: uint64ptr(100)})
	require.NoError(t, err)

	eng := factory.engines[0]
	forkTime := eng.timestamp

	tx := simpleTx(1)
	tx.BlockNumber = uint64ptr(101)

	results, err := svc.RunSession(context.Background(), id, []*TransactionRequest{tx})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, uint64(101), results[0].BlockNumber)
	assert.Equal(t, uint64(101), eng.execs[0].block)
	assert.Equal(t, forkTime+12, eng.execs[0].time, "default block time advances the clock")
}

func TestRunSession_ExplicitBlockTimestamp(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{BlockNumber: uint64ptr(100)})
	require.NoError(t, err)

	tx := simpleTx(1)
	tx.BlockNumber = uint64ptr(102)
	tx.BlockTimestamp = uint64ptr(9_999_999_999)

	_, err = svc.RunSession(context.Background(), id, []*TransactionRequest{tx})
	require.NoError(t, err)

	eng := factory.engines[0]
	assert.Equal(t, uint64(9_999_999_999), eng.execs[0].time)
}

func TestRunSession_ConsecutiveAdvancesCompoundTime(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{BlockNumber: uint64ptr(100)})
	require.NoError(t, err)

	eng := factory.engines[0]
	forkTime := eng.timestamp

	first := simpleTx(1)
	first.BlockNumber = uint64ptr(101)
	second := simpleTx(1)
	second.BlockNumber = uint64ptr(105)

	_, err = svc.RunSession(context.Background(), id, []*TransactionRequest{first, second})
	require.NoError(t, err)

	assert.Equal(t, forkTime+12, eng.execs[0].time)
	assert.Equal(t, forkTime+24, eng.execs[1].time)
	assert.Equal(t, uint64(105), eng.blockNumber)
}

func TestRunSession_MissingBlockNumberAfterPin(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{BlockNumber: uint64ptr(100)})
	require.NoError(t, err)

	pinned := simpleTx(1)
	pinned.BlockNumber = uint64ptr(100)

	_, err = svc.RunSession(context.Background(), id, []*TransactionRequest{pinned, simpleTx(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBlockNumber)
	assert.Contains(t, err.Error(), "element 1")

	// The first element named the current block, so it ran in place.
	eng := factory.engines[0]
	assert.Equal(t, 1, eng.attempts)
	assert.Equal(t, uint64(100), eng.execs[0].block)
}

func TestRunSession_BlockBehindEngine(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{BlockNumber: uint64ptr(100)})
	require.NoError(t, err)

	tx := simpleTx(1)
	tx.BlockNumber = uint64ptr(99)

	_, err = svc.RunSession(context.Background(), id, []*TransactionRequest{tx})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidBlockNumbers)
	assert.Zero(t, factory.engines[0].attempts)
}

func TestRunSession_RegressionAbortsMidBundle(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{BlockNumber: uint64ptr(100)})
	require.NoError(t, err)

	first := simpleTx(1)
	first.BlockNumber = uint64ptr(105)
	second := simpleTx(1)
	second.BlockNumber = uint64ptr(103)

	results, err := svc.RunSession(context.Background(), id, []*TransactionRequest{first, second})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidBlockNumbers)
	assert.Nil(t, results, "partial results are discarded by default")

	// The first element's committed effects survive the abort.
	eng := factory.engines[0]
	assert.Equal(t, 1, eng.attempts)
	assert.Equal(t, uint64(105), eng.blockNumber)
}

func TestRunSession_PartialResultsReturned(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{ReturnPartialResults: true}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{BlockNumber: uint64ptr(100)})
	require.NoError(t, err)

	first := simpleTx(1)
	first.BlockNumber = uint64ptr(105)
	second := simpleTx(1)
	second.BlockNumber = uint64ptr(103)

	results, err := svc.RunSession(context.Background(), id, []*TransactionRequest{first, second})
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
}

func TestBundle_RevertedElementIsNotAnError(t *testing.T) {
	prepared := newFakeEngine(engine.Options{})
	prepared.outcomes = []*engine.Outcome{
		{GasUsed: 30_000, Reverted: true, ExitReason: "Revert", ReturnData: []byte{0xde, 0xad}},
		{GasUsed: 21_000, ExitReason: "Stop"},
	}

	factory := &fakeFactory{prepared: []*fakeEngine{prepared}}
	svc := newTestService(t, &Config{}, factory)

	results, err := svc.SimulateBundle(context.Background(), []*TransactionRequest{simpleTx(1), simpleTx(1)})
	require.NoError(t, err, "a reverted transaction is a result, not an error")
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Equal(t, "Revert", results[0].ExitReason)
	assert.Equal(t, []byte{0xde, 0xad}, results[0].ReturnData)
	assert.True(t, results[1].Success)
}

func TestBundle_ExecutionErrorFailsFast(t *testing.T) {
	prepared := newFakeEngine(engine.Options{})
	prepared.execErr = fmt.Errorf("%w: remote state unavailable", engine.ErrExecution)

	factory := &fakeFactory{prepared: []*fakeEngine{prepared}}
	svc := newTestService(t, &Config{}, factory)

	results, err := svc.SimulateBundle(context.Background(), []*TransactionRequest{simpleTx(1), simpleTx(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrExecution)
	assert.Nil(t, results)
	assert.Equal(t, 1, prepared.attempts, "the failing element aborts the rest")
}

func TestSession_Lifecycle(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, svc.SessionCount())

	_, err = svc.RunSession(context.Background(), id, []*TransactionRequest{simpleTx(1)})
	require.NoError(t, err)

	require.NoError(t, svc.EndSession(context.Background(), id))
	assert.Equal(t, 0, svc.SessionCount())
	assert.Equal(t, 1, factory.engines[0].closed)

	_, err = svc.RunSession(context.Background(), id, []*TransactionRequest{simpleTx(1)})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = svc.EndSession(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, factory.engines[0].closed, "engine closes exactly once")
}

func TestSession_UnknownID(t *testing.T) {
	svc := newTestService(t, &Config{}, &fakeFactory{})

	_, err := svc.RunSession(context.Background(), "b4f9a848-0000-0000-0000-000000000000", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = svc.EndSession(context.Background(), "b4f9a848-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSession_DistinctSessionsIndependent(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	first, err := svc.StartSession(context.Background(), &SessionRequest{})
	require.NoError(t, err)
	second, err := svc.StartSession(context.Background(), &SessionRequest{})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.NoError(t, svc.EndSession(context.Background(), first))

	_, err = svc.RunSession(context.Background(), second, []*TransactionRequest{simpleTx(1)})
	require.NoError(t, err)

	assert.Equal(t, 1, factory.engines[0].closed)
	assert.Equal(t, 0, factory.engines[1].closed)
	assert.Equal(t, 1, factory.engines[1].attempts)
}

func TestSession_StatePersistsAcrossBundles(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{})
	require.NoError(t, err)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	tx := simpleTx(1)
	tx.Overrides = map[common.Address]AccountOverride{
		addr: {Balance: big.NewInt(5)},
	}

	_, err = svc.RunSession(context.Background(), id, []*TransactionRequest{tx})
	require.NoError(t, err)

	_, err = svc.RunSession(context.Background(), id, []*TransactionRequest{simpleTx(1)})
	require.NoError(t, err)

	eng := factory.engines[0]
	assert.Equal(t, 2, eng.attempts, "both bundles run on the same engine")
	assert.Equal(t, uint64(5), eng.accounts[addr].Balance.Uint64(), "override persists past its bundle")
}

func TestSession_OverrideBalanceAndStorageDiff(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	slot1 := common.HexToHash("0x01")
	slot9 := common.HexToHash("0x09")

	prepared := newFakeEngine(engine.Options{})
	prepared.accounts[addr] = engine.AccountInfo{Balance: uint256.NewInt(10), Nonce: 3}
	prepared.storage[addr] = map[common.Hash]common.Hash{
		slot1: common.HexToHash("0x0a"),
		slot9: common.HexToHash("0x90"),
	}

	factory := &fakeFactory{prepared: []*fakeEngine{prepared}}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{})
	require.NoError(t, err)

	tx := simpleTx(1)
	tx.Overrides = map[common.Address]AccountOverride{
		addr: {
			Balance: big.NewInt(5),
			Storage: &StorageOverride{
				Mode:  StorageDiff,
				Slots: map[common.Hash]common.Hash{slot1: common.HexToHash("0x02")},
			},
		},
	}

	_, err = svc.RunSession(context.Background(), id, []*TransactionRequest{tx})
	require.NoError(t, err)

	assert.Equal(t, uint64(5), prepared.accounts[addr].Balance.Uint64())
	assert.Equal(t, uint64(3), prepared.accounts[addr].Nonce, "untouched fields keep their base value")
	assert.Equal(t, common.HexToHash("0x02"), prepared.storage[addr][slot1])
	assert.Equal(t, common.HexToHash("0x90"), prepared.storage[addr][slot9], "diff leaves unlisted slots alone")
}

func TestSession_ConcurrentRunsSerialize(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	id, err := svc.StartSession(context.Background(), &SessionRequest{})
	require.NoError(t, err)

	var wg sync.WaitGroup

	errs := make([]error, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			_, errs[n] = svc.RunSession(context.Background(), id, []*TransactionRequest{simpleTx(1)})
		}(i)
	}

	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	eng := factory.engines[0]
	assert.Equal(t, 8, eng.attempts)
	assert.False(t, eng.overlap.Load(), "session executions must not interleave")
}

func TestStartSession_EngineCreateError(t *testing.T) {
	factory := &fakeFactory{err: fmt.Errorf("%w: no healthy endpoint", engine.ErrEngineCreate)}
	svc := newTestService(t, &Config{}, factory)

	_, err := svc.StartSession(context.Background(), &SessionRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrEngineCreate)
	assert.Equal(t, 0, svc.SessionCount(), "failed creation leaves the registry unchanged")
}

func TestSimulate_TracePassthroughAndFormatting(t *testing.T) {
	from := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	inner := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	trace := &engine.CallFrame{
		Kind:  "CALL",
		From:  from,
		To:    to,
		Value: big.NewInt(7),
		Calls: []*engine.CallFrame{
			{Kind: "STATICCALL", From: to, To: inner},
		},
	}

	prepared := newFakeEngine(engine.Options{})
	prepared.outcomes = []*engine.Outcome{{GasUsed: 40_000, ExitReason: "Return", Trace: trace}}

	factory := &fakeFactory{prepared: []*fakeEngine{prepared}}
	svc := newTestService(t, &Config{}, factory)

	tx := simpleTx(1)
	tx.FormatTrace = true

	result, err := svc.Simulate(context.Background(), tx)
	require.NoError(t, err)

	assert.True(t, prepared.execs[0].params.Trace)
	require.NotNil(t, result.Trace)
	assert.Equal(t, "CALL", result.Trace.Kind)

	require.NotNil(t, result.FormattedTrace)
	assert.Contains(t, *result.FormattedTrace, "CALL "+from.Hex()+" -> "+to.Hex())
	assert.Contains(t, *result.FormattedTrace, "[value: 7]")
	assert.Contains(t, *result.FormattedTrace, "  STATICCALL")
}

func TestSimulate_NoFormattingWithoutRequest(t *testing.T) {
	trace := &engine.CallFrame{Kind: "CALL"}

	prepared := newFakeEngine(engine.Options{})
	prepared.outcomes = []*engine.Outcome{{GasUsed: 21_000, ExitReason: "Stop", Trace: trace}}

	factory := &fakeFactory{prepared: []*fakeEngine{prepared}}
	svc := newTestService(t, &Config{}, factory)

	result, err := svc.Simulate(context.Background(), simpleTx(1))
	require.NoError(t, err)

	assert.False(t, prepared.execs[0].params.Trace)
	assert.Nil(t, result.FormattedTrace)
	assert.NotNil(t, result.Trace, "raw frames pass through untouched")
}

func TestSimulate_DefaultGasLimit(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{DefaultGasLimit: 5_000_000}, factory)

	_, err := svc.Simulate(context.Background(), simpleTx(1))
	require.NoError(t, err)

	explicit := simpleTx(1)
	explicit.GasLimit = 123_456

	_, err = svc.Simulate(context.Background(), explicit)
	require.NoError(t, err)

	assert.Equal(t, uint64(5_000_000), factory.engines[0].execs[0].params.GasLimit)
	assert.Equal(t, uint64(123_456), factory.engines[1].execs[0].params.GasLimit)
}

func TestService_StartStop(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{}, factory)

	require.NoError(t, svc.Start(context.Background()))
	assert.Nil(t, svc.scheduler, "zero TTL leaves the janitor off")

	_, err := svc.StartSession(context.Background(), &SessionRequest{})
	require.NoError(t, err)

	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, 0, svc.SessionCount())
	assert.Equal(t, 1, factory.engines[0].closed)
}

func TestService_StartWithTTL(t *testing.T) {
	factory := &fakeFactory{}
	svc := newTestService(t, &Config{SessionTTL: time.Hour}, factory)

	require.NoError(t, svc.Start(context.Background()))
	assert.NotNil(t, svc.scheduler)
	require.NoError(t, svc.Stop(context.Background()))
}

func TestNewService_InvalidConfig(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	_, err := NewService(log, &Config{SessionTTL: -time.Second}, &fakeFactory{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sessionTTL")
}
