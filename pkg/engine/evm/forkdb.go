package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

// stateReader is the remote side of a fork: reads against the pinned block.
type stateReader interface {
	account(ctx context.Context, addr common.Address) (*remoteAccount, error)
	storageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	blockHash(ctx context.Context, number uint64) (common.Hash, error)
}

// account is the overlay state of one address. Zero balance, nonce and code
// mean the account does not exist, the closest approximation a remote fork
// can give.
type account struct {
	balance    *big.Int
	nonce      uint64
	code       []byte
	destructed bool
}

func (a *account) empty() bool {
	return a.nonce == 0 && a.balance.Sign() == 0 && len(a.code) == 0
}

// forkDB is a vm.StateDB over remote chain state. Local writes shadow the
// remote view. Within a transaction every mutation is journaled so snapshots
// can unwind; between transactions dirty storage folds into the committed
// layer.
//
// Not safe for concurrent use.
type forkDB struct {
	reader stateReader
	ctx    context.Context

	accounts  map[common.Address]*account
	committed map[common.Address]map[common.Hash]common.Hash
	dirty     map[common.Address]map[common.Hash]common.Hash
	// wiped marks addresses whose storage no longer falls through to the
	// remote: replaced wholesale or owned by a recreated account.
	wiped map[common.Address]bool

	logs      []*types.Log
	refund    uint64
	transient map[common.Address]map[common.Hash]common.Hash
	access    map[common.Address]map[common.Hash]struct{}
	created   map[common.Address]bool

	journal   []func()
	snapshots []int

	err error
}

var _ vm.StateDB = (*forkDB)(nil)

func newForkDB(reader stateReader) *forkDB {
	return &forkDB{
		reader:    reader,
		ctx:       context.Background(),
		accounts:  make(map[common.Address]*account),
		committed: make(map[common.Address]map[common.Hash]common.Hash),
		dirty:     make(map[common.Address]map[common.Hash]common.Hash),
		wiped:     make(map[common.Address]bool),
		transient: make(map[common.Address]map[common.Hash]common.Hash),
		access:    make(map[common.Address]map[common.Hash]struct{}),
		created:   make(map[common.Address]bool),
	}
}

// setErr records the first remote read failure. vm.StateDB methods cannot
// return errors, so reads fail soft with zero values and the transaction is
// rejected afterwards.
func (db *forkDB) setErr(err error) {
	if db.err == nil {
		db.err = err
	}
}

func (db *forkDB) readErr() error {
	return db.err
}

func (db *forkDB) loadAccount(addr common.Address) *account {
	if a, ok := db.accounts[addr]; ok {
		return a
	}

	remote, err := db.reader.account(db.ctx, addr)
	if err != nil {
		db.setErr(err)

		remote = &remoteAccount{balance: new(big.Int)}
	}

	a := &account{
		balance: new(big.Int).Set(remote.balance),
		nonce:   remote.nonce,
		code:    remote.code,
	}
	db.accounts[addr] = a

	return a
}

// setCtx binds remote reads to the given context and clears any prior read
// failure. Used for state access outside a transaction.
func (db *forkDB) setCtx(ctx context.Context) {
	db.ctx = ctx
	db.err = nil
}

// beginTx resets all per-transaction state. The context carries through to
// remote reads made while the transaction executes.
func (db *forkDB) beginTx(ctx context.Context) {
	db.ctx = ctx
	db.err = nil
	db.logs = nil
	db.refund = 0
	db.journal = db.journal[:0]
	db.snapshots = db.snapshots[:0]
	db.transient = make(map[common.Address]map[common.Hash]common.Hash)
	db.created = make(map[common.Address]bool)
}

// commit makes the transaction's effects permanent: dirty storage folds into
// the committed layer and self-destructed accounts are cleared.
func (db *forkDB) commit() {
	for addr, slots := range db.dirty {
		target, ok := db.committed[addr]
		if !ok {
			target = make(map[common.Hash]common.Hash, len(slots))
			db.committed[addr] = target
		}

		for key, value := range slots {
			target[key] = value
		}

		delete(db.dirty, addr)
	}

	for addr, a := range db.accounts {
		if !a.destructed {
			continue
		}

		db.accounts[addr] = &account{balance: new(big.Int)}
		db.wiped[addr] = true
		delete(db.committed, addr)
	}

	db.journal = db.journal[:0]
	db.snapshots = db.snapshots[:0]
}

// revertAll unwinds every journaled mutation of the current transaction,
// restoring the state seen at beginTx.
func (db *forkDB) revertAll() {
	for i := len(db.journal) - 1; i >= 0; i-- {
		db.journal[i]()
	}

	db.journal = db.journal[:0]
	db.snapshots = db.snapshots[:0]
	db.dirty = make(map[common.Address]map[common.Hash]common.Hash)
}

// setBasic overwrites the account's basic state outside a transaction.
func (db *forkDB) setBasic(addr common.Address, balance *big.Int, nonce uint64, code []byte) {
	a := db.loadAccount(addr)
	a.balance = new(big.Int).Set(balance)
	a.nonce = nonce
	a.code = code
}

// setCommitted writes one storage slot directly into the committed layer.
func (db *forkDB) setCommitted(addr common.Address, key, value common.Hash) {
	slots, ok := db.committed[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		db.committed[addr] = slots
	}

	slots[key] = value
}

// replaceStorage detaches the address from remote storage and installs the
// given slots as its entire storage.
func (db *forkDB) replaceStorage(addr common.Address, slots map[common.Hash]common.Hash) {
	replacement := make(map[common.Hash]common.Hash, len(slots))
	for key, value := range slots {
		replacement[key] = value
	}

	db.committed[addr] = replacement
	delete(db.dirty, addr)
	db.wiped[addr] = true
}

// collectLogs returns the transaction's logs stamped with the block number.
func (db *forkDB) collectLogs(blockNumber uint64) []*types.Log {
	logs := make([]*types.Log, len(db.logs))
	for i, l := range db.logs {
		l.BlockNumber = blockNumber
		logs[i] = l
	}

	return logs
}

// CreateAccount makes addr a fresh account. An existing balance carries
// over; nonce, code and storage reset.
func (db *forkDB) CreateAccount(addr common.Address) {
	prev := db.loadAccount(addr)
	prevCommitted, hadCommitted := db.committed[addr]
	prevDirty, hadDirty := db.dirty[addr]
	prevWiped := db.wiped[addr]
	prevCreated := db.created[addr]

	db.journal = append(db.journal, func() {
		db.accounts[addr] = prev

		if hadCommitted {
			db.committed[addr] = prevCommitted
		} else {
			delete(db.committed, addr)
		}

		if hadDirty {
			db.dirty[addr] = prevDirty
		} else {
			delete(db.dirty, addr)
		}

		db.wiped[addr] = prevWiped
		db.created[addr] = prevCreated
	})

	db.accounts[addr] = &account{balance: new(big.Int).Set(prev.balance)}
	delete(db.committed, addr)
	delete(db.dirty, addr)
	db.wiped[addr] = true
	db.created[addr] = true
}

func (db *forkDB) SubBalance(addr common.Address, amount *big.Int) {
	a := db.loadAccount(addr)
	prev := a.balance

	db.journal = append(db.journal, func() { a.balance = prev })

	a.balance = new(big.Int).Sub(a.balance, amount)
}

func (db *forkDB) AddBalance(addr common.Address, amount *big.Int) {
	a := db.loadAccount(addr)
	prev := a.balance

	db.journal = append(db.journal, func() { a.balance = prev })

	a.balance = new(big.Int).Add(a.balance, amount)
}

func (db *forkDB) GetBalance(addr common.Address) *big.Int {
	return new(big.Int).Set(db.loadAccount(addr).balance)
}

func (db *forkDB) GetNonce(addr common.Address) uint64 {
	return db.loadAccount(addr).nonce
}

func (db *forkDB) SetNonce(addr common.Address, nonce uint64) {
	a := db.loadAccount(addr)
	prev := a.nonce

	db.journal = append(db.journal, func() { a.nonce = prev })

	a.nonce = nonce
}

func (db *forkDB) GetCodeHash(addr common.Address) common.Hash {
	a := db.loadAccount(addr)

	if a.empty() {
		return common.Hash{}
	}

	if len(a.code) == 0 {
		return types.EmptyCodeHash
	}

	return crypto.Keccak256Hash(a.code)
}

func (db *forkDB) GetCode(addr common.Address) []byte {
	return db.loadAccount(addr).code
}

func (db *forkDB) SetCode(addr common.Address, code []byte) {
	a := db.loadAccount(addr)
	prev := a.code

	db.journal = append(db.journal, func() { a.code = prev })

	a.code = code
}

func (db *forkDB) GetCodeSize(addr common.Address) int {
	return len(db.loadAccount(addr).code)
}

func (db *forkDB) AddRefund(gas uint64) {
	prev := db.refund

	db.journal = append(db.journal, func() { db.refund = prev })

	db.refund += gas
}

func (db *forkDB) SubRefund(gas uint64) {
	prev := db.refund

	if gas > db.refund {
		panic(fmt.Sprintf("refund counter below zero (gas: %d > refund: %d)", gas, db.refund))
	}

	db.journal = append(db.journal, func() { db.refund = prev })

	db.refund -= gas
}

func (db *forkDB) GetRefund() uint64 {
	return db.refund
}

func (db *forkDB) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := db.committed[addr]; ok {
		if value, ok := slots[key]; ok {
			return value
		}
	}

	if db.wiped[addr] {
		return common.Hash{}
	}

	value, err := db.reader.storageAt(db.ctx, addr, key)
	if err != nil {
		db.setErr(err)

		return common.Hash{}
	}

	// Memoize so the slot reads stable for the fork's lifetime.
	db.setCommitted(addr, key, value)

	return value
}

func (db *forkDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := db.dirty[addr]; ok {
		if value, ok := slots[key]; ok {
			return value
		}
	}

	return db.GetCommittedState(addr, key)
}

func (db *forkDB) SetState(addr common.Address, key, value common.Hash) {
	slots, ok := db.dirty[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		db.dirty[addr] = slots
	}

	prev, hadPrev := slots[key]

	db.journal = append(db.journal, func() {
		if hadPrev {
			slots[key] = prev
		} else {
			delete(slots, key)
		}
	})

	slots[key] = value
}

func (db *forkDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := db.transient[addr]; ok {
		return slots[key]
	}

	return common.Hash{}
}

func (db *forkDB) SetTransientState(addr common.Address, key, value common.Hash) {
	prev := db.GetTransientState(addr, key)
	if prev == value {
		return
	}

	slots, ok := db.transient[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		db.transient[addr] = slots
	}

	db.journal = append(db.journal, func() {
		if prev == (common.Hash{}) {
			delete(slots, key)
		} else {
			slots[key] = prev
		}
	})

	slots[key] = value
}

func (db *forkDB) SelfDestruct(addr common.Address) {
	a, ok := db.accounts[addr]
	if !ok {
		return
	}

	prevDestructed := a.destructed
	prevBalance := a.balance

	db.journal = append(db.journal, func() {
		a.destructed = prevDestructed
		a.balance = prevBalance
	})

	a.destructed = true
	a.balance = new(big.Int)
}

func (db *forkDB) HasSelfDestructed(addr common.Address) bool {
	a, ok := db.accounts[addr]

	return ok && a.destructed
}

// Selfdestruct6780 only destroys accounts created in the same transaction.
func (db *forkDB) Selfdestruct6780(addr common.Address) {
	if db.created[addr] {
		db.SelfDestruct(addr)
	}
}

func (db *forkDB) Exist(addr common.Address) bool {
	a := db.loadAccount(addr)

	return a.destructed || db.created[addr] || !a.empty()
}

func (db *forkDB) Empty(addr common.Address) bool {
	return db.loadAccount(addr).empty()
}

func (db *forkDB) AddressInAccessList(addr common.Address) bool {
	_, ok := db.access[addr]

	return ok
}

func (db *forkDB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	slots, ok := db.access[addr]
	if !ok {
		return false, false
	}

	_, slotOk := slots[slot]

	return true, slotOk
}

func (db *forkDB) AddAddressToAccessList(addr common.Address) {
	if _, ok := db.access[addr]; ok {
		return
	}

	db.journal = append(db.journal, func() { delete(db.access, addr) })

	db.access[addr] = make(map[common.Hash]struct{})
}

func (db *forkDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	db.AddAddressToAccessList(addr)

	slots := db.access[addr]
	if _, ok := slots[slot]; ok {
		return
	}

	db.journal = append(db.journal, func() { delete(slots, slot) })

	slots[slot] = struct{}{}
}

// Prepare resets the access list and transient storage for a new
// transaction, pre-warming the addresses the active fork rules require.
func (db *forkDB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	if rules.IsBerlin {
		db.access = make(map[common.Address]map[common.Hash]struct{})

		db.warmAddress(sender)

		if dest != nil {
			db.warmAddress(*dest)
		}

		for _, addr := range precompiles {
			db.warmAddress(addr)
		}

		for _, el := range txAccesses {
			db.warmAddress(el.Address)

			for _, key := range el.StorageKeys {
				db.access[el.Address][key] = struct{}{}
			}
		}

		if rules.IsShanghai {
			db.warmAddress(coinbase)
		}
	}

	db.transient = make(map[common.Address]map[common.Hash]common.Hash)
}

// warmAddress adds without journaling, only valid while rebuilding the list
// in Prepare.
func (db *forkDB) warmAddress(addr common.Address) {
	if _, ok := db.access[addr]; !ok {
		db.access[addr] = make(map[common.Hash]struct{})
	}
}

func (db *forkDB) Snapshot() int {
	db.snapshots = append(db.snapshots, len(db.journal))

	return len(db.snapshots) - 1
}

func (db *forkDB) RevertToSnapshot(id int) {
	if id < 0 || id >= len(db.snapshots) {
		panic(fmt.Sprintf("revert to non-existent snapshot %d", id))
	}

	target := db.snapshots[id]

	for len(db.journal) > target {
		last := len(db.journal) - 1
		undo := db.journal[last]
		db.journal = db.journal[:last]
		undo()
	}

	db.snapshots = db.snapshots[:id]
}

func (db *forkDB) AddLog(l *types.Log) {
	db.journal = append(db.journal, func() { db.logs = db.logs[:len(db.logs)-1] })

	l.Index = uint(len(db.logs))
	db.logs = append(db.logs, l)
}

func (db *forkDB) AddPreimage(common.Hash, []byte) {}
