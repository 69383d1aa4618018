package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/ethsim/tx-simulator/pkg/engine"
)

// callTracer builds a call frame tree from the EVM's enter/exit events.
// Opcode-level events are ignored.
type callTracer struct {
	root  *engine.CallFrame
	stack []*engine.CallFrame
}

var _ vm.EVMLogger = (*callTracer)(nil)

func newCallTracer() *callTracer {
	return &callTracer{}
}

func (t *callTracer) result() *engine.CallFrame {
	return t.root
}

func (t *callTracer) CaptureTxStart(uint64) {}

func (t *callTracer) CaptureTxEnd(uint64) {}

func (t *callTracer) CaptureStart(_ *vm.EVM, from, to common.Address, create bool, _ []byte, _ uint64, value *big.Int) {
	kind := vm.CALL
	if create {
		kind = vm.CREATE
	}

	t.root = &engine.CallFrame{
		Kind:  kind.String(),
		From:  from,
		To:    to,
		Value: copyBig(value),
	}
	t.stack = append(t.stack[:0], t.root)
}

func (t *callTracer) CaptureEnd([]byte, uint64, error) {
	t.stack = t.stack[:0]
}

func (t *callTracer) CaptureEnter(typ vm.OpCode, from, to common.Address, _ []byte, _ uint64, value *big.Int) {
	if len(t.stack) == 0 {
		return
	}

	frame := &engine.CallFrame{
		Kind:  typ.String(),
		From:  from,
		To:    to,
		Value: copyBig(value),
	}

	parent := t.stack[len(t.stack)-1]
	parent.Calls = append(parent.Calls, frame)
	t.stack = append(t.stack, frame)
}

func (t *callTracer) CaptureExit([]byte, uint64, error) {
	// The root frame closes in CaptureEnd.
	if len(t.stack) > 1 {
		t.stack = t.stack[:len(t.stack)-1]
	}
}

func (t *callTracer) CaptureState(uint64, vm.OpCode, uint64, uint64, *vm.ScopeContext, []byte, int, error) {
}

func (t *callTracer) CaptureFault(uint64, vm.OpCode, uint64, uint64, *vm.ScopeContext, int, error) {
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}

	return new(big.Int).Set(v)
}
