package api

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethsim/tx-simulator/pkg/engine"
	"github.com/ethsim/tx-simulator/pkg/simulator"
)

// SimulationRequest is one transaction to simulate. Bundle endpoints take an
// ordered array of these.
type SimulationRequest struct {
	ChainID        *uint64                          `json:"chainId"`
	From           *common.Address                  `json:"from"`
	To             *common.Address                  `json:"to"`
	Data           hexutil.Bytes                    `json:"data,omitempty"`
	GasLimit       uint64                           `json:"gasLimit,omitempty"`
	Value          *hexutil.Big                     `json:"value,omitempty"`
	AccessList     *types.AccessList                `json:"accessList,omitempty"`
	BlockNumber    *uint64                          `json:"blockNumber,omitempty"`
	BlockTimestamp *uint64                          `json:"blockTimestamp,omitempty"`
	StateOverrides map[common.Address]StateOverride `json:"stateOverrides,omitempty"`
	FormatTrace    bool                             `json:"formatTrace,omitempty"`
}

// StateOverride mutates one account before the element executes. state and
// stateDiff are mutually exclusive: state replaces the whole storage, stateDiff
// patches the listed slots.
type StateOverride struct {
	Balance   *hexutil.Big      `json:"balance,omitempty"`
	Nonce     *uint64           `json:"nonce,omitempty"`
	Code      *hexutil.Bytes    `json:"code,omitempty"`
	State     map[string]string `json:"state,omitempty"`
	StateDiff map[string]string `json:"stateDiff,omitempty"`
}

// SimulationResponse is the outcome of one simulated transaction.
type SimulationResponse struct {
	SimulationID   uint64        `json:"simulationId"`
	GasUsed        uint64        `json:"gasUsed"`
	BlockNumber    uint64        `json:"blockNumber"`
	Success        bool          `json:"success"`
	Trace          []CallTrace   `json:"trace"`
	FormattedTrace *string       `json:"formattedTrace,omitempty"`
	Logs           []LogEntry    `json:"logs"`
	ExitReason     string        `json:"exitReason"`
	ReturnData     hexutil.Bytes `json:"returnData"`
}

// CallTrace is one frame of the call tree, flattened in execution order.
type CallTrace struct {
	CallType string         `json:"callType"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Value    *hexutil.Big   `json:"value"`
}

// LogEntry is one event emitted during execution.
type LogEntry struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// StatefulSimulationRequest starts a session. Every field is optional; absent
// values fall back to the shared upstream pool and the forked block.
type StatefulSimulationRequest struct {
	ForkURL        string  `json:"forkUrl,omitempty"`
	ChainID        *uint64 `json:"chainId,omitempty"`
	GasLimit       uint64  `json:"gasLimit,omitempty"`
	BlockNumber    *uint64 `json:"blockNumber,omitempty"`
	BlockTimestamp *uint64 `json:"blockTimestamp,omitempty"`
}

// StatefulSimulationResponse carries the id later bundles run against.
type StatefulSimulationResponse struct {
	StatefulSimulationID string `json:"statefulSimulationId"`
}

// StatefulSimulationEndResponse acknowledges a session teardown.
type StatefulSimulationEndResponse struct {
	Success bool `json:"success"`
}

// HealthResponse reports upstream liveness.
type HealthResponse struct {
	Status string `json:"status"`
}

// toTransaction validates the wire request and converts it for the simulator.
func (r *SimulationRequest) toTransaction() (*simulator.TransactionRequest, error) {
	if r.ChainID == nil {
		return nil, errors.New("chainId is required")
	}

	if r.From == nil {
		return nil, errors.New("from is required")
	}

	if r.To == nil {
		return nil, errors.New("to is required")
	}

	tx := &simulator.TransactionRequest{
		ChainID:        *r.ChainID,
		From:           *r.From,
		To:             r.To,
		Data:           r.Data,
		GasLimit:       r.GasLimit,
		BlockNumber:    r.BlockNumber,
		BlockTimestamp: r.BlockTimestamp,
		FormatTrace:    r.FormatTrace,
	}

	if r.Value != nil {
		tx.Value = r.Value.ToInt()
	}

	if r.AccessList != nil {
		tx.AccessList = *r.AccessList
	}

	if len(r.StateOverrides) > 0 {
		tx.Overrides = make(map[common.Address]simulator.AccountOverride, len(r.StateOverrides))

		for addr, wire := range r.StateOverrides {
			override, err := wire.toOverride()
			if err != nil {
				return nil, fmt.Errorf("override for %s: %w", addr.Hex(), err)
			}

			tx.Overrides[addr] = override
		}
	}

	return tx, nil
}

func (o *StateOverride) toOverride() (simulator.AccountOverride, error) {
	override := simulator.AccountOverride{}

	if o.Balance != nil {
		override.Balance = o.Balance.ToInt()
	}

	if o.Nonce != nil {
		nonce := *o.Nonce
		override.Nonce = &nonce
	}

	if o.Code != nil {
		override.Code = *o.Code
	}

	if o.State != nil && o.StateDiff != nil {
		return override, errors.New("state and stateDiff are mutually exclusive")
	}

	if o.State != nil {
		slots, err := parseSlots(o.State)
		if err != nil {
			return override, err
		}

		override.Storage = &simulator.StorageOverride{Mode: simulator.StorageReplace, Slots: slots}
	}

	if o.StateDiff != nil {
		slots, err := parseSlots(o.StateDiff)
		if err != nil {
			return override, err
		}

		override.Storage = &simulator.StorageOverride{Mode: simulator.StorageDiff, Slots: slots}
	}

	return override, nil
}

func parseSlots(wire map[string]string) (map[common.Hash]common.Hash, error) {
	slots := make(map[common.Hash]common.Hash, len(wire))

	for key, value := range wire {
		slot, err := parseWord(key)
		if err != nil {
			return nil, err
		}

		word, err := parseWord(value)
		if err != nil {
			return nil, err
		}

		slots[slot] = word
	}

	return slots, nil
}

// parseWord parses a 256-bit hex quantity, accepting short forms like 0x1.
func parseWord(s string) (common.Hash, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Hash{}, fmt.Errorf("%q must be a 0x-prefixed hex quantity", s)
	}

	digits := s[2:]
	if len(digits) == 0 || len(digits) > 64 {
		return common.Hash{}, fmt.Errorf("%q is not a 256-bit hex quantity", s)
	}

	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return common.Hash{}, fmt.Errorf("%q is not a 256-bit hex quantity", s)
	}

	return common.BigToHash(n), nil
}

// newSimulationResponse converts a simulator result. The id is the element's
// 1-based position within its bundle.
func newSimulationResponse(id uint64, result *simulator.CallResult) SimulationResponse {
	return SimulationResponse{
		SimulationID:   id,
		GasUsed:        result.GasUsed,
		BlockNumber:    result.BlockNumber,
		Success:        result.Success,
		Trace:          flattenTrace(result.Trace),
		FormattedTrace: result.FormattedTrace,
		Logs:           newLogEntries(result.Logs),
		ExitReason:     result.ExitReason,
		ReturnData:     hexutil.Bytes(result.ReturnData),
	}
}

// flattenTrace walks the call tree in execution order. Absent traces flatten
// to an empty array, never null.
func flattenTrace(root *engine.CallFrame) []CallTrace {
	out := []CallTrace{}

	var walk func(frame *engine.CallFrame)

	walk = func(frame *engine.CallFrame) {
		value := frame.Value
		if value == nil {
			value = new(big.Int)
		}

		out = append(out, CallTrace{
			CallType: frame.Kind,
			From:     frame.From,
			To:       frame.To,
			Value:    (*hexutil.Big)(value),
		})

		for _, child := range frame.Calls {
			walk(child)
		}
	}

	if root != nil {
		walk(root)
	}

	return out
}

func newLogEntries(logs []*types.Log) []LogEntry {
	out := make([]LogEntry, 0, len(logs))

	for _, log := range logs {
		entry := LogEntry{
			Address: log.Address,
			Topics:  log.Topics,
			Data:    hexutil.Bytes(log.Data),
		}

		if entry.Topics == nil {
			entry.Topics = []common.Hash{}
		}

		out = append(out, entry)
	}

	return out
}

func (r *StatefulSimulationRequest) toSession() *simulator.SessionRequest {
	return &simulator.SessionRequest{
		ForkURL:        r.ForkURL,
		ChainID:        r.ChainID,
		GasLimit:       r.GasLimit,
		BlockNumber:    r.BlockNumber,
		BlockTimestamp: r.BlockTimestamp,
	}
}
