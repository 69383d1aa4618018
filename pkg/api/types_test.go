package api

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethsim/tx-simulator/pkg/engine"
	"github.com/ethsim/tx-simulator/pkg/simulator"
)

func TestParseWord(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    common.Hash
		wantErr bool
	}{
		{name: "short form", input: "0x1", want: common.BigToHash(big.NewInt(1))},
		{name: "leading zero", input: "0x01", want: common.BigToHash(big.NewInt(1))},
		{name: "full width", input: "0x" + "00000000000000000000000000000000000000000000000000000000000000ff", want: common.BigToHash(big.NewInt(255))},
		{name: "no prefix", input: "1", wantErr: true},
		{name: "empty digits", input: "0x", wantErr: true},
		{name: "too long", input: "0x" + "10000000000000000000000000000000000000000000000000000000000000000", wantErr: true},
		{name: "not hex", input: "0xzz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWord(tt.input)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStateOverride_ToOverride(t *testing.T) {
	balance := (*hexutil.Big)(big.NewInt(1000))
	nonce := uint64(7)
	code := hexutil.Bytes{0x60, 0x00}

	wire := StateOverride{
		Balance: balance,
		Nonce:   &nonce,
		Code:    &code,
		StateDiff: map[string]string{
			"0x1": "0x2a",
		},
	}

	override, err := wire.toOverride()
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(1000), override.Balance)
	require.NotNil(t, override.Nonce)
	assert.Equal(t, uint64(7), *override.Nonce)
	assert.Equal(t, []byte{0x60, 0x00}, override.Code)

	require.NotNil(t, override.Storage)
	assert.Equal(t, simulator.StorageDiff, override.Storage.Mode)
	assert.Equal(t, common.BigToHash(big.NewInt(42)), override.Storage.Slots[common.BigToHash(big.NewInt(1))])
}

func TestStateOverride_FullStorage(t *testing.T) {
	wire := StateOverride{
		State: map[string]string{"0x0": "0x1"},
	}

	override, err := wire.toOverride()
	require.NoError(t, err)
	require.NotNil(t, override.Storage)
	assert.Equal(t, simulator.StorageReplace, override.Storage.Mode)
}

func TestStateOverride_BothStorageKeys(t *testing.T) {
	wire := StateOverride{
		State:     map[string]string{"0x0": "0x1"},
		StateDiff: map[string]string{"0x0": "0x2"},
	}

	_, err := wire.toOverride()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestStateOverride_EmptyCodeClears(t *testing.T) {
	code := hexutil.Bytes{}

	override, err := (&StateOverride{Code: &code}).toOverride()
	require.NoError(t, err)

	// Non-nil empty code means clear; nil means keep.
	require.NotNil(t, override.Code)
	assert.Empty(t, override.Code)
}

func TestSimulationRequest_ToTransaction(t *testing.T) {
	var req SimulationRequest

	body := `{
		"chainId": 1,
		"from": "0x5b38da6a701c568545dcfcb03fcb875f56beddc4",
		"to": "0xd8da6bf26964af9d7eed9e03e53415d37aa96045",
		"data": "0xdeadbeef",
		"gasLimit": 500000,
		"value": "0x38d7ea4c68000",
		"accessList": [{"address": "0xd8da6bf26964af9d7eed9e03e53415d37aa96045", "storageKeys": []}],
		"blockNumber": 18000000,
		"blockTimestamp": 1700000000,
		"stateOverrides": {
			"0xd8da6bf26964af9d7eed9e03e53415d37aa96045": {"balance": "0xde0b6b3a7640000"}
		},
		"formatTrace": true
	}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	tx, err := req.toTransaction()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), tx.ChainID)
	assert.Equal(t, common.HexToAddress("0x5b38da6a701c568545dcfcb03fcb875f56beddc4"), tx.From)
	require.NotNil(t, tx.To)
	assert.Equal(t, common.HexToAddress("0xd8da6bf26964af9d7eed9e03e53415d37aa96045"), *tx.To)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, tx.Data)
	assert.Equal(t, uint64(500000), tx.GasLimit)
	assert.Equal(t, big.NewInt(1000000000000000), tx.Value)
	require.Len(t, tx.AccessList, 1)
	require.NotNil(t, tx.BlockNumber)
	assert.Equal(t, uint64(18000000), *tx.BlockNumber)
	require.NotNil(t, tx.BlockTimestamp)
	assert.Equal(t, uint64(1700000000), *tx.BlockTimestamp)
	assert.True(t, tx.FormatTrace)

	override, ok := tx.Overrides[common.HexToAddress("0xd8da6bf26964af9d7eed9e03e53415d37aa96045")]
	require.True(t, ok)
	assert.Equal(t, big.NewInt(1000000000000000000), override.Balance)
}

func TestSimulationRequest_BadOverride(t *testing.T) {
	chainID := uint64(1)
	from := common.HexToAddress("0x1")
	to := common.HexToAddress("0x2")

	req := SimulationRequest{
		ChainID: &chainID,
		From:    &from,
		To:      &to,
		StateOverrides: map[common.Address]StateOverride{
			to: {State: map[string]string{"1": "0x2"}},
		},
	}

	_, err := req.toTransaction()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "override for")
}

func TestFlattenTrace(t *testing.T) {
	a := common.HexToAddress("0xa")
	b := common.HexToAddress("0xb")
	c := common.HexToAddress("0xc")

	root := &engine.CallFrame{
		Kind:  "CALL",
		From:  a,
		To:    b,
		Value: big.NewInt(5),
		Calls: []*engine.CallFrame{
			{Kind: "STATICCALL", From: b, To: c},
			{Kind: "DELEGATECALL", From: b, To: a},
		},
	}

	flat := flattenTrace(root)
	require.Len(t, flat, 3)
	assert.Equal(t, "CALL", flat[0].CallType)
	assert.Equal(t, "STATICCALL", flat[1].CallType)
	assert.Equal(t, "DELEGATECALL", flat[2].CallType)
	assert.Equal(t, big.NewInt(5), flat[0].Value.ToInt())

	// Valueless frames render as zero, not null.
	assert.Equal(t, int64(0), flat[1].Value.ToInt().Int64())
}

func TestFlattenTrace_Nil(t *testing.T) {
	flat := flattenTrace(nil)
	require.NotNil(t, flat)
	assert.Empty(t, flat)
}

func TestNewLogEntries(t *testing.T) {
	logs := []*types.Log{
		{
			Address: common.HexToAddress("0xa"),
			Topics:  []common.Hash{common.BigToHash(big.NewInt(1))},
			Data:    []byte{0x01},
		},
		{Address: common.HexToAddress("0xb")},
	}

	entries := newLogEntries(logs)
	require.Len(t, entries, 2)
	assert.Equal(t, common.HexToAddress("0xa"), entries[0].Address)
	require.Len(t, entries[0].Topics, 1)

	// Topic-less logs keep an empty array.
	require.NotNil(t, entries[1].Topics)
	assert.Empty(t, entries[1].Topics)
}
