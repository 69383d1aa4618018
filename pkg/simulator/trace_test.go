package simulator

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethsim/tx-simulator/pkg/engine"
)

func TestFormatTrace(t *testing.T) {
	a := common.HexToAddress("0xaa")
	b := common.HexToAddress("0xbb")
	c := common.HexToAddress("0xcc")
	d := common.HexToAddress("0xdd")

	root := &engine.CallFrame{
		Kind:  "CALL",
		From:  a,
		To:    b,
		Value: big.NewInt(5),
		Calls: []*engine.CallFrame{
			{
				Kind: "DELEGATECALL",
				From: b,
				To:   c,
				Calls: []*engine.CallFrame{
					{Kind: "STATICCALL", From: c, To: d},
				},
			},
			{Kind: "CALL", From: b, To: d, Value: big.NewInt(0)},
		},
	}

	out, err := formatTrace(root)
	require.NoError(t, err)

	expected := fmt.Sprintf("CALL %s -> %s [value: 5]\n", a.Hex(), b.Hex()) +
		fmt.Sprintf("  DELEGATECALL %s -> %s\n", b.Hex(), c.Hex()) +
		fmt.Sprintf("    STATICCALL %s -> %s\n", c.Hex(), d.Hex()) +
		fmt.Sprintf("  CALL %s -> %s\n", b.Hex(), d.Hex())
	assert.Equal(t, expected, out)
}

func TestFormatTrace_ZeroValueOmitted(t *testing.T) {
	out, err := formatTrace(&engine.CallFrame{
		Kind:  "CREATE",
		From:  common.HexToAddress("0x01"),
		To:    common.HexToAddress("0x02"),
		Value: big.NewInt(0),
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "[value")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("sink closed")
}

func TestRenderTrace_WriterFailure(t *testing.T) {
	err := renderTrace(failingWriter{}, &engine.CallFrame{Kind: "CALL"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTraceFormat)
	assert.Contains(t, err.Error(), "sink closed")
}
