package history

import (
	"github.com/ClickHouse/ch-go/proto"
)

// Columns buffers result rows in columnar form for a single insert. The
// flush path builds a fresh Columns per batch.
type Columns struct {
	Timestamp   proto.ColDateTime
	Mode        proto.ColStr
	ChainID     proto.ColUInt64
	BlockNumber proto.ColUInt64
	GasUsed     proto.ColUInt64
	Success     proto.ColBool
	DurationMS  proto.ColUInt64
}

func NewColumns() *Columns {
	return &Columns{}
}

// Append adds one record across every column.
func (c *Columns) Append(rec Record) {
	c.Timestamp.Append(rec.Timestamp)
	c.Mode.Append(rec.Mode)
	c.ChainID.Append(rec.ChainID)
	c.BlockNumber.Append(rec.BlockNumber)
	c.GasUsed.Append(rec.GasUsed)
	c.Success.Append(rec.Success)
	c.DurationMS.Append(uint64(rec.Duration.Milliseconds()))
}

// Input maps the columns onto the results table schema.
func (c *Columns) Input() proto.Input {
	return proto.Input{
		{Name: "timestamp", Data: &c.Timestamp},
		{Name: "mode", Data: &c.Mode},
		{Name: "chain_id", Data: &c.ChainID},
		{Name: "block_number", Data: &c.BlockNumber},
		{Name: "gas_used", Data: &c.GasUsed},
		{Name: "success", Data: &c.Success},
		{Name: "duration_ms", Data: &c.DurationMS},
	}
}

// Rows reports how many records have been appended.
func (c *Columns) Rows() int {
	return c.BlockNumber.Rows()
}
