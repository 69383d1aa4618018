package clickhouse

import (
	"context"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
)

// ClientInterface is the ClickHouse surface the history pipeline consumes.
type ClientInterface interface {
	// Start dials the connection pool. Safe to call more than once.
	Start(ctx context.Context) error
	// Stop closes the connection pool.
	Stop() error
	// Do runs one query on the pool directly, without retry or metrics.
	Do(ctx context.Context, query ch.Query) error
	// Execute runs a statement without reading results.
	Execute(ctx context.Context, query string) error
	// Insert writes the input columns into the table. rows is the row count
	// carried by the columns.
	Insert(ctx context.Context, table string, input proto.Input, rows int) error
}

var _ ClientInterface = (*Client)(nil)
