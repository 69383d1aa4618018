package clickhouse

import (
	"context"
	"sync"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
)

// MockClient is a test double for ClientInterface. Unset function fields
// succeed silently; calls are counted either way. Safe for concurrent use,
// flush goroutines included.
type MockClient struct {
	StartFunc   func(ctx context.Context) error
	StopFunc    func() error
	DoFunc      func(ctx context.Context, query ch.Query) error
	ExecuteFunc func(ctx context.Context, query string) error
	InsertFunc  func(ctx context.Context, table string, input proto.Input, rows int) error

	mu    sync.Mutex
	calls map[string]int
}

var _ ClientInterface = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{calls: make(map[string]int)}
}

// GetCallCount reports how many times the named method was invoked.
func (m *MockClient) GetCallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls[method]
}

func (m *MockClient) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[method]++
}

func (m *MockClient) Start(ctx context.Context) error {
	m.record("Start")

	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}

	return nil
}

func (m *MockClient) Stop() error {
	m.record("Stop")

	if m.StopFunc != nil {
		return m.StopFunc()
	}

	return nil
}

func (m *MockClient) Do(ctx context.Context, query ch.Query) error {
	m.record("Do")

	if m.DoFunc != nil {
		return m.DoFunc(ctx, query)
	}

	return nil
}

func (m *MockClient) Execute(ctx context.Context, query string) error {
	m.record("Execute")

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, query)
	}

	return nil
}

func (m *MockClient) Insert(ctx context.Context, table string, input proto.Input, rows int) error {
	m.record("Insert")

	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, table, input, rows)
	}

	return nil
}
