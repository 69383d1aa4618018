package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg = &Config{Addr: "localhost:9000", Compression: "snappy"}
	require.Error(t, cfg.Validate())

	cfg = &Config{Addr: "localhost:9000"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, DefaultCompression, cfg.Compression)
	assert.Equal(t, DefaultMaxConns, cfg.MaxConns)
	assert.Equal(t, DefaultQueryTimeout, cfg.QueryTimeout)
	assert.Equal(t, DefaultRetryMaxElapsed, cfg.RetryMaxElapsed)
}

func TestConfig_Validate_PreservesValues(t *testing.T) {
	cfg := &Config{
		Addr:            "ch:9440",
		Database:        "sim",
		Compression:     "zstd",
		MaxConns:        32,
		QueryTimeout:    5 * time.Second,
		RetryMaxElapsed: time.Second,
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sim", cfg.Database)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, int32(32), cfg.MaxConns)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(testLog(), &Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid clickhouse config")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"client closed", ch.ErrClosed, false},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"broken pipe", syscall.EPIPE, true},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"wrapped reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"network timeout", timeoutErr{}, true},
		{"server timeout", &ch.Exception{Code: proto.ErrTimeoutExceeded}, true},
		{"server saturation", &ch.Exception{Code: proto.ErrTooManySimultaneousQueries}, true},
		{"server syntax error", &ch.Exception{Code: proto.Error(62)}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transient(tt.err))
		})
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := New(testLog(), &Config{
		Addr:            "localhost:9000",
		RetryMaxElapsed: 5 * time.Second,
	})
	require.NoError(t, err)

	return client
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	client := newTestClient(t)

	attempts := 0
	err := client.retry(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return syscall.ECONNREFUSED
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_PermanentError(t *testing.T) {
	client := newTestClient(t)

	boom := errors.New("syntax error")
	attempts := 0
	err := client.retry(context.Background(), "op", func(ctx context.Context) error {
		attempts++

		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestRetry_CanceledContext(t *testing.T) {
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := client.retry(ctx, "op", func(ctx context.Context) error {
		attempts++

		return syscall.ECONNREFUSED
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestClient_NotStarted(t *testing.T) {
	client := newTestClient(t)

	require.ErrorIs(t, client.Execute(context.Background(), "SELECT 1"), errNotStarted)
	require.ErrorIs(t, client.Do(context.Background(), ch.Query{Body: "SELECT 1"}), errNotStarted)

	cols := proto.Input{}
	require.ErrorIs(t, client.Insert(context.Background(), "t", cols, 0), errNotStarted)

	require.NoError(t, client.Stop())
}
