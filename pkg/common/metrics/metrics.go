// Package metrics holds the service's prometheus instruments. Everything is
// registered through promauto at init; packages reference the vectors
// directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SimulationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_simulator_simulations_total",
		Help: "Total number of simulation operations",
	}, []string{"mode", "status"})

	SimulationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tx_simulator_simulation_duration_seconds",
		Help:    "Time taken to run a simulation operation",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"mode"})

	BundleSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tx_simulator_bundle_size_transactions",
		Help:    "Number of transactions per bundle",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tx_simulator_active_sessions",
		Help: "Current number of live stateful sessions",
	})

	SessionLifetime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tx_simulator_session_lifetime_seconds",
		Help:    "Time between session creation and destruction",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15),
	})

	ActiveForks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tx_simulator_active_forks",
		Help: "Current number of live forked execution engines",
	})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tx_simulator_rpc_call_duration_seconds",
		Help:    "Duration of RPC calls to upstream nodes",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"chain_id", "node", "method", "status"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_simulator_rpc_calls_total",
		Help: "Total RPC calls made to upstream nodes",
	}, []string{"chain_id", "node", "method", "status"})

	UpstreamEndpoints = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tx_simulator_upstream_endpoints",
		Help: "Number of configured upstream endpoints by health",
	}, []string{"status"})

	TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_simulator_tasks_enqueued_total",
		Help: "Total number of tasks enqueued",
	}, []string{"queue", "task_type"})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_simulator_tasks_processed_total",
		Help: "Total number of tasks processed",
	}, []string{"queue", "task_type", "status"})

	TaskProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tx_simulator_task_processing_duration_seconds",
		Help:    "Time taken to process a task",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"queue", "task_type"})

	ClickHouseOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tx_simulator_clickhouse_operation_duration_seconds",
		Help:    "Duration of ClickHouse operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation", "table", "status"})

	ClickHouseOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_simulator_clickhouse_operations_total",
		Help: "Total number of ClickHouse operations",
	}, []string{"operation", "table", "status"})

	ClickHouseInsertedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_simulator_clickhouse_inserted_rows_total",
		Help: "Total number of rows inserted into ClickHouse",
	}, []string{"table", "status"})

	RowBufferFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_simulator_row_buffer_flush_total",
		Help: "Total number of row buffer flushes",
	}, []string{"table", "trigger", "status"})

	RowBufferFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tx_simulator_row_buffer_flush_duration_seconds",
		Help:    "Duration of row buffer flushes",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"table"})

	RowBufferFlushSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tx_simulator_row_buffer_flush_size_rows",
		Help:    "Number of rows per flush",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"table"})

	RowBufferPendingRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tx_simulator_row_buffer_pending_rows",
		Help: "Current number of rows waiting in the buffer",
	}, []string{"table"})

	RowBufferPendingTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tx_simulator_row_buffer_pending_tasks",
		Help: "Current number of tasks waiting on a buffer flush",
	}, []string{"table"})

	MemoryUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tx_simulator_memory_usage_bytes",
		Help: "Runtime memory usage by type",
	}, []string{"type"})

	GoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tx_simulator_goroutines",
		Help: "Current number of goroutines",
	})

	MemoryPressureEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_simulator_memory_pressure_events_total",
		Help: "Total number of memory threshold crossings",
	}, []string{"level"})
)
