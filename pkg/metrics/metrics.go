// Package metrics defines the engine's Prometheus collectors under the
// stable names spec.md §6 requires. The HTTP exposition endpoint itself
// is an external collaborator (spec.md §1) — this package only builds
// and registers the collectors; something else wires promhttp.Handler.
//
// Grounded on other_examples/…nazipov-pgscv__prometheus.go's use of
// github.com/prometheus/client_golang/prometheus (Desc/ValueType,
// per-metric-name lookup), re-expressed with the library's own
// CounterVec/GaugeVec/HistogramVec instead of hand-built Desc maps,
// since this engine's metric set is small and fixed rather than
// dynamically discovered per-database like pgscv's.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the engine exposes, registered once at
// process startup.
type Metrics struct {
	ReconciliationRunsTotal       *prometheus.CounterVec
	ReconciliationDurationSeconds *prometheus.HistogramVec
	RowLevelDiscrepanciesTotal    *prometheus.CounterVec
	ChecksumStateOperationsTotal  *prometheus.CounterVec
	IncrementalRowsScannedTotal   *prometheus.CounterVec
	ParallelTableTimeoutsTotal    *prometheus.CounterVec
	SchedulerSkippedOverlapsTotal prometheus.Counter
	RetriesTotal                  prometheus.Counter
	DBConnectionPoolSize          *prometheus.GaugeVec
	DBConnectionPoolActive        *prometheus.GaugeVec
	DBConnectionPoolIdle          *prometheus.GaugeVec
}

var (
	registry = prometheus.NewRegistry()
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide Metrics instance, constructing and
// registering it on first call. Repeated calls are idempotent — this is
// the get_or_create pattern spec.md §9's design notes call for, in
// place of the original's module-global counters and their
// duplicate-registration races.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics(registry)
	})
	return instance
}

// Registry returns the registry Get's collectors are registered in, for
// wiring into a promhttp.Handler by the caller.
func Registry() *prometheus.Registry {
	return registry
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ReconciliationRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_runs_total",
			Help: "Total number of table reconciliation runs, by outcome.",
		}, []string{"table", "status"}),
		ReconciliationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconciliation_duration_seconds",
			Help:    "Wall-clock duration of a single table reconciliation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"table"}),
		RowLevelDiscrepanciesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "row_level_discrepancies_total",
			Help: "Total row-level discrepancies found, by kind.",
		}, []string{"table", "kind"}),
		ChecksumStateOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checksum_state_operations_total",
			Help: "Total checksum-state store operations, by operation.",
		}, []string{"operation"}),
		IncrementalRowsScannedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incremental_rows_scanned_total",
			Help: "Total rows scanned by the incremental checksum path, by table and mode.",
		}, []string{"table", "mode"}),
		ParallelTableTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parallel_table_timeouts_total",
			Help: "Total per-table deadline exceeded events in the orchestrator.",
		}, []string{"table"}),
		SchedulerSkippedOverlapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_skipped_overlaps_total",
			Help: "Total scheduler fires skipped because a prior job was still running.",
		}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retries_total",
			Help: "Total retried database operations across all comparators and differs.",
		}),
		DBConnectionPoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "db_connection_pool_size",
			Help: "Configured maximum size of a connection pool.",
		}, []string{"db", "pool"}),
		DBConnectionPoolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "db_connection_pool_active",
			Help: "Connections currently checked out of a pool.",
		}, []string{"db", "pool"}),
		DBConnectionPoolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "db_connection_pool_idle",
			Help: "Idle connections currently held by a pool.",
		}, []string{"db", "pool"}),
	}

	reg.MustRegister(
		m.ReconciliationRunsTotal,
		m.ReconciliationDurationSeconds,
		m.RowLevelDiscrepanciesTotal,
		m.ChecksumStateOperationsTotal,
		m.IncrementalRowsScannedTotal,
		m.ParallelTableTimeoutsTotal,
		m.SchedulerSkippedOverlapsTotal,
		m.RetriesTotal,
		m.DBConnectionPoolSize,
		m.DBConnectionPoolActive,
		m.DBConnectionPoolIdle,
	)
	return m
}

// ObservePoolStats updates the three db_connection_pool_* gauges for one
// pool, per spec.md §6. size is the configured max size; active and idle
// come from database/sql.DBStats.
func (m *Metrics) ObservePoolStats(db, pool string, size, active, idle int) {
	m.DBConnectionPoolSize.WithLabelValues(db, pool).Set(float64(size))
	m.DBConnectionPoolActive.WithLabelValues(db, pool).Set(float64(active))
	m.DBConnectionPoolIdle.WithLabelValues(db, pool).Set(float64(idle))
}
