// Package metrics holds the Prometheus collectors of the import service.
// Collectors are registered with the default registry at package init and
// exposed by the web server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive is the number of import sessions held in memory.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "employee_import_sessions_active",
		Help: "Import sessions currently held in memory.",
	})

	// StageTransitions counts pipeline stage changes.
	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "employee_import_stage_transitions_total",
		Help: "Pipeline stage transitions by source and target stage.",
	}, []string{"from", "to"})

	// Executions counts batch executions by result (ok, failed, rejected).
	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "employee_import_executions_total",
		Help: "Batch executions by result.",
	}, []string{"result"})

	// ExecutionsActive is the number of batches currently being written.
	ExecutionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "employee_import_executions_active",
		Help: "Batches currently being executed.",
	})

	// ExecutionDuration observes how long one batch execution takes.
	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "employee_import_execution_duration_seconds",
		Help:    "Duration of batch executions in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	// RowOutcomes counts executed rows by outcome (created, updated, skipped, failed, warned).
	RowOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "employee_import_rows_total",
		Help: "Executed rows by outcome.",
	}, []string{"outcome"})

	// ValidationRows counts validated rows by result (valid, invalid, conflict).
	ValidationRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "employee_import_validated_rows_total",
		Help: "Validated rows by result.",
	}, []string{"result"})

	// CacheHits counts employee lookups served from the cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "employee_import_cache_hits_total",
		Help: "Employee lookups served from the cache.",
	})

	// CacheMisses counts employee lookups that went to the store.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "employee_import_cache_misses_total",
		Help: "Employee lookups that missed the cache.",
	})

	// HTTPRequests counts HTTP requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "employee_import_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes HTTP request latency by method and route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "employee_import_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
