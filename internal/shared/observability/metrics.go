package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supravault_upstream_requests_total",
		Help: "Total number of requests sent to chain RPC and indexer endpoints.",
	}, []string{"endpoint", "outcome"})

	UpstreamRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supravault_upstream_request_seconds",
		Help:    "Latency of a single upstream request attempt.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	UpstreamRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supravault_upstream_retries_total",
		Help: "Total number of retried upstream requests after a transient failure.",
	}, []string{"endpoint"})

	InventoryBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supravault_inventory_builds_total",
		Help: "Total number of module inventories built, by coverage.",
	}, []string{"coverage"})

	RecoveryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supravault_recovery_attempts_total",
		Help: "Total number of coin module name recovery attempts.",
	}, []string{"strategy", "outcome"})

	PinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supravault_module_pins_total",
		Help: "Total number of module pins emitted, by hash basis.",
	}, []string{"basis"})

	SamplerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supravault_sampler_runs_total",
		Help: "Total number of behavior sampling runs, by resulting status.",
	}, []string{"status"})

	PhantomEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supravault_phantom_entries_total",
		Help: "Total number of invoked functions missing from the pinned surface.",
	})

	DiffChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supravault_diff_changes_total",
		Help: "Total number of detected snapshot changes after escalation.",
	}, []string{"type", "severity"})

	RiskVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supravault_risk_verdicts_total",
		Help: "Total number of risk syntheses, by level.",
	}, []string{"level"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supravault_scan_seconds",
		Help:    "Time spent assembling one snapshot.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind"})

	HistoryWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supravault_history_writes_total",
		Help: "Total number of snapshot and diff rows written to the history store.",
	}, []string{"table"})
)
