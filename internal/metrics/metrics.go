// Package metrics holds the Prometheus collectors shared by the station
// components. They register on the default registry and are served at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Document store
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camstore_store_writes_total",
			Help: "Total number of committed document writes",
		},
		[]string{"kind"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camstore_store_errors_total",
			Help: "Total number of failed document reads and writes",
		},
		[]string{"kind", "op"},
	)

	StoreLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camstore_store_lock_wait_seconds",
			Help:    "Time spent waiting for a collection lock",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	StoreLockTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camstore_store_lock_timeouts_total",
			Help: "Total number of lock acquisitions that timed out",
		},
		[]string{"kind"},
	)

	StoreCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camstore_store_cache_lookups_total",
			Help: "Cached reads by result (hit or miss)",
		},
		[]string{"result"},
	)

	// Mutation queue
	QueueEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camstore_queue_enqueued_total",
			Help: "Total number of flag mutations enqueued",
		},
	)

	QueueApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camstore_queue_mutations_total",
			Help: "Flag mutations processed by outcome (applied or dropped)",
		},
		[]string{"outcome"},
	)

	QueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "camstore_queue_pending",
			Help: "Flag mutations waiting for the next drain",
		},
	)

	// Archive engine
	ArchiveRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camstore_archive_runs_total",
			Help: "Backup and cleanup runs by operation and status",
		},
		[]string{"operation", "status"},
	)

	ArchiveRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camstore_archive_run_duration_seconds",
			Help:    "Duration of backup and cleanup runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"operation"},
	)

	ArchiveFilesCopied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camstore_archive_files_copied_total",
			Help: "Blob files copied into archive snapshots, per camera",
		},
		[]string{"camera"},
	)

	ArchiveFilesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camstore_archive_files_deleted_total",
			Help: "Blob files deleted by cleanup, by reason (recycled or orphan)",
		},
		[]string{"reason"},
	)

	// API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camstore_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camstore_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
