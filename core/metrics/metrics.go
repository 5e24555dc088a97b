// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tree metrics
	treeNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "localsync_tree_nodes",
			Help: "Number of nodes in the local tree",
		},
		[]string{"sync"},
	)

	treeChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localsync_tree_changes_total",
			Help: "Total tree changes detected by scans",
		},
		[]string{"sync", "kind"},
	)

	// Scan metrics
	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localsync_scan_duration_seconds",
			Help:    "Duration of a scan batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sync", "mode"},
	)

	entryErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localsync_entry_errors_total",
			Help: "Total entries reported after exhausting retries",
		},
		[]string{"sync"},
	)

	engineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "localsync_engine_state",
			Help: "Current engine state, 1 for the active state",
		},
		[]string{"sync", "state"},
	)

	conflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localsync_conflicts_total",
			Help: "Total conflicts by resolution",
		},
		[]string{"sync", "resolution"},
	)

	// Transfer metrics
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "localsync_transfer_queue_depth",
			Help: "Number of pending transfers",
		},
		[]string{"direction"},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localsync_transfers_total",
			Help: "Total finished transfers",
		},
		[]string{"direction", "status"},
	)

	transferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localsync_transfer_bytes_total",
			Help: "Total bytes moved by transfers",
		},
		[]string{"direction"},
	)

	// Persistence metrics
	commitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "localsync_cache_commit_duration_seconds",
			Help:    "Duration of a cache commit",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var states = []string{"initializing", "scanning", "monitoring", "suspended", "failed"}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetTreeSize sets the node count of a sync.
func SetTreeSize(sync string, n int) {
	treeNodes.WithLabelValues(sync).Set(float64(n))
}

// RecordChange counts one tree change.
func RecordChange(sync, kind string) {
	treeChangesTotal.WithLabelValues(sync, kind).Inc()
}

// RecordScan records the duration of a full or partial scan.
func RecordScan(sync string, full bool, duration time.Duration) {
	mode := "partial"
	if full {
		mode = "full"
	}
	scanDuration.WithLabelValues(sync, mode).Observe(duration.Seconds())
}

// RecordEntryError counts one reported entry.
func RecordEntryError(sync string) {
	entryErrorsTotal.WithLabelValues(sync).Inc()
}

// SetState marks state as the current state of a sync.
func SetState(sync, state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		engineState.WithLabelValues(sync, s).Set(v)
	}
}

// RecordConflict counts one conflict.
func RecordConflict(sync, resolution string) {
	conflictsTotal.WithLabelValues(sync, resolution).Inc()
}

// SetQueueDepth sets the number of pending transfers of a direction.
func SetQueueDepth(direction string, n int) {
	queueDepth.WithLabelValues(direction).Set(float64(n))
}

// RecordTransfer records a finished transfer.
func RecordTransfer(direction string, bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	transfersTotal.WithLabelValues(direction, status).Inc()
	if success {
		transferBytes.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordCommit records a cache commit duration.
func RecordCommit(duration time.Duration) {
	commitDuration.Observe(duration.Seconds())
}
