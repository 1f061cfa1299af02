// Package metrics provides Prometheus instrumentation for the strata
// scan engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsScanned counts records whose boundaries were found, per source.
	RecordsScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_records_scanned_total",
		Help: "Total number of record boundaries found per source",
	}, []string{"source"})

	// RecordsEmitted counts records handed to the caller's callback.
	RecordsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_records_emitted_total",
		Help: "Total number of records emitted to the callback per source",
	}, []string{"source"})

	// RecordsSkipped counts records skipped under continue-on-error.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_records_skipped_total",
		Help: "Total number of records skipped after extraction errors",
	}, []string{"source"})

	// BytesRead counts raw bytes pulled from each source.
	BytesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_bytes_read_total",
		Help: "Total bytes read from each source",
	}, []string{"source"})

	// CheckpointSaves counts durable checkpoint writes.
	CheckpointSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_checkpoint_saves_total",
		Help: "Total number of checkpoints saved per source",
	}, []string{"source"})

	// DegradedEvents counts transitions into the oversized-record fallback.
	DegradedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_degraded_mode_events_total",
		Help: "Total number of degraded-mode buffer fallbacks per source",
	}, []string{"source"})

	// ScanDuration tracks whole-run duration.
	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "strata_scan_duration_seconds",
		Help:    "Duration of scan runs in seconds",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300, 1800},
	}, []string{"source"})
)

// ServeMetrics starts an HTTP server on the given address to serve
// Prometheus metrics at /metrics.
func ServeMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go server.ListenAndServe()
	return server
}
