// Package metrics holds the Prometheus collectors of a scrape run. The run is
// a batch job, so collectors are exported through a node_exporter textfile
// instead of an HTTP endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ListingsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "krisha",
		Subsystem: "pipeline",
		Name:      "emitted_total",
		Help:      "Listings that passed validation",
	}, []string{"property", "deal"})

	ListingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "krisha",
		Subsystem: "pipeline",
		Name:      "rejected_total",
		Help:      "Listings rejected, by pipeline stage",
	}, []string{"stage"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "krisha",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Page fetch latency",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})

	RowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "krisha",
		Subsystem: "writer",
		Name:      "rows_written_total",
		Help:      "Rows flushed to parquet, by partition",
	}, []string{"partition"})

	FlushErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "krisha",
		Subsystem: "writer",
		Name:      "flush_errors_total",
		Help:      "Failed partition flushes",
	}, []string{"partition"})
)

// WriteTextfile dumps every registered collector to path in the text
// exposition format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
