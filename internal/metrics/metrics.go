// Package metrics holds the tap's Prometheus collectors.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	recordsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_records_emitted_total",
			Help: "Total number of RECORD messages written, by table.",
		},
		[]string{"table"},
	)
	filesSyncedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_files_synced_total",
			Help: "Total number of files fully synced, by table.",
		},
		[]string{"table"},
	)
	filesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_files_skipped_total",
			Help: "Total number of files skipped, by table and reason.",
		},
		[]string{"table", "reason"},
	)
	sampledRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_sampled_rows_total",
			Help: "Total number of rows kept as schema samples, by table.",
		},
		[]string{"table"},
	)
	conversionFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_sftp_conversion_fallbacks_total",
			Help: "Total number of cells emitted as raw strings because they did not parse as the column type.",
		},
		[]string{"table"},
	)
	syncDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tap_sftp_table_sync_duration_seconds",
			Help:    "Wall time spent syncing one table.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"table"},
	)
)

var collectors = []prometheus.Collector{
	recordsEmittedTotal,
	filesSyncedTotal,
	filesSkippedTotal,
	sampledRowsTotal,
	conversionFallbacksTotal,
	syncDurationSeconds,
}

func init() {
	prometheus.MustRegister(collectors...)
}

func RecordsEmitted(table string, n int) {
	recordsEmittedTotal.WithLabelValues(table).Add(float64(n))
}

func FileSynced(table string) {
	filesSyncedTotal.WithLabelValues(table).Inc()
}

func FileSkipped(table, reason string) {
	filesSkippedTotal.WithLabelValues(table, reason).Inc()
}

func RowsSampled(table string, n int) {
	sampledRowsTotal.WithLabelValues(table).Add(float64(n))
}

func ConversionFallback(table string) {
	conversionFallbacksTotal.WithLabelValues(table).Inc()
}

func ObserveSyncDuration(table string, d time.Duration) {
	syncDurationSeconds.WithLabelValues(table).Observe(d.Seconds())
}

// Push sends every tap collector to a Prometheus Pushgateway, grouped by
// run ID. An empty url is a no-op.
func Push(ctx context.Context, url, job, runID string) error {
	if url == "" {
		return nil
	}
	pusher := push.New(url, job)
	for _, c := range collectors {
		pusher = pusher.Collector(c)
	}
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
