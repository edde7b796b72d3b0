package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebillmanager_requests_total",
			Help: "Total number of HTTP requests per route and status code",
		},
		[]string{"route", "code"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ebillmanager_request_duration_seconds",
			Help:    "HTTP request duration in seconds per route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

var (
	ReceiptsComputedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ebillmanager_receipts_computed_total",
			Help: "Total number of receipts computed successfully",
		},
	)

	ReceiptsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebillmanager_receipts_failed_total",
			Help: "Total number of failed receipt computations per error kind",
		},
		[]string{"kind"},
	)

	ReceiptComputeSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ebillmanager_receipt_compute_seconds",
			Help:    "Time spent loading and computing a single receipt",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	ReceiptCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ebillmanager_receipt_cache_hits_total",
			Help: "Total number of receipts served from the cache",
		},
	)
)

var (
	BatchLastSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ebillmanager_batch_last_size",
			Help: "Number of abonents in the last receipt run",
		},
	)

	BatchLastFailed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ebillmanager_batch_last_failed",
			Help: "Number of failed abonents in the last receipt run",
		},
	)

	BatchLastDurationSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ebillmanager_batch_last_duration_seconds",
			Help: "Duration of the last receipt run",
		},
	)
)

// ObserveReceipt records the outcome of one receipt computation. kind is the
// error kind and is empty on success.
func ObserveReceipt(startedAt time.Time, kind string) {
	ReceiptComputeSeconds.Observe(time.Since(startedAt).Seconds())
	CountReceipt(kind)
}

// CountReceipt counts one receipt outcome without timing it.
func CountReceipt(kind string) {
	if kind == "" {
		ReceiptsComputedTotal.Inc()
		return
	}
	ReceiptsFailedTotal.WithLabelValues(kind).Inc()
}

// UpdateBatchMetrics records the shape of a finished receipt run.
func UpdateBatchMetrics(size, failed int, dur time.Duration) {
	BatchLastSize.Set(float64(size))
	BatchLastFailed.Set(float64(failed))
	BatchLastDurationSeconds.Set(dur.Seconds())
}

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ebillmanager_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ebillmanager_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebillmanager_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}
