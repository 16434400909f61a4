// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsUpsertedTotal prometheus.Counter
	recordsSkippedTotal  *prometheus.CounterVec
	stagesTotal          *prometheus.CounterVec
	stageDurationSeconds *prometheus.HistogramVec
	imagesExtractedTotal prometheus.Counter
	imagesDiscardedTotal prometheus.Counter
	runsTotal            *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		recordsUpsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "permitpipe_records_upserted_total",
				Help: "Total number of upstream records upserted into proposals.",
			},
		)

		recordsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitpipe_records_skipped_total",
				Help: "Total number of upstream records skipped, labeled by reason.",
			},
			[]string{"reason"},
		)

		stagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitpipe_stages_total",
				Help: "Total number of stage executions, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permitpipe_stage_duration_seconds",
				Help:    "Histogram of stage execution latencies, labeled by stage.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"stage"},
		)

		imagesExtractedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "permitpipe_images_extracted_total",
				Help: "Total number of extracted images kept after filtering.",
			},
		)

		imagesDiscardedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "permitpipe_images_discarded_total",
				Help: "Total number of extracted images discarded as uninteresting.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitpipe_runs_total",
				Help: "Total number of coordinator runs, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)
	})
}

// RecordUpserted increments the upserted-records counter.
func RecordUpserted() {
	if recordsUpsertedTotal != nil {
		recordsUpsertedTotal.Inc()
	}
}

// RecordSkipped increments the skipped-records counter for a reason.
func RecordSkipped(reason string) {
	if recordsSkippedTotal != nil {
		recordsSkippedTotal.WithLabelValues(reason).Inc()
	}
}

// StageObserved records one stage execution and its duration.
func StageObserved(stage, outcome string, elapsed time.Duration) {
	if stagesTotal != nil {
		stagesTotal.WithLabelValues(stage, outcome).Inc()
	}
	if stageDurationSeconds != nil {
		stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

// ImageExtracted increments the kept-images counter.
func ImageExtracted() {
	if imagesExtractedTotal != nil {
		imagesExtractedTotal.Inc()
	}
}

// ImageDiscarded increments the discarded-images counter.
func ImageDiscarded() {
	if imagesDiscardedTotal != nil {
		imagesDiscardedTotal.Inc()
	}
}

// RunObserved records a finished coordinator run.
func RunObserved(kind, status string) {
	if runsTotal != nil {
		runsTotal.WithLabelValues(kind, status).Inc()
	}
}
