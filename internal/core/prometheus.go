package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exposes pipeline operation outcomes through a
// Prometheus registry. It fulfills MetricsRecorder for deployments scraped by
// an external collector and additionally counts gene mapping dispositions.
type PrometheusMetricsRecorder struct {
	results      *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	dispositions *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder constructs a recorder and registers its
// collectors with reg. A nil registerer falls back to the default registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cellpack",
				Name:      "pipeline_operations_total",
				Help:      "Pipeline operations by operation name and outcome.",
			},
			[]string{"operation", "status"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cellpack",
				Name:      "pipeline_operation_duration_seconds",
				Help:      "Pipeline operation latency by operation name.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		dispositions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cellpack",
				Name:      "gene_dispositions_total",
				Help:      "Gene rows partitioned by reconciliation disposition.",
			},
			[]string{"disposition"},
		),
	}
	for _, c := range []prometheus.Collector{rec.results, rec.durations, rec.dispositions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Observe records a pipeline operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.results.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObservePartition counts the dispositions of a finished reconciliation.
func (r *PrometheusMetricsRecorder) ObservePartition(stats PartitionStats) {
	r.dispositions.WithLabelValues(string(DispositionResolved)).Add(float64(stats.Resolved))
	r.dispositions.WithLabelValues(string(DispositionUnassigned)).Add(float64(stats.Unassigned))
	r.dispositions.WithLabelValues(string(DispositionMultiMapped)).Add(float64(stats.MultiMapped))
	r.dispositions.WithLabelValues(string(DispositionCollision)).Add(float64(stats.Collisions))
}
