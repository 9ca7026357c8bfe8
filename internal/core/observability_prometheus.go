package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsRecorder exports session operation metrics to a
// Prometheus registry.
type PrometheusMetricsRecorder struct {
	durations   *prometheus.HistogramVec
	results     *prometheus.CounterVec
	flushed     *prometheus.CounterVec
	worklist    prometheus.Gauge
	liveObjects prometheus.Gauge
}

// NewPrometheusMetricsRecorder registers the scenesync collectors on reg.
// A nil reg uses the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scenesync_operation_duration_seconds",
			Help:    "Duration of session operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scenesync_operations_total",
			Help: "Session operations by outcome",
		}, []string{"operation", "status"}),
		flushed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scenesync_flush_objects_total",
			Help: "Objects handled by flush passes by outcome",
		}, []string{"outcome"}),
		worklist: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scenesync_worklist_objects",
			Help: "Objects waiting for the next flush",
		}),
		liveObjects: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scenesync_tracked_objects",
			Help: "Objects tracked by the session until collected",
		}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// ObserveFlush implements FlushObserver.
func (r *PrometheusMetricsRecorder) ObserveFlush(_ context.Context, stats FlushStats) {
	for outcome, n := range map[string]int{
		"processed": stats.Processed,
		"created":   stats.Created,
		"deferred":  stats.Deferred,
		"removed":   stats.Removed,
		"failed":    stats.Failed,
		"collected": stats.Collected,
	} {
		r.flushed.WithLabelValues(outcome).Add(float64(n))
	}
}

// SetWorklist implements GaugeRecorder.
func (r *PrometheusMetricsRecorder) SetWorklist(n int) { r.worklist.Set(float64(n)) }

// SetLiveObjects implements GaugeRecorder.
func (r *PrometheusMetricsRecorder) SetLiveObjects(n int) { r.liveObjects.Set(float64(n)) }
