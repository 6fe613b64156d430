// Package metrics exports journal operation metrics to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Journal records journal operations. It satisfies rollback.Observer.
type Journal struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	recovery   *prometheus.CounterVec
}

// NewJournal registers the collectors on reg.
func NewJournal(reg prometheus.Registerer) *Journal {
	f := promauto.With(reg)
	return &Journal{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regjournal",
			Name:      "operations_total",
			Help:      "Journal operations by result.",
		}, []string{"operation", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "regjournal",
			Name:      "operation_duration_seconds",
			Help:      "Duration of journal operations including fsync and command bodies.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		recovery: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regjournal",
			Name:      "recovery_events_total",
			Help:      "Decisions taken while reopening journals.",
		}, []string{"event"}),
	}
}

func (j *Journal) Observe(_ context.Context, operation string, success bool, d time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	j.operations.WithLabelValues(operation, result).Inc()
	j.duration.WithLabelValues(operation).Observe(d.Seconds())
}

func (j *Journal) RecoveryEvent(event string) {
	j.recovery.WithLabelValues(event).Inc()
}
