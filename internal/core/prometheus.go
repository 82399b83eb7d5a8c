package core

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockpile/internal/transaction"
	"stockpile/pkg/domain"
)

// PrometheusRecorder exports service operations, transaction closes and
// dropped amounts as Prometheus collectors.
type PrometheusRecorder struct {
	operations   *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	closes       *prometheus.CounterVec
	participants prometheus.Histogram
	dropped      prometheus.Counter
}

var (
	_ MetricsRecorder      = (*PrometheusRecorder)(nil)
	_ DropObserver         = (*PrometheusRecorder)(nil)
	_ transaction.Observer = (*PrometheusRecorder)(nil)
)

// NewPrometheusRecorder registers the collectors under namespace with reg.
// A nil reg uses the default registerer.
func NewPrometheusRecorder(namespace string, reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if namespace == "" {
		namespace = "stockpile"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_closed_total",
			Help:      "Closed transaction levels by outcome and nesting level.",
		}, []string{"outcome", "level"}),
		participants: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_participants",
			Help:      "Participants registered on a level when it closed.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_amount_total",
			Help:      "Resource units released to the ground.",
		}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.durations, r.closes, r.participants, r.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register prometheus collector: %w", err)
		}
	}
	return r, nil
}

// Observe records one operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// TransactionClosed implements transaction.Observer.
func (r *PrometheusRecorder) TransactionClosed(depth int, result transaction.Result, participants int) {
	r.closes.WithLabelValues(result.String(), levelLabel(depth)).Inc()
	r.participants.Observe(float64(participants))
}

// ObserveDrop implements DropObserver.
func (r *PrometheusRecorder) ObserveDrop(_ string, stack domain.Stack) {
	r.dropped.Add(float64(stack.Amount))
}
