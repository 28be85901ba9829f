// Package metrics exposes roster and delivery metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/notify"
)

// Collector implements application.Metrics and notify.DeliveryMetrics.
type Collector struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	moves      *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

var (
	_ application.Metrics    = (*Collector)(nil)
	_ notify.DeliveryMetrics = (*Collector)(nil)
)

// New creates the collectors and registers them with reg, which defaults to
// prometheus.DefaultRegisterer. namespace defaults to "roster".
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "roster"
	}

	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Roster operations by operation and result tier.",
		}, []string{"operation", "tier"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of roster operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"operation"}),
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boundary_moves_total",
			Help:      "People moved across the confirmed/reserve boundary by someone else's operation.",
		}, []string{"operation", "direction"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Event deliveries by sink, event kind and outcome.",
		}, []string{"sink", "kind", "outcome"}),
	}

	for _, collector := range []prometheus.Collector{c.operations, c.latency, c.moves, c.deliveries} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveOperation(operation string, tier application.MessageTier, duration time.Duration) {
	c.operations.WithLabelValues(operation, string(tier)).Inc()
	c.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) ObserveMoves(operation string, promoted, demoted int) {
	if promoted > 0 {
		c.moves.WithLabelValues(operation, "promoted").Add(float64(promoted))
	}
	if demoted > 0 {
		c.moves.WithLabelValues(operation, "demoted").Add(float64(demoted))
	}
}

func (c *Collector) ObserveDelivery(sink string, kind application.EventKind, outcome string) {
	c.deliveries.WithLabelValues(sink, string(kind), outcome).Inc()
}
