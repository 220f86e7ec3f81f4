package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "evsync"
	outboxSubsystem  = "outbox"
)

// Metrics are the delivery loop's Prometheus collectors.
type Metrics struct {
	// Pending is the number of queued mutations.
	Pending prometheus.Gauge

	// Failed is the number of mutations in the failed set.
	Failed prometheus.Gauge

	// DeliveriesTotal counts delivery attempts.
	// Labels: action, outcome (delivered, retry, permanent, blocked)
	DeliveriesTotal *prometheus.CounterVec

	// EnqueuedTotal counts mutations accepted into the outbox.
	// Labels: action
	EnqueuedTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: outboxSubsystem,
			Name:      "pending",
			Help:      "Number of mutations awaiting delivery",
		}),
		Failed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: outboxSubsystem,
			Name:      "failed",
			Help:      "Number of mutations that failed permanently",
		}),
		DeliveriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: outboxSubsystem,
				Name:      "deliveries_total",
				Help:      "Delivery attempts by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		EnqueuedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: outboxSubsystem,
				Name:      "enqueued_total",
				Help:      "Mutations accepted into the outbox by action",
			},
			[]string{"action"},
		),
	}
}
