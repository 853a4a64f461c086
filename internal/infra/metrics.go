package infra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the callback engine's Prometheus collectors.
type Metrics struct {
	callbacksTotal     *prometheus.CounterVec
	callbackDuration   *prometheus.HistogramVec
	replaysTotal       *prometheus.CounterVec
	compensationsTotal *prometheus.CounterVec
	outboxPublished    prometheus.Counter
}

// NewMetrics registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		callbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gamecallback",
				Name:      "callbacks_total",
				Help:      "Total provider callbacks by provider, action and outcome kind.",
			},
			[]string{"provider", "action", "outcome"},
		),
		callbackDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gamecallback",
				Name:      "callback_duration_seconds",
				Help:      "Callback processing latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "action"},
		),
		replaysTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gamecallback",
				Name:      "replays_total",
				Help:      "Duplicate deliveries served from the callback log, by kind (cached or in_flight).",
			},
			[]string{"provider", "kind"},
		),
		compensationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gamecallback",
				Name:      "compensations_total",
				Help:      "Compensating bet voids issued after a failed debit, by result.",
			},
			[]string{"provider", "result"},
		),
		outboxPublished: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gamecallback",
				Subsystem: "outbox",
				Name:      "published_total",
				Help:      "Outbox events published to Kafka.",
			},
		),
	}
}

// ObserveCallback records one processed callback.
func (m *Metrics) ObserveCallback(provider, action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(provider, action, outcome).Inc()
	m.callbackDuration.WithLabelValues(provider, action).Observe(elapsed.Seconds())
}

// ObserveReplay records a duplicate delivery.
func (m *Metrics) ObserveReplay(provider, kind string) {
	if m == nil {
		return
	}
	m.replaysTotal.WithLabelValues(provider, kind).Inc()
}

// ObserveCompensation records a compensating action and whether it succeeded.
func (m *Metrics) ObserveCompensation(provider, result string) {
	if m == nil {
		return
	}
	m.compensationsTotal.WithLabelValues(provider, result).Inc()
}

// ObserveOutboxPublished records published outbox events.
func (m *Metrics) ObserveOutboxPublished(n int) {
	if m == nil {
		return
	}
	m.outboxPublished.Add(float64(n))
}
