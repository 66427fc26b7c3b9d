package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pushpay"

// Initiation outcomes.
const (
	InitiateAccepted       = "accepted"
	InitiateDegraded       = "degraded"
	InitiateRejected       = "rejected"
	InitiateNetworkFailure = "network_failure"
	InitiateInvalid        = "invalid"
)

// Callback outcomes.
const (
	CallbackApplied         = "applied"
	CallbackAlreadyTerminal = "already_terminal"
	CallbackUnknownToken    = "unknown_token"
	CallbackRecovered       = "recovered"
	CallbackMalformed       = "malformed"
	CallbackUnauthorized    = "unauthorized"
	CallbackParked          = "parked"
	CallbackLateSuccess     = "late_success"
)

// PaymentMetrics tracks the reconciliation engine.
type PaymentMetrics struct {
	initiations     *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	fulfillments    *prometheus.CounterVec
	persistenceGaps prometheus.Counter
	outstandingGaps *prometheus.GaugeVec
	providerLatency *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment metrics. A nil registerer yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	m := &PaymentMetrics{
		initiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_initiations_total",
			Help:      "Push payment initiations by outcome.",
		}, []string{"outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callbacks_total",
			Help:      "Provider callbacks by outcome.",
		}, []string{"outcome"}),
		fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_fulfillments_total",
			Help:      "Fulfillment attempts by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		persistenceGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_persistence_gaps_total",
			Help:      "Accepted pushes whose intent could not be stored.",
		}),
		outstandingGaps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payment_reconciliation_outstanding",
			Help:      "Outstanding reconciliation entries by kind.",
		}, []string{"kind"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of provider push requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.initiations, m.callbacks, m.fulfillments, m.persistenceGaps, m.outstandingGaps, m.providerLatency)
	return m
}

func (m *PaymentMetrics) IncInitiation(outcome string) {
	if m == nil || m.initiations == nil {
		return
	}
	m.initiations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) IncCallback(outcome string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) IncFulfillment(purpose, outcome string) {
	if m == nil || m.fulfillments == nil {
		return
	}
	m.fulfillments.WithLabelValues(normalizeLabel(purpose), normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) IncPersistenceGap() {
	if m == nil || m.persistenceGaps == nil {
		return
	}
	m.persistenceGaps.Inc()
}

// SetOutstanding publishes the current size of a reconciliation backlog.
func (m *PaymentMetrics) SetOutstanding(kind string, count int64) {
	if m == nil || m.outstandingGaps == nil {
		return
	}
	m.outstandingGaps.WithLabelValues(normalizeLabel(kind)).Set(float64(count))
}

func (m *PaymentMetrics) ObserveProvider(outcome string, duration time.Duration) {
	if m == nil || m.providerLatency == nil {
		return
	}
	m.providerLatency.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}
