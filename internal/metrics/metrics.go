package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeQueued     = "queued"
	OutcomePublished  = "published"
	OutcomeApplied    = "applied"
	OutcomeSelfHealed = "self_healed"
	OutcomeAbsent     = "absent"
	OutcomeMalformed  = "malformed"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
	OutcomeSucceeded  = "succeeded"
)

// Metrics is the observability sink shared by the publisher, relay, consumer
// and reconciler. A nil *Metrics records nothing.
type Metrics struct {
	eventsPublished    *prometheus.CounterVec
	eventsApplied      *prometheus.CounterVec
	bootstrapAttempts  *prometheus.CounterVec
	bootstrapSeeded    prometheus.Counter
	bootstrapState     *prometheus.GaugeVec
	bootstrapEscalated prometheus.Gauge
	outboxPending      prometheus.Gauge
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_events_published_total",
			Help: "Auction events handed to the outbox or the bus, by outcome",
		}, []string{"event_type", "outcome"}),
		eventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_events_applied_total",
			Help: "Auction events processed by the search projection, by outcome",
		}, []string{"event_type", "outcome"}),
		bootstrapAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_bootstrap_attempts_total",
			Help: "Read store bootstrap attempts, by outcome",
		}, []string{"outcome"}),
		bootstrapSeeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "auction_bootstrap_seeded_total",
			Help: "Entries written to the read store by the bootstrap reconciler",
		}),
		bootstrapState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "auction_bootstrap_state",
			Help: "Current bootstrap reconciler state (1 for the active state)",
		}, []string{"state"}),
		bootstrapEscalated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "auction_bootstrap_escalated",
			Help: "Set to 1 once bootstrap has been retrying longer than its ceiling",
		}),
		outboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "auction_outbox_pending",
			Help: "Outbox rows not yet relayed to the bus",
		}),
	}
}

// NewNop returns metrics registered on a private registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) EventPublished(eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) EventApplied(eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) BootstrapAttempt(outcome string) {
	if m == nil {
		return
	}
	m.bootstrapAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BootstrapSeeded(n int) {
	if m == nil {
		return
	}
	m.bootstrapSeeded.Add(float64(n))
}

// BootstrapState marks state as the only active reconciler state
func (m *Metrics) BootstrapState(state string) {
	if m == nil {
		return
	}
	m.bootstrapState.Reset()
	m.bootstrapState.WithLabelValues(state).Set(1)
}

func (m *Metrics) BootstrapEscalated() {
	if m == nil {
		return
	}
	m.bootstrapEscalated.Set(1)
}

func (m *Metrics) OutboxPending(n int64) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(n))
}
