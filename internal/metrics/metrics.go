/**
 * @description
 * Prometheus collectors for the billing-service. The webhook path and the
 * ledger mutators record counters here, and the refund sweep keeps a gauge of
 * the manual-review backlog so an alert can fire when events start landing in
 * the needs-a-human bucket.
 *
 * @dependencies
 * - github.com/prometheus/client_golang/prometheus: Collector types and registry.
 */
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the service's Prometheus collectors.
type Metrics struct {
	WebhookEventsTotal  *prometheus.CounterVec
	CreditsGrantedTotal prometheus.Counter
	CreditsSpentTotal   prometheus.Counter
	SpendRejectedTotal  prometheus.Counter
	RefundsQueuedTotal  prometheus.Counter
	ManualReviewBacklog prometheus.Gauge
}

// New registers the billing collectors on the given registerer and returns them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "webhook_events_total",
			Help:      "Stripe webhook deliveries by type and outcome.",
		}, []string{"event_type", "outcome"}),
		CreditsGrantedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "credits_granted_total",
			Help:      "Credits granted across all grant paths.",
		}),
		CreditsSpentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "credits_spent_total",
			Help:      "Credits consumed by feature spends.",
		}),
		SpendRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "spend_rejected_total",
			Help:      "Spend attempts rejected for insufficient balance.",
		}),
		RefundsQueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "refunds_queued_total",
			Help:      "Refund queue items created from charge.refunded events.",
		}),
		ManualReviewBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "billing",
			Name:      "manual_review_backlog",
			Help:      "Webhook events currently in manual_review status.",
		}),
	}

	reg.MustRegister(
		m.WebhookEventsTotal,
		m.CreditsGrantedTotal,
		m.CreditsSpentTotal,
		m.SpendRejectedTotal,
		m.RefundsQueuedTotal,
		m.ManualReviewBacklog,
	)
	return m
}

// ObserveWebhook records one webhook delivery outcome. Safe on a nil receiver
// so code paths under test can run without a registry.
func (m *Metrics) ObserveWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// AddGranted records granted credits.
func (m *Metrics) AddGranted(amount int64) {
	if m == nil {
		return
	}
	m.CreditsGrantedTotal.Add(float64(amount))
}

// AddSpent records spent credits.
func (m *Metrics) AddSpent(amount int64) {
	if m == nil {
		return
	}
	m.CreditsSpentTotal.Add(float64(amount))
}

// IncSpendRejected records a spend rejected for insufficient balance.
func (m *Metrics) IncSpendRejected() {
	if m == nil {
		return
	}
	m.SpendRejectedTotal.Inc()
}

// IncRefundQueued records a newly queued refund item.
func (m *Metrics) IncRefundQueued() {
	if m == nil {
		return
	}
	m.RefundsQueuedTotal.Inc()
}

// SetManualReviewBacklog updates the manual-review backlog gauge.
func (m *Metrics) SetManualReviewBacklog(n int64) {
	if m == nil {
		return
	}
	m.ManualReviewBacklog.Set(float64(n))
}
