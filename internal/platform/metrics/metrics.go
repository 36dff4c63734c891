package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	TriggersFired   prometheus.Counter
	OffersCreated   prometheus.Counter
	OffersRejected  *prometheus.CounterVec
	OffersAccepted  prometheus.Counter
	OffersDeclined  prometheus.Counter
	LoansDisbursed  prometheus.Counter
	LoansRepaid     prometheus.Counter
	EventsPublished *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		TriggersFired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kopa_triggers_fired_total",
			Help: "Total number of low-balance triggers that fired",
		}),
		OffersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kopa_offers_created_total",
			Help: "Total number of loan offers created",
		}),
		OffersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kopa_offers_rejected_total",
			Help: "Total number of eligibility rejections by reason",
		}, []string{"reason"}),
		OffersAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kopa_offers_accepted_total",
			Help: "Total number of offers accepted by subscribers",
		}),
		OffersDeclined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kopa_offers_declined_total",
			Help: "Total number of offers declined by subscribers",
		}),
		LoansDisbursed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kopa_loans_disbursed_total",
			Help: "Total number of loans disbursed",
		}),
		LoansRepaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kopa_loans_repaid_total",
			Help: "Total number of loans fully repaid",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kopa_events_published_total",
			Help: "Total number of broadcast events published by type",
		}, []string{"type"}),
	}
}

// IncrementOffersRejected increments the rejection counter for a reason label.
func (m *Metrics) IncrementOffersRejected(reason string) {
	m.OffersRejected.WithLabelValues(reason).Inc()
}

// IncrementEventsPublished increments the publish counter for an event type.
func (m *Metrics) IncrementEventsPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}
