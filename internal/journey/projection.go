// Package journey projects the broadcast stream into a per-subscriber
// timeline. The projection is a plain bus subscriber: it sees events in
// publish order and appends them in that order, so the timeline reads as the
// story of what happened.
package journey

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kopa/internal/domain"
	"kopa/internal/storage"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

type Projection struct {
	store  storage.JourneyStore
	logger *slog.Logger
}

func New(store storage.JourneyStore, logger *slog.Logger) (*Projection, error) {
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "journey: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{store: store, logger: logger}, nil
}

// HandleEvent maps a broadcast envelope onto the canonical timeline
// vocabulary. Envelope types with no timeline meaning (balance updates,
// rejected offers, internal settlement notices) are ignored.
func (p *Projection) HandleEvent(ctx context.Context, envelope domain.Envelope) {
	eventType, label, ok := classify(envelope)
	if !ok {
		return
	}
	event := domain.JourneyEvent{
		ID:        uuid.NewString(),
		MSISDN:    envelope.MSISDN,
		Type:      eventType,
		Label:     label,
		Timestamp: time.Now(),
		Metadata:  metadata(envelope.Data),
	}
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.Error("journey append failed",
			slog.String("msisdn", envelope.MSISDN.String()),
			slog.String("error", err.Error()))
	}
}

// Timeline returns the subscriber's journey in arrival order.
func (p *Projection) Timeline(ctx context.Context, msisdn id.MSISDN) ([]domain.JourneyEvent, error) {
	events, err := p.store.ListByMSISDN(ctx, msisdn)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "journey: timeline lookup failed")
	}
	return events, nil
}

func classify(envelope domain.Envelope) (domain.JourneyEventType, string, bool) {
	switch envelope.Type {
	case domain.EventMNO:
		sub, _ := envelope.Data["event"].(string)
		switch sub {
		case domain.MNOCallStart:
			return domain.JourneyCallStart, "Call started", true
		case domain.MNOCallEnd:
			return domain.JourneyCallEnd, "Call ended", true
		}
		// The raw top-up sub-type is skipped: the settled form below carries
		// the loan outcome as well.
		return "", "", false
	case domain.EventTopUpProcessed:
		return domain.JourneyTopUp, "Account topped up", true
	case domain.EventLowBalanceTrigger:
		return domain.JourneyBalanceLow, "Balance ran low during a call", true
	case domain.EventOfferCreated:
		return domain.JourneyOfferCreated, "Airtime advance offered", true
	case domain.EventSMSSent:
		return domain.JourneySMSSent, "Offer SMS delivered", true
	case domain.EventLinkOpened:
		return domain.JourneyLinkOpened, "Offer link opened", true
	case domain.EventOfferAccepted:
		return domain.JourneyOfferAccepted, "Offer accepted", true
	case domain.EventOfferDeclined:
		return domain.JourneyOfferDeclined, "Offer declined", true
	case domain.EventLoanDisbursed:
		return domain.JourneyLoanDisbursed, "Advance disbursed", true
	case domain.EventRepaymentCompleted:
		return domain.JourneyRepaymentCompleted, "Advance repaid", true
	}
	return "", "", false
}

// metadata copies the envelope data, dropping in-process payloads that are
// not meaningful on a timeline.
func metadata(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "sample" {
			continue
		}
		out[k] = v
	}
	return out
}
