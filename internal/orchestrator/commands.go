package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"kopa/internal/domain"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

// ConsentAction is the caller's answer to an offer.
type ConsentAction string

const (
	ActionAccept  ConsentAction = "accept"
	ActionDecline ConsentAction = "decline"
)

// ConsentOutcome is the subscriber-facing result of a consent action. Message
// is safe to show: it never carries internal reason codes or error details.
type ConsentOutcome struct {
	Success bool       `json:"success"`
	LoanID  *id.LoanID `json:"loan_id,omitempty"`
	Message string     `json:"message"`
}

// StartCall opens a voice session for the subscriber.
func (o *Orchestrator) StartCall(ctx context.Context, msisdn id.MSISDN) (domain.CallSession, error) {
	return o.source.StartCall(ctx, msisdn)
}

// EndCall closes the session and stops its depletion ticks.
func (o *Orchestrator) EndCall(ctx context.Context, sessionID id.SessionID) (domain.CallSession, error) {
	return o.source.EndCall(ctx, sessionID)
}

// SimulateTopUp records a top-up. Settlement and repayment happen reactively
// off the resulting stream event before this call returns, because bus
// dispatch is synchronous.
func (o *Orchestrator) SimulateTopUp(ctx context.Context, msisdn id.MSISDN, amount float64, channel string) (domain.TopUpEvent, error) {
	return o.source.SimulateTopUp(ctx, msisdn, amount, channel)
}

// MarkLinkOpened records that the subscriber opened the offer link.
func (o *Orchestrator) MarkLinkOpened(ctx context.Context, token string) (domain.Offer, error) {
	opened, err := o.offers.MarkLinkOpened(ctx, token)
	if err != nil {
		return domain.Offer{}, err
	}
	o.publish(ctx, domain.Envelope{
		Type:   domain.EventLinkOpened,
		MSISDN: opened.MSISDN,
		Data:   map[string]any{"offer_id": opened.ID.String()},
	})
	return opened, nil
}

// HandleConsent resolves an offer by its consent token. Failures come back as
// an unsuccessful outcome with a generic message; an error is returned only
// for malformed input.
func (o *Orchestrator) HandleConsent(ctx context.Context, token string, action ConsentAction) (ConsentOutcome, error) {
	switch action {
	case ActionAccept:
		return o.accept(ctx, token), nil
	case ActionDecline:
		return o.decline(ctx, token), nil
	default:
		return ConsentOutcome{}, dErrors.New(dErrors.CodeInvalidInput, "action must be accept or decline")
	}
}

func (o *Orchestrator) accept(ctx context.Context, token string) ConsentOutcome {
	accepted, err := o.offers.Accept(ctx, token)
	if err != nil {
		o.logger.Warn("consent accept failed", slog.String("error", err.Error()))
		return ConsentOutcome{Message: "This offer is no longer available."}
	}
	if o.metrics != nil {
		o.metrics.OffersAccepted.Inc()
	}
	o.publish(ctx, domain.Envelope{
		Type:   domain.EventOfferAccepted,
		MSISDN: accepted.MSISDN,
		Data: map[string]any{
			"offer_id": accepted.ID.String(),
			"amount":   accepted.Amount,
		},
	})

	loan, err := o.engine.Disburse(ctx, accepted)
	if err != nil {
		// Includes invariant violations; those are logged with detail but the
		// subscriber only sees a generic failure.
		o.logger.Error("disbursal failed",
			slog.String("offer_id", accepted.ID.String()),
			slog.String("error", err.Error()))
		return ConsentOutcome{Message: "We could not complete your advance. Please try again later."}
	}
	if o.metrics != nil {
		o.metrics.LoansDisbursed.Inc()
	}
	o.publish(ctx, domain.Envelope{
		Type:   domain.EventLoanDisbursed,
		MSISDN: loan.MSISDN,
		Data: map[string]any{
			"loan_id":  loan.ID.String(),
			"offer_id": loan.OfferID.String(),
			"amount":   loan.Amount,
		},
	})
	return ConsentOutcome{
		Success: true,
		LoanID:  &loan.ID,
		Message: fmt.Sprintf("Your airtime advance of %.0f has been credited.", loan.Amount),
	}
}

func (o *Orchestrator) decline(ctx context.Context, token string) ConsentOutcome {
	declined, err := o.offers.Decline(ctx, token)
	if err != nil {
		o.logger.Warn("consent decline failed", slog.String("error", err.Error()))
		return ConsentOutcome{Message: "This offer is no longer available."}
	}
	if o.metrics != nil {
		o.metrics.OffersDeclined.Inc()
	}
	o.publish(ctx, domain.Envelope{
		Type:   domain.EventOfferDeclined,
		MSISDN: declined.MSISDN,
		Data:   map[string]any{"offer_id": declined.ID.String()},
	})
	return ConsentOutcome{Success: true, Message: "Offer declined. No advance was taken."}
}
