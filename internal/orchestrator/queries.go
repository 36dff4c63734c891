package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kopa/internal/domain"
	"kopa/internal/scoring"
	"kopa/internal/storage"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

// Snapshot is the full state of one subscriber as the query surface exposes
// it. Pointer fields are nil when the subscriber has no live entity of that
// kind.
type Snapshot struct {
	Profile         domain.UserProfile     `json:"profile"`
	Balance         float64                `json:"balance"`
	BalanceHistory  []domain.BalanceSample `json:"balance_history"`
	ActiveSession   *domain.CallSession    `json:"active_session,omitempty"`
	ActiveOffer     *domain.Offer          `json:"active_offer,omitempty"`
	OutstandingLoan *domain.Loan           `json:"outstanding_loan,omitempty"`
	Offers          []domain.Offer         `json:"offers"`
	Loans           []domain.Loan          `json:"loans"`
	TopUps          []domain.TopUpEvent    `json:"topups"`
	Timeline        []domain.JourneyEvent  `json:"timeline"`
}

// LedgerFilter narrows a ledger query. Zero-valued fields are ignored;
// EntityID wins over Type, Type over MSISDN.
type LedgerFilter struct {
	EntityID string
	Type     domain.LedgerEventType
	MSISDN   id.MSISDN
}

// Explainability pairs an offer with the model decision that produced it.
type Explainability struct {
	Offer    domain.Offer         `json:"offer"`
	Decision domain.ModelDecision `json:"decision"`
	Reasons  []string             `json:"reasons"`
}

// GetOfferByToken resolves a consent token, lazily expiring stale offers.
func (o *Orchestrator) GetOfferByToken(ctx context.Context, token string) (domain.Offer, error) {
	return o.offers.GetByToken(ctx, token)
}

// SubscriberSnapshot assembles everything known about one subscriber.
func (o *Orchestrator) SubscriberSnapshot(ctx context.Context, msisdn id.MSISDN) (Snapshot, error) {
	profile, err := o.stores.Profiles.FindByMSISDN(ctx, msisdn)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Snapshot{}, dErrors.New(dErrors.CodeNotFound, "unknown subscriber")
		}
		return Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "load profile")
	}
	snapshot := Snapshot{Profile: profile}

	if current, err := o.stores.Balances.Current(ctx, msisdn); err == nil {
		snapshot.Balance = current.Value
	}
	if history, err := o.stores.Balances.History(ctx, msisdn); err == nil {
		snapshot.BalanceHistory = history
	}
	if session, err := o.stores.Sessions.ActiveByMSISDN(ctx, msisdn); err == nil {
		snapshot.ActiveSession = &session
	}
	if active, err := o.stores.Offers.ActiveByMSISDN(ctx, msisdn, time.Now()); err == nil {
		snapshot.ActiveOffer = &active
	}
	if outstanding, err := o.stores.Loans.OutstandingByMSISDN(ctx, msisdn); err == nil {
		snapshot.OutstandingLoan = &outstanding
	}

	if snapshot.Offers, err = o.stores.Offers.ListByMSISDN(ctx, msisdn); err != nil {
		return Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "load offers")
	}
	if snapshot.Loans, err = o.stores.Loans.ListByMSISDN(ctx, msisdn); err != nil {
		return Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "load loans")
	}
	if snapshot.TopUps, err = o.stores.TopUps.ListByMSISDN(ctx, msisdn); err != nil {
		return Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "load top-ups")
	}
	if snapshot.Timeline, err = o.journey.Timeline(ctx, msisdn); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// AllOffers lists every offer in creation order.
func (o *Orchestrator) AllOffers(ctx context.Context) ([]domain.Offer, error) {
	return o.stores.Offers.All(ctx)
}

// AllLoans lists every loan in creation order.
func (o *Orchestrator) AllLoans(ctx context.Context) ([]domain.Loan, error) {
	return o.stores.Loans.All(ctx)
}

// Ledger queries the audit trail, newest-first.
func (o *Orchestrator) Ledger(ctx context.Context, filter LedgerFilter) ([]domain.LedgerEvent, error) {
	store := o.recorder.Store()
	switch {
	case filter.EntityID != "":
		return store.ListByEntity(ctx, filter.EntityID)
	case filter.Type != "":
		if !filter.Type.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown ledger event type")
		}
		return store.ListByType(ctx, filter.Type)
	case filter.MSISDN != "":
		return store.ListByMSISDN(ctx, filter.MSISDN)
	default:
		return store.List(ctx)
	}
}

// ModelDecision returns a persisted scoring decision by id.
func (o *Orchestrator) ModelDecision(ctx context.Context, decisionID id.DecisionID) (domain.ModelDecision, error) {
	decision, err := o.stores.Decisions.FindByID(ctx, decisionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.ModelDecision{}, dErrors.New(dErrors.CodeNotFound, "unknown decision")
		}
		return domain.ModelDecision{}, dErrors.Wrap(err, dErrors.CodeInternal, "load decision")
	}
	return decision, nil
}

// OfferExplainability joins an offer with the decision behind it.
func (o *Orchestrator) OfferExplainability(ctx context.Context, offerID id.OfferID) (Explainability, error) {
	off, err := o.stores.Offers.FindByID(ctx, offerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Explainability{}, dErrors.New(dErrors.CodeNotFound, "unknown offer")
		}
		return Explainability{}, dErrors.Wrap(err, dErrors.CodeInternal, "load offer")
	}
	decision, err := o.stores.Decisions.FindByID(ctx, off.DecisionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Every offer is created from a persisted decision, so a dangling
			// reference means corrupted state, not a bad request.
			o.logger.Error("offer references a missing decision",
				slog.String("offer_id", off.ID.String()),
				slog.String("decision_id", off.DecisionID.String()))
			return Explainability{}, dErrors.New(dErrors.CodeInvariantViolation, "offer references a missing decision")
		}
		return Explainability{}, dErrors.Wrap(err, dErrors.CodeInternal, "load decision")
	}
	return Explainability{
		Offer:    off,
		Decision: decision,
		Reasons:  scoring.Reasons(decision),
	}, nil
}
