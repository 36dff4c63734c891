package storage

import (
	"context"
	"time"

	"kopa/internal/domain"
	id "kopa/pkg/domain"
)

// Stores are interface-driven to keep the domain logic testable and to allow
// swapping in-memory, file-based, or external persistence without rewiring
// business code. All subscriber-scoped state is owned by the composition
// root, which passes these stores into each component.
type ProfileStore interface {
	Save(ctx context.Context, profile domain.UserProfile) error
	FindByMSISDN(ctx context.Context, msisdn id.MSISDN) (domain.UserProfile, error)
	All(ctx context.Context) ([]domain.UserProfile, error)
}

type BalanceStore interface {
	Append(ctx context.Context, sample domain.BalanceSample) error
	Current(ctx context.Context, msisdn id.MSISDN) (domain.BalanceSample, error)
	History(ctx context.Context, msisdn id.MSISDN) ([]domain.BalanceSample, error)
}

type SessionStore interface {
	Save(ctx context.Context, session domain.CallSession) error
	FindByID(ctx context.Context, sessionID id.SessionID) (domain.CallSession, error)
	ActiveByMSISDN(ctx context.Context, msisdn id.MSISDN) (domain.CallSession, error)
}

type TopUpStore interface {
	Append(ctx context.Context, topup domain.TopUpEvent) error
	ListByMSISDN(ctx context.Context, msisdn id.MSISDN) ([]domain.TopUpEvent, error)
}

type OfferStore interface {
	Save(ctx context.Context, offer domain.Offer) error
	FindByID(ctx context.Context, offerID id.OfferID) (domain.Offer, error)
	FindByToken(ctx context.Context, token string) (domain.Offer, error)
	ActiveByMSISDN(ctx context.Context, msisdn id.MSISDN, now time.Time) (domain.Offer, error)
	ListByMSISDN(ctx context.Context, msisdn id.MSISDN) ([]domain.Offer, error)
	All(ctx context.Context) ([]domain.Offer, error)
}

type LoanStore interface {
	Save(ctx context.Context, loan domain.Loan) error
	FindByID(ctx context.Context, loanID id.LoanID) (domain.Loan, error)
	// OutstandingByMSISDN returns the subscriber's pending or disbursed loan.
	OutstandingByMSISDN(ctx context.Context, msisdn id.MSISDN) (domain.Loan, error)
	// DisbursedByMSISDN narrows to loans awaiting repayment.
	DisbursedByMSISDN(ctx context.Context, msisdn id.MSISDN) (domain.Loan, error)
	ListByMSISDN(ctx context.Context, msisdn id.MSISDN) ([]domain.Loan, error)
	All(ctx context.Context) ([]domain.Loan, error)
}

type DecisionStore interface {
	Save(ctx context.Context, decision domain.ModelDecision) error
	FindByID(ctx context.Context, decisionID id.DecisionID) (domain.ModelDecision, error)
}

type JourneyStore interface {
	Append(ctx context.Context, event domain.JourneyEvent) error
	ListByMSISDN(ctx context.Context, msisdn id.MSISDN) ([]domain.JourneyEvent, error)
}
