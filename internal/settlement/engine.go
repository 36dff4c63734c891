// Package settlement applies credit for accepted offers and nets loans out
// of later top-ups. All state changes are ledgered; a failure before any
// write leaves no partial state.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kopa/internal/domain"
	"kopa/internal/ledger"
	"kopa/internal/offer"
	"kopa/internal/platform/lock"
	"kopa/internal/storage"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

// Engine shares the per-subscriber keyed lock with the usage-signal source:
// a settlement debit and a depletion tick for the same subscriber never
// interleave their balance read and write.
type Engine struct {
	loans    storage.LoanStore
	balances storage.BalanceStore
	offers   *offer.Service
	locks    *lock.Keyed
	recorder *ledger.Recorder
	logger   *slog.Logger
}

func New(loans storage.LoanStore, balances storage.BalanceStore, offers *offer.Service, locks *lock.Keyed, recorder *ledger.Recorder, logger *slog.Logger) (*Engine, error) {
	if loans == nil || balances == nil || offers == nil || locks == nil || recorder == nil {
		return nil, fmt.Errorf("loans, balances, offer service, locks, and recorder are required")
	}
	return &Engine{loans: loans, balances: balances, offers: offers, locks: locks, recorder: recorder, logger: logger}, nil
}

// Disburse converts an accepted offer into a disbursed loan and credits the
// subscriber's balance by the offer amount.
func (e *Engine) Disburse(ctx context.Context, o domain.Offer) (domain.Loan, error) {
	if o.Status != domain.OfferAccepted {
		return domain.Loan{}, dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("cannot disburse an offer in status %s", o.Status))
	}

	// At most one outstanding loan per subscriber.
	if _, err := e.loans.OutstandingByMSISDN(ctx, o.MSISDN); err == nil {
		return domain.Loan{}, dErrors.New(dErrors.CodeInvariantViolation,
			"subscriber already has an outstanding loan")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Loan{}, dErrors.Wrap(err, dErrors.CodeInternal, "check outstanding loan")
	}

	now := time.Now()
	loan := domain.Loan{
		ID:        id.NewLoanID(),
		OfferID:   o.ID,
		MSISDN:    o.MSISDN,
		Amount:    o.Amount,
		Status:    domain.LoanPending,
		CreatedAt: now,
	}
	if err := e.loans.Save(ctx, loan); err != nil {
		return domain.Loan{}, dErrors.Wrap(err, dErrors.CodeInternal, "save loan")
	}
	e.record(ctx, domain.LedgerDisbursalInitiated, loan, map[string]any{"offer_id": o.ID.String()})

	balance, err := e.credit(ctx, o.MSISDN, o.Amount, now)
	if err != nil {
		return domain.Loan{}, err
	}

	loan.Status = domain.LoanDisbursed
	loan.DisbursedAt = &now
	if err := e.loans.Save(ctx, loan); err != nil {
		return domain.Loan{}, dErrors.Wrap(err, dErrors.CodeInternal, "save loan")
	}
	if _, err := e.offers.MarkDisbursed(ctx, o.ID); err != nil {
		return domain.Loan{}, err
	}
	e.record(ctx, domain.LedgerDisbursalCompleted, loan, map[string]any{
		"offer_id": o.ID.String(),
		"balance":  balance,
	})
	return loan, nil
}

// ProcessTopUp settles the subscriber's disbursed loan against an incoming
// top-up. The top-up credit itself was already applied by the usage-signal
// source, so settlement debits the loan amount: the resulting balance is
// previous + (top-up − loan).
//
// A top-up smaller than the loan amount does not settle: the loan stays
// disbursed and the shortfall is ledgered, so repayment never strands a
// negative balance. Returns the settled loan, or nil when nothing settled.
func (e *Engine) ProcessTopUp(ctx context.Context, topup domain.TopUpEvent) (*domain.Loan, error) {
	loan, err := e.loans.DisbursedByMSISDN(ctx, topup.MSISDN)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find disbursed loan")
	}

	if topup.Amount < loan.Amount {
		e.record(ctx, domain.LedgerRepaymentDeferred, loan, map[string]any{
			"topup_amount": topup.Amount,
			"shortfall":    loan.Amount - topup.Amount,
		})
		return nil, nil
	}

	e.record(ctx, domain.LedgerTopUpDetected, loan, map[string]any{"topup_amount": topup.Amount})
	e.record(ctx, domain.LedgerRepaymentInitiated, loan, map[string]any{"loan_amount": loan.Amount})

	now := time.Now()
	loan.Status = domain.LoanRepaid
	loan.RepaidAt = &now
	if err := e.loans.Save(ctx, loan); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save loan")
	}

	balance, err := e.credit(ctx, topup.MSISDN, -loan.Amount, now)
	if err != nil {
		return nil, err
	}
	e.record(ctx, domain.LedgerRepaymentCompleted, loan, map[string]any{
		"loan_amount": loan.Amount,
		"balance":     balance,
	})
	return &loan, nil
}

// credit appends a balance sample shifted by delta and returns the new
// value. Settlement samples carry no session id. The read-modify-write runs
// under the subscriber lock.
func (e *Engine) credit(ctx context.Context, msisdn id.MSISDN, delta float64, at time.Time) (float64, error) {
	unlock := e.locks.Lock(msisdn.String())
	defer unlock()

	var current float64
	sample, err := e.balances.Current(ctx, msisdn)
	switch {
	case err == nil:
		current = sample.Value
	case errors.Is(err, storage.ErrNotFound):
		current = 0
	default:
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "read balance")
	}

	value := current + delta
	if value < 0 {
		value = 0
	}
	if err := e.balances.Append(ctx, domain.BalanceSample{
		MSISDN:    msisdn,
		Value:     value,
		Timestamp: at,
	}); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "append balance sample")
	}
	return value, nil
}

func (e *Engine) record(ctx context.Context, t domain.LedgerEventType, loan domain.Loan, payload map[string]any) {
	err := e.recorder.Record(ctx, domain.LedgerEvent{
		Type:       t,
		EntityID:   loan.ID.String(),
		EntityType: "loan",
		MSISDN:     loan.MSISDN,
		Payload:    payload,
	})
	if err != nil && e.logger != nil {
		e.logger.ErrorContext(ctx, "ledger append failed", "loan_id", loan.ID, "error", err)
	}
}
