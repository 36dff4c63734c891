// Package trigger decides when a low-balance observation should start the
// offer pipeline. The gate is deliberately conservative: every condition has
// to hold, and the debounce stamp is written before anyone is notified so a
// crash between the two can only suppress a trigger, never duplicate one.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"kopa/internal/domain"
	"kopa/internal/ledger"
	"kopa/internal/policy"
	"kopa/internal/storage"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

type Gate struct {
	sessions storage.SessionStore
	offers   storage.OfferStore
	loans    storage.LoanStore
	recorder *ledger.Recorder
	logger   *slog.Logger

	mu          sync.Mutex
	lastTrigger map[id.MSISDN]time.Time
}

func New(sessions storage.SessionStore, offers storage.OfferStore, loans storage.LoanStore, recorder *ledger.Recorder, logger *slog.Logger) (*Gate, error) {
	if sessions == nil || offers == nil || loans == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "trigger: missing store dependency")
	}
	if recorder == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "trigger: recorder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sessions:    sessions,
		offers:      offers,
		loans:       loans,
		recorder:    recorder,
		logger:      logger,
		lastTrigger: make(map[id.MSISDN]time.Time),
	}, nil
}

// Evaluate reports whether the sample should fire the offer pipeline. A true
// result means the debounce stamp is already recorded; callers may notify
// without further checks.
func (g *Gate) Evaluate(ctx context.Context, sample domain.BalanceSample) (bool, error) {
	if sample.SessionID == "" {
		return false, nil
	}
	session, err := g.sessions.FindByID(ctx, sample.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "trigger: session lookup failed")
	}
	if !session.Active() {
		return false, nil
	}
	if sample.Value > policy.LowBalanceThreshold {
		return false, nil
	}
	if g.debounced(sample.MSISDN, sample.Timestamp) {
		return false, nil
	}

	blocked, err := g.offerBlocked(ctx, sample.MSISDN, sample.Timestamp)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}

	if _, err := g.loans.DisbursedByMSISDN(ctx, sample.MSISDN); err == nil {
		return false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "trigger: loan lookup failed")
	}

	g.stamp(sample.MSISDN, sample.Timestamp)
	if err := g.recorder.Record(ctx, domain.LedgerEvent{
		Type:       domain.LedgerTriggerFired,
		EntityID:   sample.SessionID.String(),
		EntityType: "trigger",
		MSISDN:     sample.MSISDN,
		Payload: map[string]any{
			"balance":   sample.Value,
			"threshold": policy.LowBalanceThreshold,
		},
	}); err != nil {
		g.logger.Error("ledger append failed", slog.String("error", err.Error()))
	}
	g.logger.Info("low balance trigger fired",
		slog.String("msisdn", sample.MSISDN.String()),
		slog.Float64("balance", sample.Value))
	return true, nil
}

// offerBlocked suppresses the trigger while an offer is live or was created
// recently. The cooldown runs from creation time, independent of the TTL, so
// a declined or expired offer still quiets the pipeline for a while.
func (g *Gate) offerBlocked(ctx context.Context, msisdn id.MSISDN, at time.Time) (bool, error) {
	if _, err := g.offers.ActiveByMSISDN(ctx, msisdn, at); err == nil {
		return true, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "trigger: active offer lookup failed")
	}

	offers, err := g.offers.ListByMSISDN(ctx, msisdn)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "trigger: offer history lookup failed")
	}
	for _, o := range offers {
		if at.Sub(o.CreatedAt) < policy.OfferCooldownWindow {
			return true, nil
		}
	}
	return false, nil
}

func (g *Gate) debounced(msisdn id.MSISDN, at time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.lastTrigger[msisdn]
	return ok && at.Sub(last) < policy.DebounceWindow
}

func (g *Gate) stamp(msisdn id.MSISDN, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastTrigger[msisdn] = at
}
