// Package signals simulates the operator-side usage feed: call sessions,
// in-call balance depletion, and top-ups. It is the only producer of
// `mno_event` envelopes; everything downstream reacts to what it publishes.
package signals

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kopa/internal/domain"
	"kopa/internal/ledger"
	"kopa/internal/platform/lock"
	"kopa/internal/policy"
	"kopa/internal/scheduler"
	"kopa/internal/storage"
	"kopa/internal/stream"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

// Source mutates a subscriber's balance only while holding that
// subscriber's keyed lock, shared with the settlement engine, so a
// depletion tick can never revert a concurrent credit.
type Source struct {
	profiles storage.ProfileStore
	sessions storage.SessionStore
	balances storage.BalanceStore
	topups   storage.TopUpStore
	locks    *lock.Keyed
	bus      *stream.Bus
	sched    *scheduler.Scheduler
	recorder *ledger.Recorder
	logger   *slog.Logger
}

func New(profiles storage.ProfileStore, sessions storage.SessionStore, balances storage.BalanceStore, topups storage.TopUpStore, locks *lock.Keyed, bus *stream.Bus, sched *scheduler.Scheduler, recorder *ledger.Recorder, logger *slog.Logger) (*Source, error) {
	if profiles == nil || sessions == nil || balances == nil || topups == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "signals: missing store dependency")
	}
	if locks == nil || bus == nil || sched == nil || recorder == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "signals: locks, bus, scheduler and recorder are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		profiles: profiles,
		sessions: sessions,
		balances: balances,
		topups:   topups,
		locks:    locks,
		bus:      bus,
		sched:    sched,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// StartCall opens a voice session for the subscriber, emits the opening
// balance sample and schedules the depletion tick. A subscriber can hold at
// most one active session.
func (s *Source) StartCall(ctx context.Context, msisdn id.MSISDN) (domain.CallSession, error) {
	if _, err := s.profiles.FindByMSISDN(ctx, msisdn); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.CallSession{}, dErrors.New(dErrors.CodeNotFound, "unknown subscriber")
		}
		return domain.CallSession{}, dErrors.Wrap(err, dErrors.CodeInternal, "signals: profile lookup failed")
	}
	session, err := s.openSession(ctx, msisdn)
	if err != nil {
		return domain.CallSession{}, err
	}
	s.ledger(ctx, domain.LedgerCallStarted, session.ID.String(), "session", msisdn, nil)

	s.bus.Publish(ctx, domain.Envelope{
		Type:   domain.EventMNO,
		MSISDN: msisdn,
		Data: map[string]any{
			"event":      domain.MNOCallStart,
			"session_id": session.ID.String(),
		},
	})
	s.emitBalance(ctx, domain.BalanceSample{
		MSISDN:          msisdn,
		Value:           policy.InitialCallBalance,
		SessionID:       session.ID,
		Timestamp:       session.StartedAt,
		ConsumptionRate: policy.DepletionTickDecrement,
	})

	key := scheduler.Key{MSISDN: msisdn, Session: session.ID}
	s.sched.ScheduleRepeating(ctx, key, policy.DepletionTickInterval, func(tickCtx context.Context) {
		s.tick(tickCtx, msisdn, session.ID)
	})

	s.logger.Info("call started",
		slog.String("msisdn", msisdn.String()),
		slog.String("session_id", session.ID.String()))
	return session, nil
}

// openSession holds the subscriber lock across the single-active-session
// check and the save, so concurrent StartCalls cannot both pass the guard.
func (s *Source) openSession(ctx context.Context, msisdn id.MSISDN) (domain.CallSession, error) {
	unlock := s.locks.Lock(msisdn.String())
	defer unlock()

	if _, err := s.sessions.ActiveByMSISDN(ctx, msisdn); err == nil {
		return domain.CallSession{}, dErrors.New(dErrors.CodeConflict, "subscriber already has an active call")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.CallSession{}, dErrors.Wrap(err, dErrors.CodeInternal, "signals: session lookup failed")
	}

	session := domain.CallSession{
		ID:        id.NewSessionID(),
		MSISDN:    msisdn,
		StartedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return domain.CallSession{}, dErrors.Wrap(err, dErrors.CodeInternal, "signals: session save failed")
	}
	return session, nil
}

// EndCall closes the session and cancels its depletion tick. Cancellation is
// synchronous, so no balance sample for the session is emitted after EndCall
// returns.
func (s *Source) EndCall(ctx context.Context, sessionID id.SessionID) (domain.CallSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.CallSession{}, dErrors.New(dErrors.CodeNotFound, "unknown session")
		}
		return domain.CallSession{}, dErrors.Wrap(err, dErrors.CodeInternal, "signals: session lookup failed")
	}
	if !session.Active() {
		return domain.CallSession{}, dErrors.New(dErrors.CodeInvalidState, "call already ended")
	}

	s.sched.Cancel(scheduler.Key{MSISDN: session.MSISDN, Session: session.ID})

	now := time.Now()
	session.EndedAt = &now
	if err := s.sessions.Save(ctx, session); err != nil {
		return domain.CallSession{}, dErrors.Wrap(err, dErrors.CodeInternal, "signals: session save failed")
	}
	s.ledger(ctx, domain.LedgerCallEnded, session.ID.String(), "session", session.MSISDN, map[string]any{
		"duration_seconds": now.Sub(session.StartedAt).Seconds(),
	})

	s.bus.Publish(ctx, domain.Envelope{
		Type:   domain.EventMNO,
		MSISDN: session.MSISDN,
		Data: map[string]any{
			"event":      domain.MNOCallEnd,
			"session_id": session.ID.String(),
		},
	})
	s.logger.Info("call ended",
		slog.String("msisdn", session.MSISDN.String()),
		slog.String("session_id", session.ID.String()))
	return session, nil
}

// SimulateTopUp records an airtime purchase, keeps the profile's top-up
// statistics current and credits the balance. Settlement reacts to the
// resulting top-up, not from here.
func (s *Source) SimulateTopUp(ctx context.Context, msisdn id.MSISDN, amount float64, channel string) (domain.TopUpEvent, error) {
	if amount <= 0 {
		return domain.TopUpEvent{}, dErrors.New(dErrors.CodeInvalidInput, "top-up amount must be positive")
	}
	topup, balance, err := s.applyTopUp(ctx, msisdn, amount, channel)
	if err != nil {
		return domain.TopUpEvent{}, err
	}

	// Published outside the lock: settlement reacts to this envelope and
	// takes the same key.
	s.bus.Publish(ctx, domain.Envelope{
		Type:   domain.EventMNO,
		MSISDN: msisdn,
		Data: map[string]any{
			"event":   domain.MNOTopUp,
			"amount":  topup.Amount,
			"channel": topup.Channel,
			"balance": balance,
		},
	})
	s.logger.Info("topup recorded",
		slog.String("msisdn", msisdn.String()),
		slog.Float64("amount", amount),
		slog.String("channel", channel))
	return topup, nil
}

// applyTopUp records the purchase and updates profile stats and the balance
// as one serialized unit per subscriber.
func (s *Source) applyTopUp(ctx context.Context, msisdn id.MSISDN, amount float64, channel string) (domain.TopUpEvent, float64, error) {
	unlock := s.locks.Lock(msisdn.String())
	defer unlock()

	profile, err := s.profiles.FindByMSISDN(ctx, msisdn)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.TopUpEvent{}, 0, dErrors.New(dErrors.CodeNotFound, "unknown subscriber")
		}
		return domain.TopUpEvent{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "signals: profile lookup failed")
	}

	topup := domain.TopUpEvent{
		MSISDN:    msisdn,
		Amount:    amount,
		Channel:   channel,
		Timestamp: time.Now(),
	}
	if err := s.topups.Append(ctx, topup); err != nil {
		return domain.TopUpEvent{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "signals: top-up append failed")
	}

	// Running mean over the lifetime count implied by the 30 d frequency.
	n := float64(profile.TopUpFrequency30d)
	profile.AvgTopUpAmount = (profile.AvgTopUpAmount*n + amount) / (n + 1)
	profile.TopUpFrequency30d++
	profile.LastTopUpAt = &topup.Timestamp
	if err := s.profiles.Save(ctx, profile); err != nil {
		return domain.TopUpEvent{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "signals: profile save failed")
	}

	balance := topup.Amount
	if current, err := s.balances.Current(ctx, msisdn); err == nil {
		balance = current.Value + topup.Amount
	}
	// The credit carries no session id so a mid-call top-up cannot fire the
	// low-balance gate on its own sample.
	if err := s.balances.Append(ctx, domain.BalanceSample{
		MSISDN:    msisdn,
		Value:     balance,
		Timestamp: topup.Timestamp,
	}); err != nil {
		return domain.TopUpEvent{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "signals: balance append failed")
	}
	return topup, balance, nil
}

// tick applies one depletion step. Running on the scheduler goroutine means
// the scheduler's cancel semantics, not this function, guarantee no tick
// lands after EndCall. The read and the append happen under the subscriber
// lock so a tick can never overwrite a concurrent credit with a stale value.
func (s *Source) tick(ctx context.Context, msisdn id.MSISDN, sessionID id.SessionID) {
	unlock := s.locks.Lock(msisdn.String())
	current, err := s.balances.Current(ctx, msisdn)
	if err != nil {
		unlock()
		s.logger.Error("depletion tick: balance lookup failed", slog.String("error", err.Error()))
		return
	}
	value := current.Value - policy.DepletionTickDecrement
	if value < 0 {
		value = 0
	}
	sample := domain.BalanceSample{
		MSISDN:          msisdn,
		Value:           value,
		SessionID:       sessionID,
		Timestamp:       time.Now(),
		ConsumptionRate: policy.DepletionTickDecrement,
	}
	err = s.balances.Append(ctx, sample)
	unlock()
	if err != nil {
		s.logger.Error("balance append failed", slog.String("error", err.Error()))
		return
	}
	s.publishBalance(ctx, sample)
}

// emitBalance appends the sample under the subscriber lock and broadcasts
// it.
func (s *Source) emitBalance(ctx context.Context, sample domain.BalanceSample) {
	unlock := s.locks.Lock(sample.MSISDN.String())
	err := s.balances.Append(ctx, sample)
	unlock()
	if err != nil {
		s.logger.Error("balance append failed", slog.String("error", err.Error()))
		return
	}
	s.publishBalance(ctx, sample)
}

// publishBalance broadcasts the sample. The envelope carries it under
// "sample" for in-process consumers alongside the flattened fields the
// transport relays.
func (s *Source) publishBalance(ctx context.Context, sample domain.BalanceSample) {
	s.bus.Publish(ctx, domain.Envelope{
		Type:   domain.EventMNO,
		MSISDN: sample.MSISDN,
		Data: map[string]any{
			"event":      domain.MNOBalanceUpdate,
			"session_id": sample.SessionID.String(),
			"balance":    sample.Value,
			"sample":     sample,
		},
	})
}

func (s *Source) ledger(ctx context.Context, t domain.LedgerEventType, entityID, entityType string, msisdn id.MSISDN, payload map[string]any) {
	err := s.recorder.Record(ctx, domain.LedgerEvent{
		Type:       t,
		EntityID:   entityID,
		EntityType: entityType,
		MSISDN:     msisdn,
		Payload:    payload,
	})
	if err != nil {
		s.logger.Error("ledger append failed", slog.String("error", err.Error()))
	}
}
