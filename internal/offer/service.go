// Package offer owns the consent state machine:
// created → sms_sent → link_opened → {accepted, declined, expired};
// accepted → disbursed. The consent token minted at creation is the only
// external handle for consent actions.
package offer

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kopa/internal/domain"
	"kopa/internal/eligibility"
	"kopa/internal/ledger"
	"kopa/internal/policy"
	"kopa/internal/storage"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

type Service struct {
	offers   storage.OfferStore
	recorder *ledger.Recorder
	logger   *slog.Logger
	ttl      time.Duration
}

type Option func(*Service)

// WithTTL overrides the consent window, mainly for tests.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func New(offers storage.OfferStore, recorder *ledger.Recorder, logger *slog.Logger, opts ...Option) (*Service, error) {
	if offers == nil {
		return nil, fmt.Errorf("offer store is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("ledger recorder is required")
	}
	svc := &Service{offers: offers, recorder: recorder, logger: logger, ttl: policy.OfferTTL}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create builds an offer from an approved gate result. Creation is
// idempotent: when the subscriber already holds an active offer it is
// returned unchanged and no new offer is minted. The bool reports whether a
// new offer was created.
func (s *Service) Create(ctx context.Context, msisdn id.MSISDN, sessionID id.SessionID, result eligibility.Result) (domain.Offer, bool, error) {
	if !result.Approved {
		return domain.Offer{}, false, dErrors.New(dErrors.CodeInvalidState, "cannot create an offer from a rejected gate result")
	}

	now := time.Now()
	if existing, err := s.offers.ActiveByMSISDN(ctx, msisdn, now); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Offer{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "check active offer")
	}

	token, err := mintToken()
	if err != nil {
		return domain.Offer{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "mint consent token")
	}

	created := domain.Offer{
		ID:           id.NewOfferID(),
		MSISDN:       msisdn,
		SessionID:    sessionID,
		Amount:       result.Amount,
		Status:       domain.OfferCreated,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		ConsentToken: token,
		Reasons:      result.Reasons,
		Benefit:      result.Benefit,
		DecisionID:   result.Decision.ID,
	}
	if err := s.offers.Save(ctx, created); err != nil {
		return domain.Offer{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "save offer")
	}
	s.record(ctx, created, domain.LedgerOfferCreated, map[string]any{
		"amount":     created.Amount,
		"expires_at": created.ExpiresAt,
	})
	return created, true, nil
}

// GetByToken resolves the consent token. Reading an offer past its expiry
// transitions it to expired as a side effect and is then reported as not
// found.
func (s *Service) GetByToken(ctx context.Context, token string) (domain.Offer, error) {
	found, err := s.offers.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Offer{}, dErrors.New(dErrors.CodeNotFound, "offer not found")
		}
		return domain.Offer{}, dErrors.Wrap(err, dErrors.CodeInternal, "find offer by token")
	}
	if found.ExpiredAt(time.Now()) {
		if _, err := s.expire(ctx, found); err != nil {
			return domain.Offer{}, err
		}
		return domain.Offer{}, dErrors.New(dErrors.CodeNotFound, "offer expired")
	}
	return found, nil
}

// MarkSMSSent records delivery of the consent SMS.
func (s *Service) MarkSMSSent(ctx context.Context, offerID id.OfferID) (domain.Offer, error) {
	current, err := s.offers.FindByID(ctx, offerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Offer{}, dErrors.New(dErrors.CodeNotFound, "offer not found")
		}
		return domain.Offer{}, dErrors.Wrap(err, dErrors.CodeInternal, "find offer")
	}
	if current.Status != domain.OfferCreated {
		return domain.Offer{}, illegalTransition(current.Status, domain.OfferSMSSent)
	}
	return s.transition(ctx, current, domain.OfferSMSSent, domain.LedgerSMSSent, nil)
}

// MarkLinkOpened records that the subscriber followed the consent link.
// Re-opening an already opened link is a no-op rather than an error.
func (s *Service) MarkLinkOpened(ctx context.Context, token string) (domain.Offer, error) {
	current, err := s.GetByToken(ctx, token)
	if err != nil {
		return domain.Offer{}, err
	}
	switch current.Status {
	case domain.OfferLinkOpened:
		return current, nil
	case domain.OfferCreated, domain.OfferSMSSent:
		return s.transition(ctx, current, domain.OfferLinkOpened, domain.LedgerLinkOpened, nil)
	}
	return domain.Offer{}, illegalTransition(current.Status, domain.OfferLinkOpened)
}

// Accept consents to the advance. Legal only from sms_sent or link_opened
// and only before expiry.
func (s *Service) Accept(ctx context.Context, token string) (domain.Offer, error) {
	current, err := s.lookupForConsent(ctx, token)
	if err != nil {
		return domain.Offer{}, err
	}
	switch current.Status {
	case domain.OfferSMSSent, domain.OfferLinkOpened:
		return s.transition(ctx, current, domain.OfferAccepted, domain.LedgerOfferAccepted, map[string]any{
			"amount": current.Amount,
		})
	}
	return domain.Offer{}, illegalTransition(current.Status, domain.OfferAccepted)
}

// Decline refuses the advance. Legal from any non-terminal state.
func (s *Service) Decline(ctx context.Context, token string) (domain.Offer, error) {
	current, err := s.lookupForConsent(ctx, token)
	if err != nil {
		return domain.Offer{}, err
	}
	if current.Status.Terminal() {
		return domain.Offer{}, illegalTransition(current.Status, domain.OfferDeclined)
	}
	return s.transition(ctx, current, domain.OfferDeclined, domain.LedgerOfferDeclined, nil)
}

// MarkDisbursed flips an accepted offer once settlement has credited the
// balance. Called by the settlement engine, not by consent flows.
func (s *Service) MarkDisbursed(ctx context.Context, offerID id.OfferID) (domain.Offer, error) {
	current, err := s.offers.FindByID(ctx, offerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Offer{}, dErrors.New(dErrors.CodeNotFound, "offer not found")
		}
		return domain.Offer{}, dErrors.Wrap(err, dErrors.CodeInternal, "find offer")
	}
	if current.Status != domain.OfferAccepted {
		return domain.Offer{}, illegalTransition(current.Status, domain.OfferDisbursed)
	}
	updated := current
	updated.Status = domain.OfferDisbursed
	if err := s.offers.Save(ctx, updated); err != nil {
		return domain.Offer{}, dErrors.Wrap(err, dErrors.CodeInternal, "save offer")
	}
	return updated, nil
}

// lookupForConsent resolves a token for accept/decline, applying lazy expiry
// the same way GetByToken does.
func (s *Service) lookupForConsent(ctx context.Context, token string) (domain.Offer, error) {
	found, err := s.offers.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Offer{}, dErrors.New(dErrors.CodeNotFound, "offer not found")
		}
		return domain.Offer{}, dErrors.Wrap(err, dErrors.CodeInternal, "find offer by token")
	}
	if found.ExpiredAt(time.Now()) {
		if _, err := s.expire(ctx, found); err != nil {
			return domain.Offer{}, err
		}
		return domain.Offer{}, dErrors.New(dErrors.CodeInvalidState, "offer has expired")
	}
	return found, nil
}

func (s *Service) expire(ctx context.Context, current domain.Offer) (domain.Offer, error) {
	return s.transition(ctx, current, domain.OfferExpired, domain.LedgerOfferExpired, nil)
}

func (s *Service) transition(ctx context.Context, current domain.Offer, to domain.OfferStatus, ledgerType domain.LedgerEventType, payload map[string]any) (domain.Offer, error) {
	updated := current
	updated.Status = to
	if err := s.offers.Save(ctx, updated); err != nil {
		return domain.Offer{}, dErrors.Wrap(err, dErrors.CodeInternal, "save offer")
	}
	s.record(ctx, updated, ledgerType, payload)
	return updated, nil
}

func (s *Service) record(ctx context.Context, o domain.Offer, ledgerType domain.LedgerEventType, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = string(o.Status)
	err := s.recorder.Record(ctx, domain.LedgerEvent{
		Type:       ledgerType,
		EntityID:   o.ID.String(),
		EntityType: "offer",
		MSISDN:     o.MSISDN,
		Payload:    payload,
	})
	if err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "ledger append failed", "offer_id", o.ID, "error", err)
	}
}

func illegalTransition(from, to domain.OfferStatus) error {
	return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("cannot move offer from %s to %s", from, to))
}

func mintToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := crand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
