package storage

import (
	"context"
	"sync"
	"time"

	"kopa/internal/domain"
	id "kopa/pkg/domain"
)

// In-memory stores keep the pipeline self-contained and testable. They
// intentionally favor clarity over performance; the bus serializes pipeline
// writes, the mutexes guard direct query access.
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[id.MSISDN]domain.UserProfile
}

func NewInMemoryProfileStore() *InMemoryProfileStore {
	return &InMemoryProfileStore{profiles: make(map[id.MSISDN]domain.UserProfile)}
}

func (s *InMemoryProfileStore) Save(_ context.Context, profile domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.MSISDN] = profile
	return nil
}

func (s *InMemoryProfileStore) FindByMSISDN(_ context.Context, msisdn id.MSISDN) (domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if profile, ok := s.profiles[msisdn]; ok {
		return profile, nil
	}
	return domain.UserProfile{}, ErrNotFound
}

func (s *InMemoryProfileStore) All(_ context.Context) ([]domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserProfile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		out = append(out, profile)
	}
	return out, nil
}

type InMemoryBalanceStore struct {
	mu      sync.RWMutex
	samples map[id.MSISDN][]domain.BalanceSample
}

func NewInMemoryBalanceStore() *InMemoryBalanceStore {
	return &InMemoryBalanceStore{samples: make(map[id.MSISDN][]domain.BalanceSample)}
}

func (s *InMemoryBalanceStore) Append(_ context.Context, sample domain.BalanceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sample.MSISDN] = append(s.samples[sample.MSISDN], sample)
	return nil
}

func (s *InMemoryBalanceStore) Current(_ context.Context, msisdn id.MSISDN) (domain.BalanceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.samples[msisdn]
	if len(history) == 0 {
		return domain.BalanceSample{}, ErrNotFound
	}
	return history[len(history)-1], nil
}

func (s *InMemoryBalanceStore) History(_ context.Context, msisdn id.MSISDN) ([]domain.BalanceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.BalanceSample{}, s.samples[msisdn]...), nil
}

type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]domain.CallSession
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[id.SessionID]domain.CallSession)}
}

func (s *InMemorySessionStore) Save(_ context.Context, session domain.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, sessionID id.SessionID) (domain.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[sessionID]; ok {
		return session, nil
	}
	return domain.CallSession{}, ErrNotFound
}

func (s *InMemorySessionStore) ActiveByMSISDN(_ context.Context, msisdn id.MSISDN) (domain.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.MSISDN == msisdn && session.Active() {
			return session, nil
		}
	}
	return domain.CallSession{}, ErrNotFound
}

type InMemoryTopUpStore struct {
	mu     sync.RWMutex
	topups map[id.MSISDN][]domain.TopUpEvent
}

func NewInMemoryTopUpStore() *InMemoryTopUpStore {
	return &InMemoryTopUpStore{topups: make(map[id.MSISDN][]domain.TopUpEvent)}
}

func (s *InMemoryTopUpStore) Append(_ context.Context, topup domain.TopUpEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topups[topup.MSISDN] = append(s.topups[topup.MSISDN], topup)
	return nil
}

func (s *InMemoryTopUpStore) ListByMSISDN(_ context.Context, msisdn id.MSISDN) ([]domain.TopUpEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TopUpEvent{}, s.topups[msisdn]...), nil
}

type InMemoryOfferStore struct {
	mu      sync.RWMutex
	offers  map[id.OfferID]domain.Offer
	byToken map[string]id.OfferID
	order   []id.OfferID
}

func NewInMemoryOfferStore() *InMemoryOfferStore {
	return &InMemoryOfferStore{
		offers:  make(map[id.OfferID]domain.Offer),
		byToken: make(map[string]id.OfferID),
	}
}

func (s *InMemoryOfferStore) Save(_ context.Context, offer domain.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.offers[offer.ID]; !exists {
		s.order = append(s.order, offer.ID)
	}
	s.offers[offer.ID] = offer
	s.byToken[offer.ConsentToken] = offer.ID
	return nil
}

func (s *InMemoryOfferStore) FindByID(_ context.Context, offerID id.OfferID) (domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offer, ok := s.offers[offerID]; ok {
		return offer, nil
	}
	return domain.Offer{}, ErrNotFound
}

func (s *InMemoryOfferStore) FindByToken(_ context.Context, token string) (domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offerID, ok := s.byToken[token]; ok {
		return s.offers[offerID], nil
	}
	return domain.Offer{}, ErrNotFound
}

func (s *InMemoryOfferStore) ActiveByMSISDN(_ context.Context, msisdn id.MSISDN, now time.Time) (domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, offerID := range s.order {
		offer := s.offers[offerID]
		if offer.MSISDN == msisdn && offer.ActiveAt(now) {
			return offer, nil
		}
	}
	return domain.Offer{}, ErrNotFound
}

func (s *InMemoryOfferStore) ListByMSISDN(_ context.Context, msisdn id.MSISDN) ([]domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Offer
	for _, offerID := range s.order {
		if offer := s.offers[offerID]; offer.MSISDN == msisdn {
			out = append(out, offer)
		}
	}
	return out, nil
}

func (s *InMemoryOfferStore) All(_ context.Context) ([]domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Offer, 0, len(s.order))
	for _, offerID := range s.order {
		out = append(out, s.offers[offerID])
	}
	return out, nil
}

type InMemoryLoanStore struct {
	mu    sync.RWMutex
	loans map[id.LoanID]domain.Loan
	order []id.LoanID
}

func NewInMemoryLoanStore() *InMemoryLoanStore {
	return &InMemoryLoanStore{loans: make(map[id.LoanID]domain.Loan)}
}

func (s *InMemoryLoanStore) Save(_ context.Context, loan domain.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.loans[loan.ID]; !exists {
		s.order = append(s.order, loan.ID)
	}
	s.loans[loan.ID] = loan
	return nil
}

func (s *InMemoryLoanStore) FindByID(_ context.Context, loanID id.LoanID) (domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if loan, ok := s.loans[loanID]; ok {
		return loan, nil
	}
	return domain.Loan{}, ErrNotFound
}

func (s *InMemoryLoanStore) OutstandingByMSISDN(_ context.Context, msisdn id.MSISDN) (domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, loanID := range s.order {
		loan := s.loans[loanID]
		if loan.MSISDN == msisdn && loan.Status.Outstanding() {
			return loan, nil
		}
	}
	return domain.Loan{}, ErrNotFound
}

func (s *InMemoryLoanStore) DisbursedByMSISDN(_ context.Context, msisdn id.MSISDN) (domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, loanID := range s.order {
		loan := s.loans[loanID]
		if loan.MSISDN == msisdn && loan.Status == domain.LoanDisbursed {
			return loan, nil
		}
	}
	return domain.Loan{}, ErrNotFound
}

func (s *InMemoryLoanStore) ListByMSISDN(_ context.Context, msisdn id.MSISDN) ([]domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Loan
	for _, loanID := range s.order {
		if loan := s.loans[loanID]; loan.MSISDN == msisdn {
			out = append(out, loan)
		}
	}
	return out, nil
}

func (s *InMemoryLoanStore) All(_ context.Context) ([]domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Loan, 0, len(s.order))
	for _, loanID := range s.order {
		out = append(out, s.loans[loanID])
	}
	return out, nil
}

type InMemoryDecisionStore struct {
	mu        sync.RWMutex
	decisions map[id.DecisionID]domain.ModelDecision
}

func NewInMemoryDecisionStore() *InMemoryDecisionStore {
	return &InMemoryDecisionStore{decisions: make(map[id.DecisionID]domain.ModelDecision)}
}

func (s *InMemoryDecisionStore) Save(_ context.Context, decision domain.ModelDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[decision.ID] = decision
	return nil
}

func (s *InMemoryDecisionStore) FindByID(_ context.Context, decisionID id.DecisionID) (domain.ModelDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if decision, ok := s.decisions[decisionID]; ok {
		return decision, nil
	}
	return domain.ModelDecision{}, ErrNotFound
}

type InMemoryJourneyStore struct {
	mu     sync.RWMutex
	events map[id.MSISDN][]domain.JourneyEvent
}

func NewInMemoryJourneyStore() *InMemoryJourneyStore {
	return &InMemoryJourneyStore{events: make(map[id.MSISDN][]domain.JourneyEvent)}
}

func (s *InMemoryJourneyStore) Append(_ context.Context, event domain.JourneyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.MSISDN] = append(s.events[event.MSISDN], event)
	return nil
}

func (s *InMemoryJourneyStore) ListByMSISDN(_ context.Context, msisdn id.MSISDN) ([]domain.JourneyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.JourneyEvent{}, s.events[msisdn]...), nil
}
