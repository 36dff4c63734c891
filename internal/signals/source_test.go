package signals

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

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

// capture records published envelopes. Depletion ticks publish from timer
// goroutines, so access is locked.
type capture struct {
	mu        sync.Mutex
	envelopes []domain.Envelope
}

func (c *capture) HandleEvent(_ context.Context, envelope domain.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes = append(c.envelopes, envelope)
}

func (c *capture) all() []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Envelope(nil), c.envelopes...)
}

func (c *capture) mnoEvents() []string {
	var out []string
	for _, env := range c.all() {
		if env.Type == domain.EventMNO {
			out = append(out, env.Data["event"].(string))
		}
	}
	return out
}

type SourceSuite struct {
	suite.Suite
	profiles    *storage.InMemoryProfileStore
	sessions    *storage.InMemorySessionStore
	balances    *storage.InMemoryBalanceStore
	topups      *storage.InMemoryTopUpStore
	ledgerStore *ledger.InMemoryStore
	sched       *scheduler.Scheduler
	captured    *capture
	source      *Source

	savedInterval time.Duration
}

func TestSourceSuite(t *testing.T) {
	suite.Run(t, new(SourceSuite))
}

func (s *SourceSuite) SetupTest() {
	s.savedInterval = policy.DepletionTickInterval
	policy.DepletionTickInterval = 5 * time.Millisecond

	s.profiles = storage.NewInMemoryProfileStore()
	s.sessions = storage.NewInMemorySessionStore()
	s.balances = storage.NewInMemoryBalanceStore()
	s.topups = storage.NewInMemoryTopUpStore()
	s.ledgerStore = ledger.NewInMemoryStore()
	s.sched = scheduler.New()
	s.captured = &capture{}

	bus := stream.NewBus(slog.Default())
	bus.Subscribe(s.captured)

	var err error
	s.source, err = New(s.profiles, s.sessions, s.balances, s.topups, lock.NewKeyed(), bus, s.sched, ledger.NewRecorder(s.ledgerStore), slog.Default())
	s.Require().NoError(err)

	s.Require().NoError(s.profiles.Save(context.Background(), domain.UserProfile{
		MSISDN:            "254700000001",
		ActivatedAt:       time.Now().Add(-240 * 24 * time.Hour),
		AvgTopUpAmount:    20,
		TopUpFrequency30d: 4,
		NetworkType:       "4g",
		DeviceTier:        "smartphone",
	}))
}

func (s *SourceSuite) TearDownTest() {
	s.sched.CancelAll()
	policy.DepletionTickInterval = s.savedInterval
}

func (s *SourceSuite) TestStartCall() {
	ctx := context.Background()

	s.Run("rejects unknown subscriber", func() {
		_, err := s.source.StartCall(ctx, "254799999999")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("opens session with initial balance", func() {
		session, err := s.source.StartCall(ctx, "254700000001")
		s.Require().NoError(err)
		s.True(session.Active())

		current, err := s.balances.Current(ctx, "254700000001")
		s.Require().NoError(err)
		s.Equal(policy.InitialCallBalance, current.Value)
		s.Equal(session.ID, current.SessionID)

		kinds := s.captured.mnoEvents()
		s.Require().GreaterOrEqual(len(kinds), 2)
		s.Equal(domain.MNOCallStart, kinds[0])
		s.Equal(domain.MNOBalanceUpdate, kinds[1])

		events, err := s.ledgerStore.ListByType(ctx, domain.LedgerCallStarted)
		s.Require().NoError(err)
		s.Len(events, 1)
	})

	s.Run("enforces a single active session", func() {
		_, err := s.source.StartCall(ctx, "254700000001")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *SourceSuite) TestDepletionTick() {
	ctx := context.Background()
	session, err := s.source.StartCall(ctx, "254700000001")
	s.Require().NoError(err)
	defer s.sched.Cancel(scheduler.Key{MSISDN: "254700000001", Session: session.ID})

	s.Require().Eventually(func() bool {
		current, err := s.balances.Current(ctx, "254700000001")
		return err == nil && current.Value < policy.InitialCallBalance
	}, time.Second, time.Millisecond, "depletion tick should lower the balance")

	current, err := s.balances.Current(ctx, "254700000001")
	s.Require().NoError(err)
	s.GreaterOrEqual(current.Value, 0.0)
}

func (s *SourceSuite) TestEndCall() {
	ctx := context.Background()

	s.Run("unknown session", func() {
		_, err := s.source.EndCall(ctx, id.NewSessionID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("stops ticks synchronously", func() {
		session, err := s.source.StartCall(ctx, "254700000001")
		s.Require().NoError(err)

		ended, err := s.source.EndCall(ctx, session.ID)
		s.Require().NoError(err)
		s.False(ended.Active())

		history, err := s.balances.History(ctx, "254700000001")
		s.Require().NoError(err)
		before := len(history)

		time.Sleep(20 * policy.DepletionTickInterval)

		history, err = s.balances.History(ctx, "254700000001")
		s.Require().NoError(err)
		s.Equal(before, len(history), "no sample may land after EndCall returns")

		kinds := s.captured.mnoEvents()
		s.Equal(domain.MNOCallEnd, kinds[len(kinds)-1])
	})

	s.Run("ending twice is an invalid state", func() {
		session, err := s.source.StartCall(ctx, "254700000001")
		s.Require().NoError(err)
		_, err = s.source.EndCall(ctx, session.ID)
		s.Require().NoError(err)

		_, err = s.source.EndCall(ctx, session.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

// Credits racing against depletion ticks must all survive: every balance
// sample is exactly one step from its predecessor, so a stale tick write
// can never erase a top-up.
func (s *SourceSuite) TestConcurrentTopUpsDuringCall() {
	ctx := context.Background()
	session, err := s.source.StartCall(ctx, "254700000001")
	s.Require().NoError(err)

	const goroutines = 8
	const perGoroutine = 25
	const amount = 1.0

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, err := s.source.SimulateTopUp(ctx, "254700000001", amount, "ussd")
				s.NoError(err)
			}
		}()
	}
	wg.Wait()
	_, err = s.source.EndCall(ctx, session.ID)
	s.Require().NoError(err)

	history, err := s.balances.History(ctx, "254700000001")
	s.Require().NoError(err)
	s.Require().NotEmpty(history)
	s.Equal(policy.InitialCallBalance, history[0].Value)

	credits := 0
	expected := history[0].Value
	for i, sample := range history[1:] {
		if sample.SessionID == "" {
			credits++
			expected += amount
		} else {
			expected -= policy.DepletionTickDecrement
			if expected < 0 {
				expected = 0
			}
		}
		s.Require().InDelta(expected, sample.Value, 1e-9, "lost update at sample %d", i+1)
	}
	s.Equal(goroutines*perGoroutine, credits)

	profile, err := s.profiles.FindByMSISDN(ctx, "254700000001")
	s.Require().NoError(err)
	s.Equal(4+goroutines*perGoroutine, profile.TopUpFrequency30d)
}

func (s *SourceSuite) TestSimulateTopUp() {
	ctx := context.Background()

	s.Run("rejects non-positive amounts", func() {
		_, err := s.source.SimulateTopUp(ctx, "254700000001", 0, "ussd")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("updates profile statistics and credits the balance", func() {
		s.Require().NoError(s.balances.Append(ctx, domain.BalanceSample{
			MSISDN: "254700000001", Value: 0.3, Timestamp: time.Now(),
		}))

		topup, err := s.source.SimulateTopUp(ctx, "254700000001", 10, "agent")
		s.Require().NoError(err)
		s.Equal(10.0, topup.Amount)

		profile, err := s.profiles.FindByMSISDN(ctx, "254700000001")
		s.Require().NoError(err)
		s.Equal(5, profile.TopUpFrequency30d)
		s.InDelta(18.0, profile.AvgTopUpAmount, 1e-9) // (20*4 + 10) / 5
		s.Require().NotNil(profile.LastTopUpAt)

		current, err := s.balances.Current(ctx, "254700000001")
		s.Require().NoError(err)
		s.InDelta(10.3, current.Value, 1e-9)
		s.Empty(current.SessionID, "top-up credit is not tied to a call")

		kinds := s.captured.mnoEvents()
		s.Equal(domain.MNOTopUp, kinds[len(kinds)-1])
	})
}
