package eligibility

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kopa/internal/domain"
	"kopa/internal/features"
	"kopa/internal/scoring"
	"kopa/internal/storage"
	id "kopa/pkg/domain"
)

type GateSuite struct {
	suite.Suite
	profiles *storage.InMemoryProfileStore
	topups   *storage.InMemoryTopUpStore
	loans    *storage.InMemoryLoanStore
	offers   *storage.InMemoryOfferStore
	gate     *Gate
	now      time.Time
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.profiles = storage.NewInMemoryProfileStore()
	s.topups = storage.NewInMemoryTopUpStore()
	s.loans = storage.NewInMemoryLoanStore()
	s.offers = storage.NewInMemoryOfferStore()
	s.now = time.Now()

	aggregator, err := features.New(s.profiles, s.topups, s.loans, s.offers)
	s.Require().NoError(err)
	model, err := scoring.New(storage.NewInMemoryDecisionStore())
	s.Require().NoError(err)
	s.gate, err = New(s.profiles, s.loans, aggregator, model, slog.Default())
	s.Require().NoError(err)
}

// seedTrusted creates the high-trust subscriber from the acceptance
// scenario: tenure 240 days, perfect repayment, avg top-up 20, four top-ups
// in the trailing month.
func (s *GateSuite) seedTrusted(msisdn id.MSISDN) {
	ctx := context.Background()
	last := s.now.Add(-2 * 24 * time.Hour)
	s.Require().NoError(s.profiles.Save(ctx, domain.UserProfile{
		MSISDN:            msisdn,
		ActivatedAt:       s.now.AddDate(0, 0, -240),
		AvgTopUpAmount:    20,
		TopUpFrequency30d: 4,
		LastTopUpAt:       &last,
		OnTimeRepayRate:   1.0,
		NetworkType:       "4g",
		DeviceTier:        "smartphone",
	}))
}

func (s *GateSuite) evaluate(msisdn id.MSISDN) Result {
	result, err := s.gate.Evaluate(context.Background(), msisdn, s.now)
	s.Require().NoError(err)
	return result
}

func (s *GateSuite) TestHighTrustSubscriberApproved() {
	s.seedTrusted("254700000001")
	result := s.evaluate("254700000001")

	s.Require().True(result.Approved, "rejection: %s", result.Rejection)
	s.Contains([]float64{5, 10}, result.Amount, "a trusted subscriber gets more than the floor bucket")
	s.NotEmpty(result.Reasons)
	s.Equal(result.Amount*4, result.Benefit.VoiceMinutes)
	s.NotZero(result.Decision.ID, "decision must be persisted and referenced")
}

func (s *GateSuite) TestUnknownSubscriber() {
	result := s.evaluate("254700999999")
	s.False(result.Approved)
	s.Equal(ReasonUnknownSubscriber, result.Rejection)
}

func (s *GateSuite) TestOptedOut() {
	ctx := context.Background()
	s.seedTrusted("254700000002")
	profile, err := s.profiles.FindByMSISDN(ctx, "254700000002")
	s.Require().NoError(err)
	profile.OptOut = true
	s.Require().NoError(s.profiles.Save(ctx, profile))

	result := s.evaluate("254700000002")
	s.Equal(ReasonOptedOut, result.Rejection)
}

func (s *GateSuite) TestTenureBelowMinimum() {
	ctx := context.Background()
	s.Require().NoError(s.profiles.Save(ctx, domain.UserProfile{
		MSISDN:      "254700000003",
		ActivatedAt: s.now.AddDate(0, 0, -30),
	}))
	result := s.evaluate("254700000003")
	s.Equal(ReasonTenureBelowMinimum, result.Rejection)
}

func (s *GateSuite) TestActiveLoanCooldown() {
	ctx := context.Background()
	s.seedTrusted("254700000004")

	s.Run("pending loan blocks", func() {
		loan := domain.Loan{ID: id.NewLoanID(), MSISDN: "254700000004", Amount: 5, Status: domain.LoanPending}
		s.Require().NoError(s.loans.Save(ctx, loan))
		result := s.evaluate("254700000004")
		s.Equal(ReasonActiveLoanCooldown, result.Rejection)

		loan.Status = domain.LoanRepaid
		s.Require().NoError(s.loans.Save(ctx, loan))
	})

	s.Run("fresh disbursed loan blocks", func() {
		disbursed := s.now.Add(-time.Hour)
		loan := domain.Loan{
			ID: id.NewLoanID(), MSISDN: "254700000004", Amount: 5,
			Status: domain.LoanDisbursed, DisbursedAt: &disbursed,
		}
		s.Require().NoError(s.loans.Save(ctx, loan))
		result := s.evaluate("254700000004")
		s.Equal(ReasonActiveLoanCooldown, result.Rejection)
	})
}

func (s *GateSuite) TestLowRepaymentProbabilityRejected() {
	ctx := context.Background()
	s.Require().NoError(s.profiles.Save(ctx, domain.UserProfile{
		MSISDN:          "254700000005",
		ActivatedAt:     s.now.AddDate(0, 0, -120),
		AvgTopUpAmount:  20,
		OnTimeRepayRate: 0.2,
		LoansTaken:      5,
		LoansRepaid:     1,
		RecentCallDrops: 5,
	}))
	result := s.evaluate("254700000005")
	s.Equal(ReasonRepaymentProbTooLow, result.Rejection)
}

func (s *GateSuite) TestConfidenceTooLow() {
	ctx := context.Background()
	// Tenure at exactly the minimum with no loan history and sparse top-ups
	// keeps confidence at its floor.
	s.Require().NoError(s.profiles.Save(ctx, domain.UserProfile{
		MSISDN:          "254700000007",
		ActivatedAt:     s.now.Add(-90 * 24 * time.Hour),
		AvgTopUpAmount:  8,
		OnTimeRepayRate: 1.0,
	}))
	result := s.evaluate("254700000007")
	s.Equal(ReasonConfidenceTooLow, result.Rejection)
}

func (s *GateSuite) TestPolicyConstraintsNotMet() {
	ctx := context.Background()
	// Healthy history but tiny top-ups: half the average is below the
	// smallest bucket, so no amount survives the caps.
	last := s.now.Add(-24 * time.Hour)
	s.Require().NoError(s.profiles.Save(ctx, domain.UserProfile{
		MSISDN:            "254700000006",
		ActivatedAt:       s.now.AddDate(0, 0, -240),
		AvgTopUpAmount:    1.5,
		TopUpFrequency30d: 4,
		LastTopUpAt:       &last,
		OnTimeRepayRate:   1.0,
		NetworkType:       "4g",
		DeviceTier:        "smartphone",
	}))
	result := s.evaluate("254700000006")
	s.Equal(ReasonPolicyConstraintsFail, result.Rejection)
}

func (s *GateSuite) TestConstrainCapsAtHalfAverage() {
	amount, ok := constrain(10, 20)
	s.True(ok)
	s.Equal(10.0, amount, "10 <= half of 20")

	amount, ok = constrain(10, 12)
	s.True(ok)
	s.Equal(5.0, amount, "capped at 6, bucketed down to 5")

	_, ok = constrain(10, 1)
	s.False(ok, "half of 1 is below the smallest bucket")
}

func (s *GateSuite) TestBucketingMonotonicity() {
	// Improving p_repay and confidence never shrinks the approved amount
	// under identical policy caps.
	avg := 20.0
	lowAmount, _ := constrain(lowDecision(avg), avg)
	highAmount, _ := constrain(highDecision(avg), avg)
	s.GreaterOrEqual(highAmount, lowAmount)
}

func lowDecision(avg float64) float64 {
	return scoring.Evaluate(domain.FeatureVector{
		MSISDN: "254700000010", AvgTopUpAmount: avg, TenureDays: 120, RepaymentRate: 0.85,
	}).RecommendedLimit
}

func highDecision(avg float64) float64 {
	return scoring.Evaluate(domain.FeatureVector{
		MSISDN: "254700000010", AvgTopUpAmount: avg, TenureDays: 400, RepaymentRate: 1.0,
		TopUpFrequency30d: 6, LoansTaken: 3, LoansRepaid: 3, NetworkType: "4g", DeviceTier: "smartphone",
	}).RecommendedLimit
}
