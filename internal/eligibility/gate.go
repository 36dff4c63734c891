// Package eligibility runs the policy gate between a low-balance trigger and
// an offer. Checks run in a fixed order and short-circuit at the first
// failure; failures are expected outcomes carrying a tagged reason, not
// errors.
package eligibility

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kopa/internal/domain"
	"kopa/internal/features"
	"kopa/internal/policy"
	"kopa/internal/scoring"
	"kopa/internal/storage"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

// RejectionReason is the closed set of gate failures.
type RejectionReason string

const (
	ReasonUnknownSubscriber     RejectionReason = "unknown_subscriber"
	ReasonOptedOut              RejectionReason = "opted_out"
	ReasonTenureBelowMinimum    RejectionReason = "tenure_below_minimum"
	ReasonActiveLoanCooldown    RejectionReason = "active_loan_cooldown"
	ReasonFeaturesUnavailable   RejectionReason = "features_unavailable"
	ReasonRepaymentProbTooLow   RejectionReason = "repayment_probability_too_low"
	ReasonConfidenceTooLow      RejectionReason = "confidence_too_low"
	ReasonPolicyConstraintsFail RejectionReason = "policy_constraints_not_met"
)

// Result is the gate outcome. Either Approved is true and the offer terms are
// populated, or Rejection names the failing check.
type Result struct {
	Approved  bool
	Amount    float64
	Reasons   []string
	Benefit   domain.BenefitEstimate
	Decision  domain.ModelDecision
	Rejection RejectionReason
}

type Gate struct {
	profiles   storage.ProfileStore
	loans      storage.LoanStore
	aggregator *features.Aggregator
	model      *scoring.Model
	logger     *slog.Logger
}

func New(profiles storage.ProfileStore, loans storage.LoanStore, aggregator *features.Aggregator, model *scoring.Model, logger *slog.Logger) (*Gate, error) {
	if profiles == nil || loans == nil || aggregator == nil || model == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "profiles, loans, aggregator, and model are required")
	}
	return &Gate{profiles: profiles, loans: loans, aggregator: aggregator, model: model, logger: logger}, nil
}

func reject(reason RejectionReason) Result {
	return Result{Rejection: reason}
}

// Evaluate runs the full gate for msisdn as of the given instant. An error is
// only returned for internal failures; policy rejections come back in the
// Result.
func (g *Gate) Evaluate(ctx context.Context, msisdn id.MSISDN, asOf time.Time) (Result, error) {
	profile, err := g.profiles.FindByMSISDN(ctx, msisdn)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return reject(ReasonUnknownSubscriber), nil
		}
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "load profile")
	}

	if profile.OptOut {
		return reject(ReasonOptedOut), nil
	}

	if profile.TenureDays(asOf) < policy.MinTenureDays {
		return reject(ReasonTenureBelowMinimum), nil
	}

	if blocked, err := g.loanCooldownActive(ctx, msisdn, asOf); err != nil {
		return Result{}, err
	} else if blocked {
		return reject(ReasonActiveLoanCooldown), nil
	}

	fv, err := g.aggregator.Vector(ctx, msisdn, asOf)
	if err != nil {
		g.log(ctx, "feature aggregation failed", msisdn, err)
		return reject(ReasonFeaturesUnavailable), nil
	}

	decision, err := g.model.Score(ctx, fv)
	if err != nil {
		return Result{}, err
	}

	if decision.PRepay < policy.MinPRepay {
		return reject(ReasonRepaymentProbTooLow), nil
	}
	if decision.Confidence < policy.MinConfidence {
		return reject(ReasonConfidenceTooLow), nil
	}

	amount, ok := constrain(decision.RecommendedLimit, fv.AvgTopUpAmount)
	if !ok {
		return reject(ReasonPolicyConstraintsFail), nil
	}

	return Result{
		Approved: true,
		Amount:   amount,
		Reasons:  scoring.Reasons(decision),
		Benefit: domain.BenefitEstimate{
			VoiceMinutes: amount * policy.VoiceMinutesPerUnit,
			DataDays:     amount * policy.DataDaysPerUnit,
		},
		Decision: decision,
	}, nil
}

// loanCooldownActive reports whether a pending loan, or a disbursed loan
// younger than the disbursal cooldown, blocks a new offer.
func (g *Gate) loanCooldownActive(ctx context.Context, msisdn id.MSISDN, asOf time.Time) (bool, error) {
	loan, err := g.loans.OutstandingByMSISDN(ctx, msisdn)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load loans")
	}
	if loan.Status == domain.LoanPending {
		return true, nil
	}
	if loan.DisbursedAt != nil && asOf.Sub(*loan.DisbursedAt) < policy.DisbursalCooldown {
		return true, nil
	}
	// A disbursed loan blocks regardless of age until repaid; the cooldown
	// only extends the block past repayment-by-top-up timing races.
	return loan.Status == domain.LoanDisbursed, nil
}

// constrain applies the policy caps to the model's recommended limit: half
// the average top-up, then the average top-up itself, then bucket down.
func constrain(recommended, avgTopUp float64) (float64, bool) {
	capped := recommended
	if half := avgTopUp * 0.5; capped > half {
		capped = half
	}
	if capped > avgTopUp {
		capped = avgTopUp
	}
	amount := policy.BucketDown(capped)
	if amount == 0 {
		return 0, false
	}
	return amount, true
}

func (g *Gate) log(ctx context.Context, msg string, msisdn id.MSISDN, err error) {
	if g.logger == nil {
		return
	}
	g.logger.WarnContext(ctx, msg, "msisdn", msisdn, "error", err)
}
