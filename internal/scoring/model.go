// Package scoring implements the deterministic risk model. It is an
// explainable rule table standing in for a trained model: identical feature
// vectors always produce identical decisions, contribution ordering included.
package scoring

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"kopa/internal/domain"
	"kopa/internal/policy"
	"kopa/internal/storage"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

const (
	ModelName    = "kopa-rules"
	ModelVersion = "1.0"
)

// rule maps one feature reading to a signed contribution. Negative values
// flag risk signals.
type rule struct {
	feature string
	apply   func(fv domain.FeatureVector) (float64, bool)
}

// rules is the fixed, ordered table every score evaluates.
var rules = []rule{
	{"tenure", func(fv domain.FeatureVector) (float64, bool) {
		switch {
		case fv.TenureDays >= 365:
			return 0.10, true
		case fv.TenureDays >= 180:
			return 0.07, true
		case fv.TenureDays >= 90:
			return 0.04, true
		case fv.TenureDays < 30:
			return -0.08, true
		}
		return 0, false
	}},
	{"repayment_rate", func(fv domain.FeatureVector) (float64, bool) {
		switch {
		case fv.RepaymentRate >= 0.95:
			return 0.12, true
		case fv.RepaymentRate >= 0.80:
			return 0.06, true
		case fv.RepaymentRate < 0.50:
			return -0.15, true
		}
		return 0, false
	}},
	{"topup_frequency", func(fv domain.FeatureVector) (float64, bool) {
		switch {
		case fv.TopUpFrequency30d >= 4:
			return 0.08, true
		case fv.TopUpFrequency30d >= 2:
			return 0.04, true
		case fv.TopUpFrequency30d == 0:
			return -0.05, true
		}
		return 0, false
	}},
	{"topup_amount", func(fv domain.FeatureVector) (float64, bool) {
		switch {
		case fv.AvgTopUpAmount >= 20:
			return 0.06, true
		case fv.AvgTopUpAmount >= 10:
			return 0.03, true
		}
		return 0, false
	}},
	{"stale_topups", func(fv domain.FeatureVector) (float64, bool) {
		if fv.DaysSinceLastTopUp > 21 {
			return -0.06, true
		}
		return 0, false
	}},
	{"call_drops", func(fv domain.FeatureVector) (float64, bool) {
		if fv.RecentCallDrops >= 3 {
			return -0.05, true
		}
		return 0, false
	}},
	{"network", func(fv domain.FeatureVector) (float64, bool) {
		if fv.NetworkType == "4g" || fv.NetworkType == "5g" {
			return 0.02, true
		}
		return 0, false
	}},
	{"device", func(fv domain.FeatureVector) (float64, bool) {
		if fv.DeviceTier == "smartphone" {
			return 0.02, true
		}
		return 0, false
	}},
	{"offer_fatigue", func(fv domain.FeatureVector) (float64, bool) {
		if fv.RecentOffers30d >= 3 {
			return -0.04, true
		}
		return 0, false
	}},
}

// Model scores feature vectors and persists decisions for explainability
// queries.
type Model struct {
	decisions storage.DecisionStore
}

func New(decisions storage.DecisionStore) (*Model, error) {
	if decisions == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "decision store is required")
	}
	return &Model{decisions: decisions}, nil
}

// Score evaluates the rule table and stores the resulting decision.
func (m *Model) Score(ctx context.Context, fv domain.FeatureVector) (domain.ModelDecision, error) {
	decision := Evaluate(fv)
	decision.ID = id.NewDecisionID()
	decision.CreatedAt = time.Now()
	if err := m.decisions.Save(ctx, decision); err != nil {
		return domain.ModelDecision{}, dErrors.Wrap(err, dErrors.CodeInternal, "save decision")
	}
	return decision, nil
}

// Evaluate is the pure scoring function. No I/O, no clock, no randomness:
// the per-subscriber offset is derived from the MSISDN so repeated calls on
// identical input are byte-identical.
func Evaluate(fv domain.FeatureVector) domain.ModelDecision {
	contributions := make([]domain.FeatureContribution, 0, len(rules))
	var sum float64
	for _, r := range rules {
		c, ok := r.apply(fv)
		if !ok {
			continue
		}
		sum += c
		contributions = append(contributions, domain.FeatureContribution{
			Feature:      r.feature,
			Contribution: c,
			Importance:   math.Abs(c),
		})
	}

	// Stable sort keeps the rule-table order for equal magnitudes, so the
	// explainability ranking is itself deterministic.
	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].Importance > contributions[j].Importance
	})

	pRepay := clamp(0.5+sum+subscriberOffset(fv.MSISDN), 0, 1)

	confidence := 0.5
	if fv.TenureDays > 90 {
		confidence += 0.10
	}
	if fv.LoansTaken > 0 {
		confidence += 0.15
	}
	if fv.TopUpFrequency30d >= 2 {
		confidence += 0.10
	}
	if fv.AvgTopUpAmount >= 10 {
		confidence += 0.10
	}
	confidence = clamp(confidence, 0.5, 0.95)

	raw := fv.AvgTopUpAmount * pRepay * confidence
	recommended := policy.BucketDown(raw)
	if recommended == 0 {
		// Collapse to the floor; the eligibility gate decides whether the
		// floor survives its policy caps.
		recommended = policy.AmountBuckets[0]
	}

	return domain.ModelDecision{
		ModelName:        ModelName,
		ModelVersion:     ModelVersion,
		Features:         fv,
		PRepay:           pRepay,
		Confidence:       confidence,
		RecommendedLimit: recommended,
		Contributions:    contributions,
	}
}

// subscriberOffset is a small reproducible perturbation derived from the
// subscriber identity. Intentionally not cryptographic and not random: it
// spreads otherwise-identical profiles without breaking determinism.
func subscriberOffset(msisdn id.MSISDN) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(msisdn))
	// Map the hash onto [-0.05, 0.05).
	return (float64(h.Sum64()%1000)/1000.0 - 0.5) * 0.1
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
