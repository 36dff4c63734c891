package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kopa/internal/domain"
	"kopa/internal/storage"
	id "kopa/pkg/domain"
)

func trustedVector(msisdn id.MSISDN) domain.FeatureVector {
	return domain.FeatureVector{
		MSISDN:            msisdn,
		TenureDays:        240,
		TopUpFrequency30d: 4,
		AvgTopUpAmount:    20,
		RepaymentRate:     1.0,
		LoansTaken:        2,
		LoansRepaid:       2,
		NetworkType:       "4g",
		DeviceTier:        "smartphone",
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	fv := trustedVector("254700000001")
	first := Evaluate(fv)
	second := Evaluate(fv)
	assert.Equal(t, first, second, "identical inputs must yield byte-identical decisions")
}

func TestEvaluateContributionOrdering(t *testing.T) {
	decision := Evaluate(trustedVector("254700000001"))
	require.NotEmpty(t, decision.Contributions)
	for i := 1; i < len(decision.Contributions); i++ {
		assert.GreaterOrEqual(t,
			decision.Contributions[i-1].Importance,
			decision.Contributions[i].Importance,
			"contributions must be ranked by descending importance")
	}
	for _, c := range decision.Contributions {
		assert.InDelta(t, c.Importance, abs(c.Contribution), 1e-12)
	}
}

func TestEvaluateBounds(t *testing.T) {
	vectors := []domain.FeatureVector{
		trustedVector("254700000001"),
		{MSISDN: "254700000002", TenureDays: 10, RepaymentRate: 0.2, DaysSinceLastTopUp: 60, RecentCallDrops: 5},
		{MSISDN: "254700000003", TenureDays: 400, RepaymentRate: 1.0, TopUpFrequency30d: 10, AvgTopUpAmount: 100, LoansTaken: 5},
	}
	for _, fv := range vectors {
		d := Evaluate(fv)
		assert.GreaterOrEqual(t, d.PRepay, 0.0)
		assert.LessOrEqual(t, d.PRepay, 1.0)
		assert.GreaterOrEqual(t, d.Confidence, 0.5)
		assert.LessOrEqual(t, d.Confidence, 0.95)
		assert.GreaterOrEqual(t, d.RecommendedLimit, 0.0)
	}
}

func TestEvaluateRiskSignalsAreNegative(t *testing.T) {
	decision := Evaluate(domain.FeatureVector{
		MSISDN:             "254700000004",
		TenureDays:         10,
		RepaymentRate:      0.2,
		DaysSinceLastTopUp: 60,
		RecentCallDrops:    5,
	})
	byFeature := map[string]float64{}
	for _, c := range decision.Contributions {
		byFeature[c.Feature] = c.Contribution
	}
	assert.Negative(t, byFeature["tenure"])
	assert.Negative(t, byFeature["repayment_rate"])
	assert.Negative(t, byFeature["stale_topups"])
	assert.Negative(t, byFeature["call_drops"])
}

func TestRecommendedLimitSnapsToBuckets(t *testing.T) {
	decision := Evaluate(trustedVector("254700000001"))
	assert.Contains(t, []float64{1, 5, 10}, decision.RecommendedLimit)

	// A subscriber with tiny top-ups collapses to the smallest bucket.
	small := Evaluate(domain.FeatureVector{MSISDN: "254700000005", AvgTopUpAmount: 0.5, RepaymentRate: 1.0})
	assert.Equal(t, 1.0, small.RecommendedLimit)
}

func TestSubscriberOffsetIsStablePerIdentity(t *testing.T) {
	a := subscriberOffset("254700000001")
	b := subscriberOffset("254700000001")
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, abs(a), 0.05)
}

func TestReasons(t *testing.T) {
	t.Run("top positive contributions become copy", func(t *testing.T) {
		decision := Evaluate(trustedVector("254700000001"))
		reasons := Reasons(decision)
		require.NotEmpty(t, reasons)
		assert.LessOrEqual(t, len(reasons), 5)
		assert.Contains(t, reasons, "You have a strong repayment history.")
	})

	t.Run("fallback when nothing qualifies", func(t *testing.T) {
		reasons := Reasons(domain.ModelDecision{})
		require.Len(t, reasons, 1)
		assert.Equal(t, fallbackReason, reasons[0])
	})
}

func TestModelPersistsDecisions(t *testing.T) {
	store := storage.NewInMemoryDecisionStore()
	model, err := New(store)
	require.NoError(t, err)

	decision, err := model.Score(context.Background(), trustedVector("254700000001"))
	require.NoError(t, err)
	require.NotEmpty(t, decision.ID)

	stored, err := store.FindByID(context.Background(), decision.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.PRepay, stored.PRepay)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
