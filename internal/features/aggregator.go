// Package features projects a subscriber's stored state into the scoring
// feature vector. The projection is pure: it reads through the stores and
// mutates nothing, so it can be called repeatedly.
package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kopa/internal/domain"
	"kopa/internal/policy"
	"kopa/internal/storage"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

type Aggregator struct {
	profiles storage.ProfileStore
	topups   storage.TopUpStore
	loans    storage.LoanStore
	offers   storage.OfferStore
}

func New(profiles storage.ProfileStore, topups storage.TopUpStore, loans storage.LoanStore, offers storage.OfferStore) (*Aggregator, error) {
	if profiles == nil || topups == nil || loans == nil || offers == nil {
		return nil, fmt.Errorf("all stores are required")
	}
	return &Aggregator{profiles: profiles, topups: topups, loans: loans, offers: offers}, nil
}

// Vector builds the feature snapshot for msisdn as of the given instant.
func (a *Aggregator) Vector(ctx context.Context, msisdn id.MSISDN, asOf time.Time) (domain.FeatureVector, error) {
	profile, err := a.profiles.FindByMSISDN(ctx, msisdn)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.FeatureVector{}, dErrors.Wrap(err, dErrors.CodeNotFound, "unknown subscriber")
		}
		return domain.FeatureVector{}, dErrors.Wrap(err, dErrors.CodeInternal, "load profile")
	}

	topups, err := a.topups.ListByMSISDN(ctx, msisdn)
	if err != nil {
		return domain.FeatureVector{}, dErrors.Wrap(err, dErrors.CodeInternal, "load topups")
	}
	loans, err := a.loans.ListByMSISDN(ctx, msisdn)
	if err != nil {
		return domain.FeatureVector{}, dErrors.Wrap(err, dErrors.CodeInternal, "load loans")
	}
	offers, err := a.offers.ListByMSISDN(ctx, msisdn)
	if err != nil {
		return domain.FeatureVector{}, dErrors.Wrap(err, dErrors.CodeInternal, "load offers")
	}

	windowStart := asOf.Add(-policy.RecentWindow)

	recentTopUps := 0
	var topUpSum float64
	var topUpCount int
	for _, t := range topups {
		if t.Timestamp.After(asOf) {
			continue
		}
		topUpSum += t.Amount
		topUpCount++
		if t.Timestamp.After(windowStart) {
			recentTopUps++
		}
	}

	// Prefer observed history; fall back to seeded profile stats when the
	// store has no events yet.
	avgTopUp := profile.AvgTopUpAmount
	if topUpCount > 0 {
		avgTopUp = topUpSum / float64(topUpCount)
	}
	frequency := profile.TopUpFrequency30d
	if recentTopUps > frequency {
		frequency = recentTopUps
	}

	taken, repaid := profile.LoansTaken, profile.LoansRepaid
	for _, l := range loans {
		if l.CreatedAt.After(asOf) {
			continue
		}
		taken++
		if l.Status == domain.LoanRepaid {
			repaid++
		}
	}
	// With no loan history the seeded on-time rate stands in; a profile
	// seeded without one scores as a clean slate.
	repaymentRate := profile.OnTimeRepayRate
	if taken > 0 {
		repaymentRate = float64(repaid) / float64(taken)
	} else if repaymentRate == 0 {
		repaymentRate = 1.0
	}

	recentOffers := 0
	for _, o := range offers {
		if !o.CreatedAt.After(asOf) && o.CreatedAt.After(windowStart) {
			recentOffers++
		}
	}

	return domain.FeatureVector{
		MSISDN:             msisdn,
		AsOf:               asOf,
		TenureDays:         profile.TenureDays(asOf),
		TopUpFrequency30d:  frequency,
		AvgTopUpAmount:     avgTopUp,
		DaysSinceLastTopUp: profile.DaysSinceLastTopUp(asOf),
		LoansTaken:         taken,
		LoansRepaid:        repaid,
		RepaymentRate:      repaymentRate,
		RecentOffers30d:    recentOffers,
		NetworkType:        profile.NetworkType,
		DeviceTier:         profile.DeviceTier,
		RecentCallDrops:    profile.RecentCallDrops,
	}, nil
}
