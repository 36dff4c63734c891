// Package policy centralizes the lending-policy and simulation constants the
// pipeline gates on. Vars rather than consts so demos and tests can tighten
// or relax windows.
package policy

import "time"

// Trigger gating.
var (
	// LowBalanceThreshold is the in-call balance at or below which the
	// trigger gate may fire.
	LowBalanceThreshold = 0.5

	// DebounceWindow is the minimum spacing between consecutive trigger
	// firings for one subscriber. It damps closely spaced depletion ticks.
	DebounceWindow = 30 * time.Second

	// OfferCooldownWindow blocks re-triggering while a recent offer is still
	// active, independent of call boundaries.
	OfferCooldownWindow = 10 * time.Minute
)

// Eligibility.
var (
	MinTenureDays     = 90
	MinPRepay         = 0.55
	MinConfidence     = 0.55
	DisbursalCooldown = 24 * time.Hour
)

// AmountBuckets is the fixed ascending set of allowed advance amounts. All
// approved amounts snap down to a bucket.
var AmountBuckets = []float64{1, 5, 10}

// Offer terms.
var (
	OfferTTL         = 15 * time.Minute
	SMSDeliveryDelay = 2 * time.Second
)

// Benefit translation rates: one currency unit of advance buys this much.
var (
	VoiceMinutesPerUnit = 4.0
	DataDaysPerUnit     = 0.4
)

// Simulation defaults for the usage-signal source.
var (
	DepletionTickInterval  = 2 * time.Second
	DepletionTickDecrement = 0.15
	InitialCallBalance     = 1.5
)

// RecentWindow is the trailing lookback for top-up frequency and offer
// counts in the feature aggregator.
var RecentWindow = 30 * 24 * time.Hour

// BucketDown snaps v to the largest bucket less than or equal to it.
// Returns 0 when v is below the smallest bucket.
func BucketDown(v float64) float64 {
	var out float64
	for _, b := range AmountBuckets {
		if v >= b {
			out = b
		}
	}
	return out
}
