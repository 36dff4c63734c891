package domain

import (
	"time"

	id "kopa/pkg/domain"
)

// UserProfile captures the subscriber attributes the pipeline scores on.
// Updated by the usage-signal source (top-up counters) and by seeding; never
// deleted.
type UserProfile struct {
	MSISDN            id.MSISDN
	ActivatedAt       time.Time
	AvgTopUpAmount    float64
	TopUpFrequency30d int
	LastTopUpAt       *time.Time
	OptOut            bool
	LoansTaken        int
	LoansRepaid       int
	OnTimeRepayRate   float64
	NetworkType       string // e.g. "4g", "3g"
	DeviceTier        string // e.g. "smartphone", "feature"
	RecentCallDrops   int
}

// TenureDays derives subscriber tenure as of the given instant.
func (p UserProfile) TenureDays(asOf time.Time) int {
	if p.ActivatedAt.IsZero() || asOf.Before(p.ActivatedAt) {
		return 0
	}
	return int(asOf.Sub(p.ActivatedAt).Hours() / 24)
}

// DaysSinceLastTopUp returns the gap to the most recent top-up, or -1 when
// the subscriber has never topped up.
func (p UserProfile) DaysSinceLastTopUp(asOf time.Time) int {
	if p.LastTopUpAt == nil {
		return -1
	}
	return int(asOf.Sub(*p.LastTopUpAt).Hours() / 24)
}
