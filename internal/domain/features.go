package domain

import (
	"time"

	id "kopa/pkg/domain"
)

// FeatureVector is a point-in-time projection of a subscriber's state used
// for scoring. Immutable once produced; consumed once by the scoring model.
type FeatureVector struct {
	MSISDN             id.MSISDN
	AsOf               time.Time
	TenureDays         int
	TopUpFrequency30d  int
	AvgTopUpAmount     float64
	DaysSinceLastTopUp int // -1 when the subscriber has never topped up
	LoansTaken         int
	LoansRepaid        int
	RepaymentRate      float64 // repaid/total, 1.0 when no history
	RecentOffers30d    int     // low-balance-event proxy
	NetworkType        string
	DeviceTier         string
	RecentCallDrops    int
}
