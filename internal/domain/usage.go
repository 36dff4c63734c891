package domain

import (
	"time"

	id "kopa/pkg/domain"
)

// BalanceSample is one point in a subscriber's append-only balance history.
// The most recent sample is the current balance.
type BalanceSample struct {
	MSISDN          id.MSISDN
	Value           float64
	SessionID       id.SessionID // empty when the sample is not tied to a call
	Timestamp       time.Time
	ConsumptionRate float64 // units per tick while in-call, 0 otherwise
}

// CallSession models a voice session driven by the usage-signal source.
type CallSession struct {
	ID        id.SessionID
	MSISDN    id.MSISDN
	StartedAt time.Time
	EndedAt   *time.Time
}

// Active reports whether the session is still running.
func (s CallSession) Active() bool {
	return s.EndedAt == nil
}

// TopUpEvent records an airtime purchase.
type TopUpEvent struct {
	MSISDN    id.MSISDN
	Amount    float64
	Channel   string // e.g. "ussd", "agent", "app"
	Timestamp time.Time
}
