package domain

import (
	"time"

	id "kopa/pkg/domain"
)

// LedgerEventType is the closed set of auditable transitions. Keep it
// transport-agnostic so stores and sinks can fan out.
type LedgerEventType string

const (
	LedgerCallStarted        LedgerEventType = "call_started"
	LedgerCallEnded          LedgerEventType = "call_ended"
	LedgerTriggerFired       LedgerEventType = "low_balance_trigger"
	LedgerOfferCreated       LedgerEventType = "offer_created"
	LedgerOfferRejected      LedgerEventType = "offer_rejected"
	LedgerSMSSent            LedgerEventType = "sms_sent"
	LedgerLinkOpened         LedgerEventType = "link_opened"
	LedgerOfferAccepted      LedgerEventType = "offer_accepted"
	LedgerOfferDeclined      LedgerEventType = "offer_declined"
	LedgerOfferExpired       LedgerEventType = "offer_expired"
	LedgerDisbursalInitiated LedgerEventType = "disbursal_initiated"
	LedgerDisbursalCompleted LedgerEventType = "disbursal_completed"
	LedgerTopUpDetected      LedgerEventType = "topup_detected"
	LedgerRepaymentInitiated LedgerEventType = "repayment_initiated"
	LedgerRepaymentDeferred  LedgerEventType = "repayment_deferred"
	LedgerRepaymentCompleted LedgerEventType = "repayment_completed"
)

// IsValid checks the type against the closed enumeration.
func (t LedgerEventType) IsValid() bool {
	switch t {
	case LedgerCallStarted, LedgerCallEnded, LedgerTriggerFired,
		LedgerOfferCreated, LedgerOfferRejected, LedgerSMSSent,
		LedgerLinkOpened, LedgerOfferAccepted, LedgerOfferDeclined,
		LedgerOfferExpired, LedgerDisbursalInitiated, LedgerDisbursalCompleted,
		LedgerTopUpDetected, LedgerRepaymentInitiated, LedgerRepaymentDeferred,
		LedgerRepaymentCompleted:
		return true
	}
	return false
}

// LedgerEvent is one immutable entry in the audit trail. The ledger is the
// system of record: entries are appended, never mutated or deleted.
type LedgerEvent struct {
	ID         string
	Type       LedgerEventType
	EntityID   string
	EntityType string // "offer", "loan", "session", "topup", "trigger"
	MSISDN     id.MSISDN
	Timestamp  time.Time
	Payload    map[string]any
}
