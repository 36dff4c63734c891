package domain

import (
	"time"

	id "kopa/pkg/domain"
)

// JourneyEventType is the canonical per-customer timeline vocabulary.
type JourneyEventType string

const (
	JourneyCallStart          JourneyEventType = "call_start"
	JourneyCallEnd            JourneyEventType = "call_end"
	JourneyBalanceLow         JourneyEventType = "balance_low"
	JourneyOfferCreated       JourneyEventType = "offer_created"
	JourneySMSSent            JourneyEventType = "sms_sent"
	JourneyLinkOpened         JourneyEventType = "link_opened"
	JourneyOfferAccepted      JourneyEventType = "offer_accepted"
	JourneyOfferDeclined      JourneyEventType = "offer_declined"
	JourneyLoanDisbursed      JourneyEventType = "loan_disbursed"
	JourneyTopUp              JourneyEventType = "topup"
	JourneyRepaymentCompleted JourneyEventType = "repayment_completed"
)

// JourneyEvent is one step in a subscriber's timeline, projected from the
// broadcast stream in arrival order.
type JourneyEvent struct {
	ID        string
	MSISDN    id.MSISDN
	Type      JourneyEventType
	Label     string
	Timestamp time.Time
	Metadata  map[string]any
}
