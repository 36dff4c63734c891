package domain

import id "kopa/pkg/domain"

// EventType is the closed set of broadcast envelope types. The transport
// layer relays envelopes verbatim; only this vocabulary crosses the boundary.
type EventType string

const (
	EventMNO                EventType = "mno_event"
	EventLowBalanceTrigger  EventType = "low_balance_trigger"
	EventOfferCreated       EventType = "offer_created"
	EventOfferNotCreated    EventType = "offer_not_created"
	EventSMSSent            EventType = "sms_sent"
	EventLinkOpened         EventType = "link_opened"
	EventOfferAccepted      EventType = "offer_accepted"
	EventOfferDeclined      EventType = "offer_declined"
	EventLoanDisbursed      EventType = "loan_disbursed"
	EventTopUpProcessed     EventType = "topup_processed"
	EventRepaymentCompleted EventType = "repayment_completed"
)

// MNO sub-types carried in an EventMNO envelope's data under "event".
const (
	MNOCallStart     = "call_start"
	MNOCallEnd       = "call_end"
	MNOBalanceUpdate = "balance_update"
	MNOTopUp         = "topup"
)

// Envelope is the broadcast unit every state change is published as.
type Envelope struct {
	Type   EventType      `json:"type"`
	MSISDN id.MSISDN      `json:"msisdn"`
	Data   map[string]any `json:"data"`
}
