package domain

import (
	"time"

	id "kopa/pkg/domain"
)

// OfferStatus tracks the consent state machine:
// created → sms_sent → link_opened → {accepted, declined, expired};
// accepted → disbursed.
type OfferStatus string

const (
	OfferCreated    OfferStatus = "created"
	OfferSMSSent    OfferStatus = "sms_sent"
	OfferLinkOpened OfferStatus = "link_opened"
	OfferAccepted   OfferStatus = "accepted"
	OfferDeclined   OfferStatus = "declined"
	OfferExpired    OfferStatus = "expired"
	OfferDisbursed  OfferStatus = "disbursed"
)

// Terminal reports whether the status permits no further consent actions.
// Accepted offers still move to disbursed, but that is a settlement
// transition, not a consent one.
func (s OfferStatus) Terminal() bool {
	switch s {
	case OfferAccepted, OfferDeclined, OfferExpired, OfferDisbursed:
		return true
	}
	return false
}

// BenefitEstimate translates an advance amount into user-facing value.
type BenefitEstimate struct {
	VoiceMinutes float64
	DataDays     float64
}

// Offer is a bucketed micro-advance awaiting consent. The consent token is
// the only external handle usable to act on the offer.
type Offer struct {
	ID           id.OfferID
	MSISDN       id.MSISDN
	SessionID    id.SessionID
	Amount       float64
	Status       OfferStatus
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ConsentToken string
	Reasons      []string
	Benefit      BenefitEstimate
	DecisionID   id.DecisionID
}

// ActiveAt reports whether the offer still gates new offer creation: it is in
// a pre-consent state and has not expired.
func (o Offer) ActiveAt(now time.Time) bool {
	switch o.Status {
	case OfferCreated, OfferSMSSent, OfferLinkOpened:
		return now.Before(o.ExpiresAt)
	}
	return false
}

// ExpiredAt reports whether the offer's consent window has closed while it
// was still awaiting a decision.
func (o Offer) ExpiredAt(now time.Time) bool {
	switch o.Status {
	case OfferCreated, OfferSMSSent, OfferLinkOpened:
		return !now.Before(o.ExpiresAt)
	}
	return false
}
