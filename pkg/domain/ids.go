// Package domain holds shared identifier types. Typed IDs keep subscriber,
// session, offer, and loan handles from being mixed up at call sites.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "kopa/pkg/domain-errors"
)

// MSISDN is the subscriber phone-number identifier, the primary key for all
// subscriber-scoped state.
type MSISDN string

// ParseMSISDN constructs an MSISDN from external input. Only shape is
// validated here; existence checks belong to the eligibility gate.
func ParseMSISDN(s string) (MSISDN, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "msisdn cannot be empty")
	}
	return MSISDN(s), nil
}

func (m MSISDN) String() string { return string(m) }

// SessionID identifies a call session.
type SessionID string

func (s SessionID) String() string { return string(s) }

// OfferID identifies a micro-advance offer.
type OfferID string

func (o OfferID) String() string { return string(o) }

// LoanID identifies a disbursed advance.
type LoanID string

func (l LoanID) String() string { return string(l) }

// DecisionID identifies a model decision.
type DecisionID string

func (d DecisionID) String() string { return string(d) }

// NewSessionID mints a session identifier.
func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// NewOfferID mints an offer identifier.
func NewOfferID() OfferID { return OfferID(uuid.NewString()) }

// NewLoanID mints a loan identifier.
func NewLoanID() LoanID { return LoanID(uuid.NewString()) }

// NewDecisionID mints a decision identifier.
func NewDecisionID() DecisionID { return DecisionID(uuid.NewString()) }
