package domain

import (
	"time"

	id "kopa/pkg/domain"
)

// LoanStatus tracks settlement: pending → disbursed → repaid. Overdue is
// reserved for ageing policies layered on top.
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanDisbursed LoanStatus = "disbursed"
	LoanRepaid    LoanStatus = "repaid"
	LoanOverdue   LoanStatus = "overdue"
)

// Outstanding reports whether the loan still blocks a new advance.
func (s LoanStatus) Outstanding() bool {
	return s == LoanPending || s == LoanDisbursed
}

// Loan is a disbursed micro-advance, 1:1 with its accepted offer.
type Loan struct {
	ID          id.LoanID
	OfferID     id.OfferID
	MSISDN      id.MSISDN
	Amount      float64
	Status      LoanStatus
	CreatedAt   time.Time
	DisbursedAt *time.Time
	RepaidAt    *time.Time
}
