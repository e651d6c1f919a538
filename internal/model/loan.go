package model

import "time"

// LoanStatus represents the lifecycle state of a loan.
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanApproved  LoanStatus = "approved"
	LoanActive    LoanStatus = "active"
	LoanCompleted LoanStatus = "completed"
	LoanRejected  LoanStatus = "rejected"
	LoanDefaulted LoanStatus = "defaulted"
)

// String returns the string representation of the status.
func (s LoanStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s LoanStatus) IsValid() bool {
	switch s {
	case LoanPending, LoanApproved, LoanActive, LoanCompleted, LoanRejected, LoanDefaulted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave this status.
func (s LoanStatus) IsTerminal() bool {
	switch s {
	case LoanCompleted, LoanRejected, LoanDefaulted:
		return true
	}
	return false
}

// AllLoanStatuses lists every status in lifecycle order.
var AllLoanStatuses = []LoanStatus{
	LoanPending, LoanApproved, LoanActive, LoanCompleted, LoanRejected, LoanDefaulted,
}

// TokenRef points at the collateral token minted for a funded loan.
type TokenRef struct {
	NFTID  string `json:"nft_id"`
	TxHash string `json:"tx_hash"`
}

// Loan is the authoritative loan record.
type Loan struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Amount       float64    `json:"amount"`
	InterestRate float64    `json:"interest_rate"` // percent over the full term
	TermMonths   int        `json:"term_months"`
	Purpose      string     `json:"purpose,omitempty"`
	Collateral   string     `json:"collateral,omitempty"`
	Status       LoanStatus `json:"status"`

	RejectionReason string    `json:"rejection_reason,omitempty"`
	ApprovedBy      string    `json:"approved_by,omitempty"`
	Token           *TokenRef `json:"token,omitempty"`

	TotalRepaid       float64 `json:"total_repaid"`
	RemainingBalance  float64 `json:"remaining_balance"`
	TokenizationError string  `json:"tokenization_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalDue is the full repayment obligation: principal plus simple interest.
func (l *Loan) TotalDue() float64 {
	return l.Amount * (1 + l.InterestRate/100)
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	c := *l
	if l.Token != nil {
		t := *l.Token
		c.Token = &t
	}
	return &c
}

// LoanFilter narrows ListLoans results.
type LoanFilter struct {
	UserID string
	Status []LoanStatus
	Limit  int
}
