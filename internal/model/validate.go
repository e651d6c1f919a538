package model

import (
	"fmt"
	"strings"
)

// ValidateLoan checks a newly submitted Loan for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the loan is valid.
func ValidateLoan(l *Loan) error {
	var ve ValidationError

	if strings.TrimSpace(l.UserID) == "" {
		ve.Add("user_id", "is required")
	}

	if l.Amount <= 0 {
		ve.Add("amount", fmt.Sprintf("must be positive, got %v", l.Amount))
	}

	if l.InterestRate < 0 || l.InterestRate > 100 {
		ve.Add("interest_rate", fmt.Sprintf("must be between 0 and 100, got %v", l.InterestRate))
	}

	if l.TermMonths <= 0 {
		ve.Add("term_months", fmt.Sprintf("must be positive, got %d", l.TermMonths))
	}

	if len([]rune(l.Purpose)) > 500 {
		ve.Add("purpose", "must be 500 characters or fewer")
	}

	if !l.Status.IsValid() {
		ve.Add("status", fmt.Sprintf("invalid value %q", l.Status))
	}

	// Field presence must agree with status.
	if l.Status == LoanRejected && strings.TrimSpace(l.RejectionReason) == "" {
		ve.Add("rejection_reason", "is required when status is rejected")
	}
	if l.Status != LoanRejected && l.RejectionReason != "" {
		ve.Add("rejection_reason", "must be empty when status is not rejected")
	}
	if l.Status == LoanPending && l.ApprovedBy != "" {
		ve.Add("approved_by", "must be empty while pending")
	}
	if l.Token != nil && (l.Status == LoanPending || l.Status == LoanApproved || l.Status == LoanRejected) {
		ve.Add("token", "must be empty until funded")
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
