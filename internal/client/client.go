// Package client is the consumer side of lendbus: a reconnecting
// WebSocket connection Manager for live events and an HTTP client for the
// action API.
package client

import (
	"context"

	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/registry"
)

// LoansClient is the action API used by the lendbus loan and kyc commands.
// It is implemented by HTTPClient.
type LoansClient interface {
	// Loans
	SubmitLoan(ctx context.Context, req *SubmitLoanRequest) (*model.Loan, error)
	GetLoan(ctx context.Context, id string) (*model.Loan, error)
	ListLoans(ctx context.Context, req *ListLoansRequest) ([]*model.Loan, error)
	TransitionLoan(ctx context.Context, id string, status model.LoanStatus, rejectionReason string) (*model.Loan, error)
	Repay(ctx context.Context, id string, amount float64) (*model.Loan, error)
	RetryTokenization(ctx context.Context, id string) (*model.Loan, error)

	// KYC
	SubmitKYC(ctx context.Context) (*model.KYCRecord, error)
	GetKYC(ctx context.Context, userID string) (*model.KYCRecord, error)
	ReviewKYC(ctx context.Context, userID string, status model.KYCStatus, rejectionReason string) (*model.KYCRecord, error)

	// Operations
	Connections(ctx context.Context) ([]registry.Entry, error)
	Health(ctx context.Context) (string, error)

	Close() error
}

// SubmitLoanRequest holds parameters for submitting a loan.
type SubmitLoanRequest struct {
	Amount       float64 `json:"amount"`
	InterestRate float64 `json:"interest_rate"`
	TermMonths   int     `json:"term_months"`
	Purpose      string  `json:"purpose,omitempty"`
	Collateral   string  `json:"collateral,omitempty"`
}

// ListLoansRequest holds parameters for listing loans.
type ListLoansRequest struct {
	UserID string
	Status []string
	Limit  int
}
