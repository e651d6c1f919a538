package store

import (
	"context"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// Store defines the persistence interface for loans, KYC records and the
// user directory. Missing rows are reported as model.ErrNotFound; a
// compare-and-swap that observes a different status than expected is
// reported as model.ErrConflict.
type Store interface {
	// Loans
	CreateLoan(ctx context.Context, loan *model.Loan) error
	GetLoan(ctx context.Context, id string) (*model.Loan, error)
	ListLoans(ctx context.Context, filter model.LoanFilter) ([]*model.Loan, error)
	// UpdateLoan writes loan only if the stored status still equals expected.
	UpdateLoan(ctx context.Context, loan *model.Loan, expected model.LoanStatus) error

	// KYC
	CreateKYC(ctx context.Context, rec *model.KYCRecord) error
	GetKYC(ctx context.Context, userID string) (*model.KYCRecord, error)
	UpdateKYC(ctx context.Context, rec *model.KYCRecord, expected model.KYCStatus) error

	// Users
	PutUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)

	// Lifecycle
	Close() error
}
