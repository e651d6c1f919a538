package postgres

import (
	"database/sql"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanLoan scans a single row into a model.Loan.
// The row must contain columns in the order defined by loanColumns.
func scanLoan(row scannable) (*model.Loan, error) {
	var l model.Loan
	var (
		rejectionReason   sql.NullString
		approvedBy        sql.NullString
		nftID             sql.NullString
		txHash            sql.NullString
		tokenizationError sql.NullString
	)

	err := row.Scan(
		&l.ID,
		&l.UserID,
		&l.Amount,
		&l.InterestRate,
		&l.TermMonths,
		&l.Purpose,
		&l.Collateral,
		&l.Status,
		&rejectionReason,
		&approvedBy,
		&nftID,
		&txHash,
		&l.TotalRepaid,
		&l.RemainingBalance,
		&tokenizationError,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.RejectionReason = rejectionReason.String
	l.ApprovedBy = approvedBy.String
	l.TokenizationError = tokenizationError.String
	if nftID.Valid || txHash.Valid {
		l.Token = &model.TokenRef{NFTID: nftID.String, TxHash: txHash.String}
	}

	return &l, nil
}

func scanLoans(rows *sql.Rows) ([]*model.Loan, error) {
	defer rows.Close()
	var loans []*model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// scanKYC scans a row in kycColumns order.
func scanKYC(row scannable) (*model.KYCRecord, error) {
	var r model.KYCRecord
	var (
		rejectionReason sql.NullString
		reviewedBy      sql.NullString
		reviewedAt      sql.NullTime
	)
	err := row.Scan(
		&r.UserID,
		&r.Status,
		&rejectionReason,
		&reviewedBy,
		&r.SubmittedAt,
		&reviewedAt,
	)
	if err != nil {
		return nil, err
	}
	r.RejectionReason = rejectionReason.String
	r.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		r.ReviewedAt = &t
	}
	return &r, nil
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
