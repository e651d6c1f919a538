package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// loanColumns is the column list used for SELECT statements on the loans table.
const loanColumns = `id, user_id, amount, interest_rate, term_months, purpose, collateral,
	status, rejection_reason, approved_by, nft_id, tx_hash,
	total_repaid, remaining_balance, tokenization_error, created_at, updated_at`

const kycColumns = `user_id, status, rejection_reason, reviewed_by, submitted_at, reviewed_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateLoan(ctx context.Context, db executor, l *model.Loan) error {
	nftID, txHash := tokenColumns(l.Token)
	_, err := db.ExecContext(ctx, `
		INSERT INTO loans (
			id, user_id, amount, interest_rate, term_months, purpose, collateral,
			status, rejection_reason, approved_by, nft_id, tx_hash,
			total_repaid, remaining_balance, tokenization_error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)`,
		l.ID,
		l.UserID,
		l.Amount,
		l.InterestRate,
		l.TermMonths,
		l.Purpose,
		l.Collateral,
		string(l.Status),
		nullString(l.RejectionReason),
		nullString(l.ApprovedBy),
		nftID,
		txHash,
		l.TotalRepaid,
		l.RemainingBalance,
		nullString(l.TokenizationError),
		l.CreatedAt,
		l.UpdatedAt,
	)
	return err
}

func queryGetLoan(ctx context.Context, db executor, id string) (*model.Loan, error) {
	row := db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	return scanLoan(row)
}

func queryLoanStatus(ctx context.Context, db executor, id string) (model.LoanStatus, error) {
	var status string
	err := db.QueryRowContext(ctx, `SELECT status FROM loans WHERE id = $1`, id).Scan(&status)
	return model.LoanStatus(status), err
}

func queryListLoans(ctx context.Context, db executor, filter model.LoanFilter) ([]*model.Loan, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.UserID != "" {
		whereClauses = append(whereClauses, "user_id = "+nextArg())
		args = append(args, filter.UserID)
	}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = nextArg()
			args = append(args, string(s))
		}
		whereClauses = append(whereClauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanLoans(rows)
}

// queryUpdateLoan writes the mutable loan columns guarded by the expected
// status. sql.ErrNoRows means the guard did not match.
func queryUpdateLoan(ctx context.Context, db executor, l *model.Loan, expected model.LoanStatus) error {
	nftID, txHash := tokenColumns(l.Token)
	return db.QueryRowContext(ctx, `
		UPDATE loans SET
			status = $2,
			rejection_reason = $3,
			approved_by = $4,
			nft_id = $5,
			tx_hash = $6,
			total_repaid = $7,
			remaining_balance = $8,
			tokenization_error = $9,
			updated_at = NOW()
		WHERE id = $1 AND status = $10
		RETURNING updated_at`,
		l.ID,
		string(l.Status),
		nullString(l.RejectionReason),
		nullString(l.ApprovedBy),
		nftID,
		txHash,
		l.TotalRepaid,
		l.RemainingBalance,
		nullString(l.TokenizationError),
		string(expected),
	).Scan(&l.UpdatedAt)
}

func queryCreateKYC(ctx context.Context, db executor, r *model.KYCRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO kyc_records (`+kycColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.UserID,
		string(r.Status),
		nullString(r.RejectionReason),
		nullString(r.ReviewedBy),
		r.SubmittedAt,
		nullTimePtr(r.ReviewedAt),
	)
	return err
}

func queryGetKYC(ctx context.Context, db executor, userID string) (*model.KYCRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+kycColumns+` FROM kyc_records WHERE user_id = $1`, userID)
	return scanKYC(row)
}

func queryUpdateKYC(ctx context.Context, db executor, r *model.KYCRecord, expected model.KYCStatus) error {
	var userID string
	return db.QueryRowContext(ctx, `
		UPDATE kyc_records SET
			status = $2,
			rejection_reason = $3,
			reviewed_by = $4,
			reviewed_at = $5
		WHERE user_id = $1 AND status = $6
		RETURNING user_id`,
		r.UserID,
		string(r.Status),
		nullString(r.RejectionReason),
		nullString(r.ReviewedBy),
		nullTimePtr(r.ReviewedAt),
		string(expected),
	).Scan(&userID)
}

func queryPutUser(ctx context.Context, db executor, u *model.User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, role) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role`,
		u.ID, string(u.Role))
	return err
}

func queryGetUser(ctx context.Context, db executor, id string) (*model.User, error) {
	var u model.User
	err := db.QueryRowContext(ctx, `SELECT id, role FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Role)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func tokenColumns(t *model.TokenRef) (sql.NullString, sql.NullString) {
	if t == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return nullString(t.NFTID), nullString(t.TxHash)
}
