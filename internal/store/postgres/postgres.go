// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateLoan(ctx context.Context, loan *model.Loan) error {
	return mapErr(queryCreateLoan(ctx, s.db, loan))
}

func (s *PostgresStore) GetLoan(ctx context.Context, id string) (*model.Loan, error) {
	l, err := queryGetLoan(ctx, s.db, id)
	return l, mapErr(err)
}

func (s *PostgresStore) ListLoans(ctx context.Context, filter model.LoanFilter) ([]*model.Loan, error) {
	return queryListLoans(ctx, s.db, filter)
}

// UpdateLoan distinguishes a missing loan from a lost race with a second
// lookup when the guarded UPDATE matches no row.
func (s *PostgresStore) UpdateLoan(ctx context.Context, loan *model.Loan, expected model.LoanStatus) error {
	err := queryUpdateLoan(ctx, s.db, loan, expected)
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if _, err := queryLoanStatus(ctx, s.db, loan.ID); err != nil {
		return mapErr(err)
	}
	return model.ErrConflict
}

func (s *PostgresStore) CreateKYC(ctx context.Context, rec *model.KYCRecord) error {
	return mapErr(queryCreateKYC(ctx, s.db, rec))
}

func (s *PostgresStore) GetKYC(ctx context.Context, userID string) (*model.KYCRecord, error) {
	rec, err := queryGetKYC(ctx, s.db, userID)
	return rec, mapErr(err)
}

func (s *PostgresStore) UpdateKYC(ctx context.Context, rec *model.KYCRecord, expected model.KYCStatus) error {
	err := queryUpdateKYC(ctx, s.db, rec, expected)
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if _, err := queryGetKYC(ctx, s.db, rec.UserID); err != nil {
		return mapErr(err)
	}
	return model.ErrConflict
}

func (s *PostgresStore) PutUser(ctx context.Context, user *model.User) error {
	return queryPutUser(ctx, s.db, user)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := queryGetUser(ctx, s.db, id)
	return u, mapErr(err)
}

// mapErr translates driver errors into the store's sentinel errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return model.ErrConflict
	}
	return err
}
