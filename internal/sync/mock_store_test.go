package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// mockLedger is a minimal LoanSource for export tests.
type mockLedger struct {
	mu    gosync.Mutex
	loans []*model.Loan
	err   error
}

func (m *mockLedger) ListLoans(_ context.Context, filter model.LoanFilter) ([]*model.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if filter.UserID != "" || len(filter.Status) > 0 || filter.Limit != 0 {
		return nil, errors.New("export must read the whole ledger")
	}
	out := make([]*model.Loan, len(m.loans))
	copy(out, m.loans)
	return out, nil
}

func (m *mockLedger) add(id string, status model.LoanStatus, remaining float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.loans = append(m.loans, &model.Loan{
		ID: id, UserID: "U1", Amount: 1000, InterestRate: 10, TermMonths: 12,
		Status: status, RemainingBalance: remaining, CreatedAt: now, UpdatedAt: now,
	})
}

// mockDestination records calls to Write.
type mockDestination struct {
	mu     gosync.Mutex
	writes int
	last   []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	d.last = append([]byte(nil), data...)
	return d.err
}

func (d *mockDestination) snapshot() (int, []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes, d.last
}
