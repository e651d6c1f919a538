// Package memory implements store.Store in process memory. It backs the
// server when no database URL is configured and is used throughout tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/store"
)

// Store is a mutex-guarded map store. Values are copied on the way in and
// out so callers never share memory with the store.
type Store struct {
	mu    sync.RWMutex
	loans map[string]*model.Loan
	kyc   map[string]*model.KYCRecord
	users map[string]*model.User
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		loans: make(map[string]*model.Loan),
		kyc:   make(map[string]*model.KYCRecord),
		users: make(map[string]*model.User),
		now:   time.Now,
	}
}

func (s *Store) CreateLoan(_ context.Context, loan *model.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loans[loan.ID]; ok {
		return model.ErrConflict
	}
	s.loans[loan.ID] = loan.Clone()
	return nil
}

func (s *Store) GetLoan(_ context.Context, id string) (*model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return l.Clone(), nil
}

func (s *Store) ListLoans(_ context.Context, filter model.LoanFilter) ([]*model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Loan
	for _, l := range s.loans {
		if filter.UserID != "" && l.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, l.Status) {
			continue
		}
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpdateLoan(_ context.Context, loan *model.Loan, expected model.LoanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.loans[loan.ID]
	if !ok {
		return model.ErrNotFound
	}
	if cur.Status != expected {
		return model.ErrConflict
	}
	loan.UpdatedAt = s.now().UTC()
	s.loans[loan.ID] = loan.Clone()
	return nil
}

func (s *Store) CreateKYC(_ context.Context, rec *model.KYCRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kyc[rec.UserID]; ok {
		return model.ErrConflict
	}
	s.kyc[rec.UserID] = cloneKYC(rec)
	return nil
}

func (s *Store) GetKYC(_ context.Context, userID string) (*model.KYCRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.kyc[userID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneKYC(rec), nil
}

func (s *Store) UpdateKYC(_ context.Context, rec *model.KYCRecord, expected model.KYCStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.kyc[rec.UserID]
	if !ok {
		return model.ErrNotFound
	}
	if cur.Status != expected {
		return model.ErrConflict
	}
	s.kyc[rec.UserID] = cloneKYC(rec)
	return nil
}

func (s *Store) PutUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *Store) Close() error { return nil }

func containsStatus(list []model.LoanStatus, s model.LoanStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func cloneKYC(r *model.KYCRecord) *model.KYCRecord {
	c := *r
	if r.ReviewedAt != nil {
		t := *r.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}
