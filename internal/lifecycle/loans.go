package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// LoanRequest is a borrower's application.
type LoanRequest struct {
	Amount       float64 `json:"amount"`
	InterestRate float64 `json:"interest_rate"`
	TermMonths   int     `json:"term_months"`
	Purpose      string  `json:"purpose"`
	Collateral   string  `json:"collateral"`
}

// Submit creates a pending loan owned by userID and announces it.
func (s *Service) Submit(ctx context.Context, userID string, req LoanRequest) (*model.Loan, error) {
	id, err := s.newID()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	loan := &model.Loan{
		ID:           id,
		UserID:       userID,
		Amount:       req.Amount,
		InterestRate: req.InterestRate,
		TermMonths:   req.TermMonths,
		Purpose:      req.Purpose,
		Collateral:   req.Collateral,
		Status:       model.LoanPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	loan.RemainingBalance = roundCents(loan.TotalDue())

	if err := model.ValidateLoan(loan); err != nil {
		s.observeErr(err)
		return nil, err
	}
	if err := s.store.CreateLoan(ctx, loan); err != nil {
		s.observeErr(err)
		return nil, fmt.Errorf("creating loan: %w", err)
	}

	slog.Info("lifecycle: loan submitted", "loan", loan.ID, "user", userID, "amount", loan.Amount)
	s.publishSubmitted(ctx, loan)
	return loan, nil
}

// Transition moves a loan to target. Checks run in order: legality of the
// status pair, actor authorization, then metadata. Any failure leaves the
// loan untouched and publishes nothing.
func (s *Service) Transition(ctx context.Context, loanID string, target model.LoanStatus, actorID string, meta Metadata) (*model.Loan, error) {
	return s.transitionAs(ctx, loanID, target, userActor(actorID), meta)
}

func (s *Service) transitionAs(ctx context.Context, loanID string, target model.LoanStatus, a actor, meta Metadata) (*model.Loan, error) {
	loan, from, err := s.transition(ctx, loanID, target, a, meta)
	s.observeErr(err)
	if err != nil {
		return nil, err
	}

	s.publishTransition(ctx, from, loan, false)
	if loan.Status == model.LoanApproved {
		s.startTokenization(loan.ID)
	}
	return loan, nil
}

func (s *Service) transition(ctx context.Context, loanID string, target model.LoanStatus, a actor, meta Metadata) (*model.Loan, model.LoanStatus, error) {
	unlock := s.loanLocks.Lock(loanID)
	defer unlock()

	cur, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, "", err
	}

	next, err := model.NextStatus(cur.Status, target)
	if err != nil {
		return nil, "", err
	}

	action := fmt.Sprintf("move loan %s to %s", loanID, target)
	systemAllowed := next == model.LoanActive || next == model.LoanCompleted
	if err := s.requireAdmin(ctx, a, action, systemAllowed); err != nil {
		return nil, "", err
	}

	if next == model.LoanRejected && meta.RejectionReason == "" {
		return nil, "", model.NewValidationError("rejection_reason", "is required to reject a loan")
	}
	if next == model.LoanActive && (meta.Token == nil || meta.Token.NFTID == "" || meta.Token.TxHash == "") {
		return nil, "", model.NewValidationError("token", "is required to fund a loan; use tokenization")
	}

	updated := cur.Clone()
	updated.Status = next
	switch next {
	case model.LoanApproved:
		updated.ApprovedBy = a.id
		updated.TokenizationError = ""
	case model.LoanRejected:
		updated.RejectionReason = meta.RejectionReason
	case model.LoanActive:
		t := *meta.Token
		updated.Token = &t
		updated.TokenizationError = ""
		updated.RemainingBalance = roundCents(updated.TotalDue() - updated.TotalRepaid)
	case model.LoanCompleted:
		updated.RemainingBalance = 0
	}

	if err := model.ValidateLoan(updated); err != nil {
		return nil, "", err
	}
	if err := s.store.UpdateLoan(ctx, updated, cur.Status); err != nil {
		return nil, "", err
	}

	s.metrics.ObserveTransition(string(cur.Status), string(next))
	slog.Info("lifecycle: loan transitioned",
		"loan", loanID,
		"from", cur.Status,
		"to", next,
		"actor", a.id)
	return updated, cur.Status, nil
}

// ApplyRepayment adds amount to an active loan's repaid total. When the
// full obligation is covered the loan moves to completed in the same
// commit.
func (s *Service) ApplyRepayment(ctx context.Context, loanID string, amount float64, actorID string) (*model.Loan, error) {
	loan, completed, err := s.applyRepayment(ctx, loanID, amount, userActor(actorID))
	s.observeErr(err)
	if err != nil {
		return nil, err
	}

	s.publishRepayment(ctx, loan, amount)
	if completed {
		s.publishTransition(ctx, model.LoanActive, loan, true)
	}
	return loan, nil
}

func (s *Service) applyRepayment(ctx context.Context, loanID string, amount float64, a actor) (*model.Loan, bool, error) {
	unlock := s.loanLocks.Lock(loanID)
	defer unlock()

	cur, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, false, err
	}
	if cur.Status != model.LoanActive {
		return nil, false, &model.IllegalTransition{Entity: "loan", From: string(cur.Status), To: "repayment"}
	}

	action := "repay loan " + loanID
	if !a.system && a.id != cur.UserID {
		if err := s.requireAdmin(ctx, a, action, false); err != nil {
			return nil, false, err
		}
	}

	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, false, model.NewValidationError("amount", "must be positive")
	}
	if amount > cur.RemainingBalance+0.005 {
		return nil, false, model.NewValidationError("amount",
			fmt.Sprintf("%.2f exceeds remaining balance %.2f", amount, cur.RemainingBalance))
	}

	updated := cur.Clone()
	updated.TotalRepaid = roundCents(cur.TotalRepaid + amount)
	updated.RemainingBalance = roundCents(cur.TotalDue() - updated.TotalRepaid)

	completed := false
	if updated.RemainingBalance <= 0 {
		next, err := model.NextStatus(cur.Status, model.LoanCompleted)
		if err != nil {
			return nil, false, err
		}
		updated.Status = next
		updated.RemainingBalance = 0
		completed = true
	}

	if err := s.store.UpdateLoan(ctx, updated, cur.Status); err != nil {
		return nil, false, err
	}

	slog.Info("lifecycle: repayment applied",
		"loan", loanID,
		"amount", amount,
		"remaining", updated.RemainingBalance,
		"actor", a.id)
	if completed {
		s.metrics.ObserveTransition(string(model.LoanActive), string(model.LoanCompleted))
	}
	return updated, completed, nil
}

// GetLoan returns a loan visible to actorID: its owner or an admin.
func (s *Service) GetLoan(ctx context.Context, loanID, actorID string) (*model.Loan, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.UserID == actorID {
		return loan, nil
	}
	if err := s.requireAdmin(ctx, userActor(actorID), "view loan "+loanID, false); err != nil {
		return nil, err
	}
	return loan, nil
}

// ListLoans returns loans matching filter. Non-admins only see their own.
func (s *Service) ListLoans(ctx context.Context, filter model.LoanFilter, actorID string) ([]*model.Loan, error) {
	role, err := s.roleOf(ctx, actorID, "list loans")
	if err != nil {
		return nil, err
	}
	if role != model.RoleAdmin {
		filter.UserID = actorID
	}
	return s.store.ListLoans(ctx, filter)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
