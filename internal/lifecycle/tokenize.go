package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// Tokenizer mints the collateral token for an approved loan.
type Tokenizer interface {
	Tokenize(ctx context.Context, loan *model.Loan) (model.TokenRef, error)
}

// TokenizerFunc adapts a function to Tokenizer.
type TokenizerFunc func(ctx context.Context, loan *model.Loan) (model.TokenRef, error)

func (f TokenizerFunc) Tokenize(ctx context.Context, loan *model.Loan) (model.TokenRef, error) {
	return f(ctx, loan)
}

// LocalTokenizer derives a deterministic token reference from the loan id.
// It stands in for a chain client when none is configured.
type LocalTokenizer struct{}

func (LocalTokenizer) Tokenize(ctx context.Context, loan *model.Loan) (model.TokenRef, error) {
	if err := ctx.Err(); err != nil {
		return model.TokenRef{}, err
	}
	sum := sha256.Sum256([]byte(loan.ID + "|" + loan.Collateral))
	return model.TokenRef{
		NFTID:  "nft-" + hex.EncodeToString(sum[:6]),
		TxHash: "0x" + hex.EncodeToString(sum[:]),
	}, nil
}

// RetryTokenization re-runs tokenization for an approved loan. Admin only.
// A retry while a tokenization of the same loan is still running fails
// with model.ErrConflict.
func (s *Service) RetryTokenization(ctx context.Context, loanID, actorID string) (*model.Loan, error) {
	loan, err := s.claimRetry(ctx, loanID, userActor(actorID))
	if err != nil {
		s.observeErr(err)
		return nil, err
	}

	slog.Info("lifecycle: tokenization retry requested", "loan", loanID, "actor", actorID)
	s.runTokenization(loanID)
	return loan, nil
}

// claimRetry checks the loan under its lock and takes the in-flight slot.
func (s *Service) claimRetry(ctx context.Context, loanID string, a actor) (*model.Loan, error) {
	unlock := s.loanLocks.Lock(loanID)
	defer unlock()

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != model.LoanApproved {
		return nil, &model.IllegalTransition{Entity: "loan", From: string(loan.Status), To: string(model.LoanActive)}
	}
	if err := s.requireAdmin(ctx, a, "retry tokenization of loan "+loanID, false); err != nil {
		return nil, err
	}
	if !s.claimTokenization(loanID) {
		return nil, fmt.Errorf("tokenization of loan %s already running: %w", loanID, model.ErrConflict)
	}
	return loan, nil
}

// claimTokenization marks loanID as being tokenized. It reports false when
// a run is already in flight.
func (s *Service) claimTokenization(loanID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.tokenizing[loanID]; busy {
		return false
	}
	s.tokenizing[loanID] = struct{}{}
	return true
}

func (s *Service) releaseTokenization(loanID string) {
	s.mu.Lock()
	delete(s.tokenizing, loanID)
	s.mu.Unlock()
}

// startTokenization starts a run unless one is already in flight.
func (s *Service) startTokenization(loanID string) {
	if !s.claimTokenization(loanID) {
		return
	}
	s.runTokenization(loanID)
}

// runTokenization runs a claimed tokenization in the background.
func (s *Service) runTokenization(loanID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseTokenization(loanID)
		s.tokenize(loanID)
	}()
}

// tokenize runs outside the loan lock; the funding transition re-checks
// the status under the lock.
func (s *Service) tokenize(loanID string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.tokenizeTimeout)
	defer cancel()

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		slog.Error("lifecycle: tokenization lookup failed", "loan", loanID, "err", err)
		return
	}
	if loan.Status != model.LoanApproved {
		return
	}

	ref, err := s.tokenizer.Tokenize(ctx, loan)
	if err != nil {
		s.metrics.ObserveTokenization(false)
		s.recordTokenizationFailure(ctx, loanID, err)
		return
	}
	s.metrics.ObserveTokenization(true)

	if _, err := s.transitionAs(ctx, loanID, model.LoanActive, systemActor, Metadata{Token: &ref}); err != nil {
		var it *model.IllegalTransition
		if errors.As(err, &it) {
			slog.Info("lifecycle: loan left approved before funding", "loan", loanID, "status", it.From)
			return
		}
		slog.Error("lifecycle: funding transition failed", "loan", loanID, "err", err)
	}
}

// recordTokenizationFailure keeps the loan approved, stores the error on it
// and alerts admins.
func (s *Service) recordTokenizationFailure(ctx context.Context, loanID string, cause error) {
	slog.Warn("lifecycle: tokenization failed", "loan", loanID, "err", cause)

	if ctx.Err() != nil {
		// Timed out or shutting down: record with a fresh context.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.tokenizeTimeout)
		defer cancel()
	}

	loan, err := func() (*model.Loan, error) {
		unlock := s.loanLocks.Lock(loanID)
		defer unlock()

		cur, err := s.store.GetLoan(ctx, loanID)
		if err != nil {
			return nil, err
		}
		if cur.Status != model.LoanApproved {
			return nil, nil
		}
		updated := cur.Clone()
		updated.TokenizationError = cause.Error()
		if err := s.store.UpdateLoan(ctx, updated, model.LoanApproved); err != nil {
			return nil, fmt.Errorf("recording tokenization error: %w", err)
		}
		return updated, nil
	}()
	if err != nil {
		slog.Error("lifecycle: could not record tokenization failure", "loan", loanID, "err", err)
		return
	}
	if loan != nil {
		s.publishTokenizationFailure(ctx, loan)
	}
}
