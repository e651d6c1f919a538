package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// SubmitKYC opens a pending verification record for userID and notifies
// admins. A user has at most one record.
func (s *Service) SubmitKYC(ctx context.Context, userID string) (*model.KYCRecord, error) {
	rec, err := s.submitKYC(ctx, userID)
	s.observeErr(err)
	if err != nil {
		return nil, err
	}
	s.publishKYCSubmitted(ctx, rec)
	return rec, nil
}

func (s *Service) submitKYC(ctx context.Context, userID string) (*model.KYCRecord, error) {
	if userID == "" {
		return nil, model.NewValidationError("user_id", "is required")
	}

	unlock := s.kycLocks.Lock(userID)
	defer unlock()

	existing, err := s.store.GetKYC(ctx, userID)
	switch {
	case err == nil:
		return nil, &model.IllegalTransition{Entity: "kyc", From: string(existing.Status), To: string(model.KYCPending)}
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	rec := &model.KYCRecord{
		UserID:      userID,
		Status:      model.KYCPending,
		SubmittedAt: s.now().UTC(),
	}
	if err := s.store.CreateKYC(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating kyc record: %w", err)
	}
	slog.Info("lifecycle: kyc submitted", "user", userID)
	return rec, nil
}

// TransitionKYC reviews a pending KYC record. Only pending -> approved and
// pending -> rejected exist; both need an admin and rejection needs a reason.
func (s *Service) TransitionKYC(ctx context.Context, userID string, target model.KYCStatus, actorID string, meta Metadata) (*model.KYCRecord, error) {
	rec, err := s.transitionKYC(ctx, userID, target, actorID, meta)
	s.observeErr(err)
	if err != nil {
		return nil, err
	}
	s.publishKYC(ctx, rec)
	return rec, nil
}

func (s *Service) transitionKYC(ctx context.Context, userID string, target model.KYCStatus, actorID string, meta Metadata) (*model.KYCRecord, error) {
	unlock := s.kycLocks.Lock(userID)
	defer unlock()

	cur, err := s.store.GetKYC(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !model.CanTransitionKYC(cur.Status, target) {
		return nil, &model.IllegalTransition{Entity: "kyc", From: string(cur.Status), To: string(target)}
	}
	if err := s.requireAdmin(ctx, userActor(actorID), "review kyc for "+userID, false); err != nil {
		return nil, err
	}
	if target == model.KYCRejected && meta.RejectionReason == "" {
		return nil, model.NewValidationError("rejection_reason", "is required to reject kyc")
	}

	now := s.now().UTC()
	updated := *cur
	updated.Status = target
	updated.ReviewedBy = actorID
	updated.ReviewedAt = &now
	if target == model.KYCRejected {
		updated.RejectionReason = meta.RejectionReason
	}

	if err := s.store.UpdateKYC(ctx, &updated, cur.Status); err != nil {
		return nil, err
	}
	slog.Info("lifecycle: kyc reviewed", "user", userID, "status", target, "actor", actorID)
	return &updated, nil
}

// GetKYC returns the record for userID, visible to that user or an admin.
func (s *Service) GetKYC(ctx context.Context, userID, actorID string) (*model.KYCRecord, error) {
	if userID != actorID {
		if err := s.requireAdmin(ctx, userActor(actorID), "view kyc for "+userID, false); err != nil {
			return nil, err
		}
	}
	return s.store.GetKYC(ctx, userID)
}
