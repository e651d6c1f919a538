package lifecycle

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/lendbus/internal/dispatch"
	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/model"
)

func (s *Service) publishSubmitted(ctx context.Context, l *model.Loan) {
	ts := s.now().UTC()
	s.pub.Publish(ctx, model.PrivateChannel(l.UserID), events.LoanRequestSubmitted{
		LoanID:    l.ID,
		Status:    l.Status,
		Message:   "Your loan request has been submitted and is pending review",
		Timestamp: ts,
	})
	s.pub.Publish(ctx, model.ChannelLoans, events.LoanNew{
		LoanID:     l.ID,
		UserID:     l.UserID,
		Amount:     l.Amount,
		Purpose:    l.Purpose,
		Collateral: l.Collateral,
		Timestamp:  ts,
	})
	s.pub.Publish(ctx, model.ChannelLoans, events.AdminNotification{
		Type:    events.NotifyLoanRequest,
		Message: fmt.Sprintf("New loan request %s for %.2f from %s", l.ID, l.Amount, l.UserID),
		Data: map[string]any{
			"loanId": l.ID,
			"userId": l.UserID,
			"amount": l.Amount,
		},
		Timestamp: ts,
	}, dispatch.AdminsOnly())
}

// publishTransition emits the events for a committed status change.
// viaRepayment suppresses the marketplace repayment update on completion,
// since ApplyRepayment already sent one.
func (s *Service) publishTransition(ctx context.Context, from model.LoanStatus, l *model.Loan, viaRepayment bool) {
	ts := s.now().UTC()
	private := model.PrivateChannel(l.UserID)

	switch l.Status {
	case model.LoanApproved:
		s.pub.Publish(ctx, private, events.LoanStatusChanged{
			LoanID:    l.ID,
			UserID:    l.UserID,
			Status:    l.Status,
			Amount:    l.Amount,
			Timestamp: ts,
		})

	case model.LoanRejected:
		s.pub.Publish(ctx, private, events.LoanStatusChanged{
			LoanID:          l.ID,
			UserID:          l.UserID,
			Status:          l.Status,
			RejectionReason: l.RejectionReason,
			Timestamp:       ts,
		})

	case model.LoanActive:
		funded := events.LoanFunded{
			LoanID:    l.ID,
			UserID:    l.UserID,
			Amount:    l.Amount,
			Timestamp: ts,
		}
		if l.Token != nil {
			funded.NFTID = l.Token.NFTID
			funded.TxHash = l.Token.TxHash
		}
		s.pub.Publish(ctx, private, funded)
		s.pub.Publish(ctx, model.ChannelLoans, funded)
		s.pub.Publish(ctx, model.ChannelMarketplace, events.MarketplaceUpdate{
			Type:      events.UpdateNewListing,
			LoanID:    l.ID,
			NFTID:     funded.NFTID,
			Amount:    l.Amount,
			Timestamp: ts,
		})

	case model.LoanCompleted:
		s.pub.Publish(ctx, private, events.LoanStatusChanged{
			LoanID:    l.ID,
			UserID:    l.UserID,
			Status:    l.Status,
			Amount:    l.TotalRepaid,
			Timestamp: ts,
		})
		if !viaRepayment {
			s.pub.Publish(ctx, model.ChannelMarketplace, events.MarketplaceUpdate{
				Type:      events.UpdateRepayment,
				LoanID:    l.ID,
				NFTID:     nftID(l),
				Amount:    l.TotalRepaid,
				Timestamp: ts,
			})
		}

	case model.LoanDefaulted:
		s.pub.Publish(ctx, private, events.LoanStatusChanged{
			LoanID:    l.ID,
			UserID:    l.UserID,
			Status:    l.Status,
			Timestamp: ts,
		})
		s.pub.Publish(ctx, model.ChannelLoans, events.AdminNotification{
			Type:    events.NotifySystemAlert,
			Message: fmt.Sprintf("Loan %s defaulted with %.2f outstanding", l.ID, l.RemainingBalance),
			Data: map[string]any{
				"loanId":           l.ID,
				"userId":           l.UserID,
				"previousStatus":   string(from),
				"remainingBalance": l.RemainingBalance,
			},
			Timestamp: ts,
		}, dispatch.AdminsOnly())
	}
}

func (s *Service) publishRepayment(ctx context.Context, l *model.Loan, amount float64) {
	s.pub.Publish(ctx, model.ChannelMarketplace, events.MarketplaceUpdate{
		Type:      events.UpdateRepayment,
		LoanID:    l.ID,
		NFTID:     nftID(l),
		Amount:    amount,
		Timestamp: s.now().UTC(),
	})
}

func (s *Service) publishTokenizationFailure(ctx context.Context, l *model.Loan) {
	s.pub.Publish(ctx, model.ChannelLoans, events.AdminNotification{
		Type:    events.NotifySystemAlert,
		Message: fmt.Sprintf("Collateral tokenization failed for loan %s: %s", l.ID, l.TokenizationError),
		Data: map[string]any{
			"loanId": l.ID,
			"userId": l.UserID,
			"error":  l.TokenizationError,
		},
		Timestamp: s.now().UTC(),
	}, dispatch.AdminsOnly())
}

func (s *Service) publishKYC(ctx context.Context, rec *model.KYCRecord) {
	s.pub.Publish(ctx, model.PrivateChannel(rec.UserID), events.KYCStatusChanged{
		UserID:          rec.UserID,
		Status:          rec.Status,
		RejectionReason: rec.RejectionReason,
		Timestamp:       s.now().UTC(),
	})
}

func (s *Service) publishKYCSubmitted(ctx context.Context, rec *model.KYCRecord) {
	s.pub.Publish(ctx, model.ChannelLoans, events.AdminNotification{
		Type:      events.NotifyKYCSubmission,
		Message:   fmt.Sprintf("KYC submitted by %s", rec.UserID),
		Data:      map[string]any{"userId": rec.UserID},
		Timestamp: s.now().UTC(),
	}, dispatch.AdminsOnly())
}

func nftID(l *model.Loan) string {
	if l.Token == nil {
		return ""
	}
	return l.Token.NFTID
}
