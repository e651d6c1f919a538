package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/lendbus/internal/lifecycle"
	"github.com/alfredjeanlab/lendbus/internal/model"
)

// transitionInput is the body of POST /v1/loans/{id}/transition and
// POST /v1/users/{id}/kyc.
type transitionInput struct {
	Status          string `json:"status"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

type repaymentInput struct {
	Amount float64 `json:"amount"`
}

// handleSubmitLoan handles POST /v1/loans.
func (s *Server) handleSubmitLoan(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var in lifecycle.LoanRequest
	if err := decodeBody(w, r, &in); err != nil {
		writeErr(w, err)
		return
	}

	loan, err := s.loans.Submit(r.Context(), id.UserID, in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

// handleListLoans handles GET /v1/loans. Admins see every loan, users
// only their own.
func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	q := r.URL.Query()
	filter := model.LoanFilter{UserID: q.Get("user")}
	if v := q.Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			status := model.LoanStatus(strings.TrimSpace(st))
			if !status.IsValid() {
				writeErr(w, inputError("unknown status "+strconv.Quote(st)))
				return
			}
			filter.Status = append(filter.Status, status)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, inputError("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	loans, err := s.loans.ListLoans(r.Context(), filter, id.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if loans == nil {
		loans = []*model.Loan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": loans})
}

// handleGetLoan handles GET /v1/loans/{id}.
func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	loan, err := s.loans.GetLoan(r.Context(), r.PathValue("id"), id.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// handleTransitionLoan handles POST /v1/loans/{id}/transition.
func (s *Server) handleTransitionLoan(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var in transitionInput
	if err := decodeBody(w, r, &in); err != nil {
		writeErr(w, err)
		return
	}
	target := model.LoanStatus(in.Status)
	if !target.IsValid() {
		writeErr(w, model.NewValidationError("status", "unknown loan status "+strconv.Quote(in.Status)))
		return
	}

	loan, err := s.loans.Transition(r.Context(), r.PathValue("id"), target, id.UserID,
		lifecycle.Metadata{RejectionReason: in.RejectionReason})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// handleRepayLoan handles POST /v1/loans/{id}/repayments.
func (s *Server) handleRepayLoan(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var in repaymentInput
	if err := decodeBody(w, r, &in); err != nil {
		writeErr(w, err)
		return
	}

	loan, err := s.loans.ApplyRepayment(r.Context(), r.PathValue("id"), in.Amount, id.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// handleRetryTokenization handles POST /v1/loans/{id}/tokenize. The retry
// runs in the background; the response only acknowledges it.
func (s *Server) handleRetryTokenization(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	loan, err := s.loans.RetryTokenization(r.Context(), r.PathValue("id"), id.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, loan)
}
