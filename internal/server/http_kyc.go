package server

import (
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/lendbus/internal/lifecycle"
	"github.com/alfredjeanlab/lendbus/internal/model"
)

// handleSubmitKYC handles POST /v1/kyc for the authenticated user.
func (s *Server) handleSubmitKYC(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	rec, err := s.loans.SubmitKYC(r.Context(), id.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleGetKYC handles GET /v1/users/{id}/kyc.
func (s *Server) handleGetKYC(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	rec, err := s.loans.GetKYC(r.Context(), r.PathValue("id"), id.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleReviewKYC handles POST /v1/users/{id}/kyc.
func (s *Server) handleReviewKYC(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var in transitionInput
	if err := decodeBody(w, r, &in); err != nil {
		writeErr(w, err)
		return
	}
	target := model.KYCStatus(in.Status)
	if !target.IsValid() {
		writeErr(w, model.NewValidationError("status", "unknown kyc status "+strconv.Quote(in.Status)))
		return
	}

	rec, err := s.loans.TransitionKYC(r.Context(), r.PathValue("id"), target, id.UserID,
		lifecycle.Metadata{RejectionReason: in.RejectionReason})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
