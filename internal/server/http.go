package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered behind
// authentication, panic recovery and request logging.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/loans", s.handleSubmitLoan)
	mux.HandleFunc("GET /v1/loans", s.handleListLoans)
	mux.HandleFunc("GET /v1/loans/{id}", s.handleGetLoan)
	mux.HandleFunc("POST /v1/loans/{id}/transition", s.handleTransitionLoan)
	mux.HandleFunc("POST /v1/loans/{id}/repayments", s.handleRepayLoan)
	mux.HandleFunc("POST /v1/loans/{id}/tokenize", s.handleRetryTokenization)
	mux.HandleFunc("POST /v1/kyc", s.handleSubmitKYC)
	mux.HandleFunc("GET /v1/users/{id}/kyc", s.handleGetKYC)
	mux.HandleFunc("POST /v1/users/{id}/kyc", s.handleReviewKYC)
	mux.HandleFunc("GET /v1/connections", s.handleConnections)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return LoggingMiddleware(RecoveryMiddleware(s.AuthMiddleware(mux)))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Count(),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// inputError indicates a request the handler could not parse.
type inputError string

func (e inputError) Error() string { return string(e) }

// writeErr maps a domain error to its HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	var (
		ie inputError
		ve *model.ValidationError
		ae *model.AuthError
		ua *model.Unauthorized
		it *model.IllegalTransition
	)
	switch {
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, ie.Error())
	case errors.As(err, &ve):
		fields := make(map[string]string, len(ve.Errors))
		for _, fe := range ve.Errors {
			fields[fe.Field] = fe.Message
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "fields": fields})
	case errors.As(err, &ae):
		writeError(w, http.StatusUnauthorized, ae.Error())
	case errors.As(err, &ua):
		writeError(w, http.StatusForbidden, ua.Error())
	case errors.As(err, &it):
		writeError(w, http.StatusConflict, it.Error())
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		slog.Error("server: internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return inputError("invalid JSON body: " + err.Error())
	}
	return nil
}
