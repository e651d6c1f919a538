package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

type identityKey struct{}

// withIdentity returns a copy of ctx carrying id.
func withIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// identityFrom returns the identity AuthMiddleware placed on ctx.
func identityFrom(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(model.Identity)
	return id, ok
}

// exempt reports whether a request may skip authentication.
func exempt(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	return r.URL.Path == "/v1/health" || r.URL.Path == "/metrics"
}

// bearerToken extracts the session token from the Authorization header, or
// from the token query parameter on the WebSocket endpoint since browsers
// cannot set headers on a WebSocket handshake.
func bearerToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return "", &model.AuthError{Reason: "invalid authorization scheme"}
		}
		return tok, nil
	}
	if r.URL.Path == "/v1/ws" {
		if tok := r.URL.Query().Get("token"); tok != "" {
			return tok, nil
		}
	}
	return "", &model.AuthError{Reason: "missing authorization header"}
}

// AuthMiddleware authenticates every request except GET /v1/health and
// GET /metrics and places the identity on the request context. Failures
// are answered with 401 before next runs, so a rejected WebSocket handshake
// never reaches the upgrader.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		tok, err := bearerToken(r)
		var id model.Identity
		if err == nil {
			id, err = s.auth.Authenticate(tok)
		}
		if err != nil {
			s.metrics.ObserveAuthFailure()
			slog.Info("server: authentication failed", "path", r.URL.Path, "remote", r.RemoteAddr, "err", err)
			writeErr(w, err)
			return
		}

		s.remember(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack hands the connection to the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// LoggingMiddleware logs method, path, status and duration for every request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		}
		if rec.status >= http.StatusInternalServerError {
			slog.Error("server: request completed", attrs...)
		} else {
			slog.Debug("server: request completed", attrs...)
		}
	})
}

// RecoveryMiddleware turns a handler panic into a 500 and logs the stack.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("server: panic recovered in handler",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprintf("%v", v),
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
