// Package server is the network edge of lendbus: the JSON action API and
// the WebSocket event channel, both behind the same token authentication.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/lendbus/internal/auth"
	"github.com/alfredjeanlab/lendbus/internal/lifecycle"
	"github.com/alfredjeanlab/lendbus/internal/metrics"
	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/registry"
	"github.com/alfredjeanlab/lendbus/internal/store"
)

const (
	defaultSendBuffer = 64
	defaultPongWait   = 60 * time.Second

	// writeWait bounds a single frame write to the peer.
	writeWait = 10 * time.Second

	// maxFrameSize caps inbound frames. Clients only send control frames.
	maxFrameSize = 4096
)

// Server holds the collaborators behind the HTTP and WebSocket handlers.
type Server struct {
	store    store.Store
	loans    *lifecycle.Service
	auth     *auth.Authenticator
	registry *registry.Registry
	metrics  *metrics.Recorder

	metricsHandler http.Handler
	upgrader       websocket.Upgrader

	sendBuffer int
	pongWait   time.Duration
	now        func() time.Time

	// seen caches the role last written to the user directory per user id
	// so authenticated requests only write when something changed.
	seenMu sync.Mutex
	seen   map[string]model.Role
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics attaches a recorder and the handler served at GET /metrics.
func WithMetrics(r *metrics.Recorder, h http.Handler) Option {
	return func(s *Server) {
		s.metrics = r
		s.metricsHandler = h
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithPongWait sets how long a connection may stay silent before its read
// deadline expires.
func WithPongWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pongWait = d
		}
	}
}

// WithCheckOrigin overrides the WebSocket origin check. The default accepts
// every origin; tokens, not cookies, carry identity.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// New returns a Server.
func New(st store.Store, loans *lifecycle.Service, authn *auth.Authenticator, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		store:      st,
		loans:      loans,
		auth:       authn,
		registry:   reg,
		sendBuffer: defaultSendBuffer,
		pongWait:   defaultPongWait,
		now:        time.Now,
		seen:       make(map[string]model.Role),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// remember upserts id into the user directory the lifecycle service
// resolves actor roles from.
func (s *Server) remember(ctx context.Context, id model.Identity) {
	s.seenMu.Lock()
	role, ok := s.seen[id.UserID]
	s.seenMu.Unlock()
	if ok && role == id.Role {
		return
	}

	if err := s.store.PutUser(ctx, &model.User{ID: id.UserID, Role: id.Role}); err != nil {
		slog.Warn("server: failed to record user", "user", id.UserID, "err", err)
		return
	}
	s.seenMu.Lock()
	s.seen[id.UserID] = id.Role
	s.seenMu.Unlock()
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server: stopped")
	return nil
}
