// Package lifecycle is the loan and KYC state machine.
//
// Every state change is committed to the store first and handed to the
// dispatcher afterwards; a dispatch problem can never make a committed
// transition look failed. At most one transition per loan id (and per KYC
// user id) is in flight: a keyed lock is held across read, validate and
// commit, and the store's status compare-and-swap rejects anything that
// slipped past it.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/dispatch"
	"github.com/alfredjeanlab/lendbus/internal/idgen"
	"github.com/alfredjeanlab/lendbus/internal/metrics"
	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/store"
)

// systemName is recorded in logs for changes made by the service itself.
const systemName = "system"

// actor is the caller of a state change. Requests always arrive as user
// actors; only the tokenization path runs as the system actor, so no token
// subject can claim it.
type actor struct {
	id     string
	system bool
}

var systemActor = actor{id: systemName, system: true}

func userActor(id string) actor { return actor{id: id} }

// Metadata carries the optional inputs of a transition.
type Metadata struct {
	RejectionReason string          `json:"rejection_reason,omitempty"`
	Token           *model.TokenRef `json:"token,omitempty"`
}

// Service owns loan and KYC state changes.
type Service struct {
	store     store.Store
	pub       dispatch.Publisher
	tokenizer Tokenizer
	metrics   *metrics.Recorder

	loanLocks keyedMutex
	kycLocks  keyedMutex

	now             func() time.Time
	newID           func() (string, error)
	tokenizeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	tokenizing map[string]struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithTokenizer sets the collateral tokenizer. Defaults to LocalTokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(s *Service) { s.tokenizer = t }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTokenizeTimeout bounds a single tokenization attempt. Default 30s.
func WithTokenizeTimeout(d time.Duration) Option {
	return func(s *Service) { s.tokenizeTimeout = d }
}

// New creates a Service. Call Close to wait for background tokenizations.
func New(st store.Store, pub dispatch.Publisher, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:           st,
		pub:             pub,
		tokenizer:       LocalTokenizer{},
		now:             time.Now,
		newID:           idgen.Loan,
		tokenizeTimeout: 30 * time.Second,
		ctx:             ctx,
		cancel:          cancel,
		tokenizing:      make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close cancels in-flight tokenizations and waits for them to finish.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until background tokenizations started so far have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// roleOf resolves the role of actorID from the user directory.
func (s *Service) roleOf(ctx context.Context, actorID, action string) (model.Role, error) {
	if actorID == "" {
		return "", &model.Unauthorized{Actor: actorID, Action: action}
	}
	u, err := s.store.GetUser(ctx, actorID)
	if errors.Is(err, model.ErrNotFound) {
		return "", &model.Unauthorized{Actor: actorID, Action: action}
	}
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// requireAdmin fails with *model.Unauthorized unless a is an admin.
// allowSystem additionally admits the system actor.
func (s *Service) requireAdmin(ctx context.Context, a actor, action string, allowSystem bool) error {
	if a.system {
		if allowSystem {
			return nil
		}
		return &model.Unauthorized{Actor: a.id, Action: action}
	}
	role, err := s.roleOf(ctx, a.id, action)
	if err != nil {
		return err
	}
	if role != model.RoleAdmin {
		return &model.Unauthorized{Actor: a.id, Action: action}
	}
	return nil
}

// observeErr counts refused operations by error kind.
func (s *Service) observeErr(err error) {
	var (
		it *model.IllegalTransition
		ve *model.ValidationError
		ua *model.Unauthorized
	)
	switch {
	case err == nil:
		return
	case errors.As(err, &it):
		s.metrics.ObserveTransitionError("illegal_transition")
	case errors.As(err, &ve):
		s.metrics.ObserveTransitionError("validation")
	case errors.As(err, &ua):
		s.metrics.ObserveTransitionError("unauthorized")
	case errors.Is(err, model.ErrConflict):
		s.metrics.ObserveTransitionError("conflict")
	case errors.Is(err, model.ErrNotFound):
		s.metrics.ObserveTransitionError("not_found")
	default:
		s.metrics.ObserveTransitionError("internal")
		slog.Error("lifecycle: store error", "err", err)
	}
}
