package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/model"
)

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ManagerConfig holds Manager settings. Zero values take the defaults
// noted on each field.
type ManagerConfig struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8080/v1/ws.
	URL   string
	Token string

	// MaxAttempts is the number of consecutive reconnect attempts before
	// giving up. Default 5.
	MaxAttempts int
	// BaseDelay is the first reconnect delay. Default 1s.
	BaseDelay time.Duration
	// MaxDelay caps the reconnect delay. Default 30s.
	MaxDelay time.Duration
	// ConnectTimeout bounds dial plus handshake. Default 10s.
	ConnectTimeout time.Duration
	// PingInterval is the liveness check period. Default 25s.
	PingInterval time.Duration
	// PongTimeout is how long the server may stay silent before the
	// connection counts as dropped. Default 60s.
	PongTimeout time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	return c
}

// Backoff returns the delay before reconnect attempt n (zero based):
// min(base * 2^n, max).
func Backoff(n int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Handler receives one decoded event.
type Handler func(events.Payload)

// HandlerID identifies a registration for Off.
type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	fn Handler
}

// Notice is a user-facing status message. Persistent notices stay until
// dismissed; the rest may disappear on their own.
type Notice struct {
	Message    string
	Err        error
	Persistent bool
	At         time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger. Default slog.Default().
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// Manager owns one logical connection to the event server. It reconnects
// with capped exponential backoff, keeps event handlers across
// reconnects, and re-establishes the desired channel subscriptions after
// each successful connect.
type Manager struct {
	cfg    ManagerConfig
	dialer Dialer
	log    *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// connectMu serializes Connect with reconnect attempts.
	connectMu sync.Mutex

	mu        sync.Mutex
	state     State
	transport Transport
	connDone  chan struct{}
	gen       uint64
	attempts  int
	lastErr   error
	timer     *time.Timer
	lastSeen  time.Time
	closed    bool

	desired map[string]struct{}
	acked   map[string]struct{}

	handlers map[string][]handlerEntry
	nextID   HandlerID
	stateFns []func(from, to State)
	noticeFn []func(Notice)
}

// NewManager returns a disconnected Manager.
func NewManager(cfg ManagerConfig, dialer Dialer, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg.withDefaults(),
		dialer:   dialer,
		log:      slog.Default(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		desired:  make(map[string]struct{}),
		acked:    make(map[string]struct{}),
		handlers: make(map[string][]handlerEntry),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the manager holds a confirmed connection.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// ReconnectAttempts returns the number of consecutive failed or pending
// reconnect attempts.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// OnStateChange registers fn to run after every state change.
func (m *Manager) OnStateChange(fn func(from, to State)) {
	m.mu.Lock()
	m.stateFns = append(m.stateFns, fn)
	m.mu.Unlock()
}

// OnNotice registers fn to receive user-facing notices.
func (m *Manager) OnNotice(fn func(Notice)) {
	m.mu.Lock()
	m.noticeFn = append(m.noticeFn, fn)
	m.mu.Unlock()
}

// On registers h for event. Handlers live in the manager, not the
// transport, so they survive reconnects.
func (m *Manager) On(event string, h Handler) HandlerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.handlers[event] = append(m.handlers[event], handlerEntry{id: m.nextID, fn: h})
	return m.nextID
}

// Off removes a handler registered with On. Unknown ids are ignored.
func (m *Manager) Off(event string, id HandlerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs := m.handlers[event]
	for i, e := range hs {
		if e.id == id {
			m.handlers[event] = append(hs[:i:i], hs[i+1:]...)
			break
		}
	}
	if len(m.handlers[event]) == 0 {
		delete(m.handlers, event)
	}
}

// Connect dials the server and waits for connection:confirmed. It cancels
// any pending reconnect and resets the attempt counter. A rejected token
// returns *model.AuthError; a dial failure or timeout *TransportError.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.stopTimerLocked()
	m.attempts = 0
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	fire := m.transitionLocked(StateConnecting)
	m.mu.Unlock()
	fire()

	if err := m.dial(ctx, StateConnecting); err != nil {
		m.mu.Lock()
		fire = func() {}
		if m.state == StateConnecting {
			fire = m.transitionLocked(StateDisconnected)
		}
		m.mu.Unlock()
		fire()
		return err
	}
	return nil
}

// Disconnect closes the connection and cancels any pending reconnect. It
// is unconditional: whatever the state, the manager ends disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopTimerLocked()
	t := m.endLocked()
	m.attempts = 0
	fire := m.transitionLocked(StateDisconnected)
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	fire()
}

// Close disconnects and releases the manager. Connect fails afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.Disconnect()
}

// Subscribe adds channel to the desired set and requests it now when
// connected. The subscription is re-established after every reconnect.
func (m *Manager) Subscribe(channel string) error {
	m.mu.Lock()
	m.desired[channel] = struct{}{}
	_, acked := m.acked[channel]
	t := m.liveTransportLocked()
	m.mu.Unlock()

	if t == nil || acked {
		return nil
	}
	return m.sendFrame(t, events.Frame{Event: events.EventSubscribe, Channel: channel})
}

// Unsubscribe removes channel from the desired set and leaves it now when
// connected.
func (m *Manager) Unsubscribe(channel string) error {
	m.mu.Lock()
	delete(m.desired, channel)
	delete(m.acked, channel)
	t := m.liveTransportLocked()
	m.mu.Unlock()

	if t == nil {
		return nil
	}
	return m.sendFrame(t, events.Frame{Event: events.EventUnsubscribe, Channel: channel})
}

// Subscriptions returns the desired channel set, sorted.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.desired))
	for ch := range m.desired {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Ping sends a liveness probe. The server answers with pong.
func (m *Manager) Ping() error {
	m.mu.Lock()
	t := m.liveTransportLocked()
	m.mu.Unlock()
	if t == nil {
		return &TransportError{Op: "ping", Err: ErrNotConnected}
	}
	return m.sendFrame(t, events.Frame{Event: events.EventPing})
}

// dial opens a transport and installs it if the state is still from.
// Called with connectMu held.
func (m *Manager) dial(ctx context.Context, from State) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	t, err := m.dialer.Dial(ctx, m.cfg.URL, m.cfg.Token)
	if err != nil {
		var ae *model.AuthError
		if errors.As(err, &ae) {
			return ae
		}
		return &TransportError{Op: "dial", Err: err}
	}

	confirmed, err := awaitConfirmed(ctx, t)
	if err != nil {
		_ = t.Close()
		return err
	}

	m.mu.Lock()
	if m.closed || m.state != from {
		// Disconnected while dialing.
		m.mu.Unlock()
		_ = t.Close()
		return &TransportError{Op: "dial", Err: context.Canceled}
	}
	m.gen++
	gen := m.gen
	done := make(chan struct{})
	m.transport = t
	m.connDone = done
	m.acked = make(map[string]struct{})
	m.lastSeen = m.now()
	m.lastErr = nil
	m.attempts = 0
	fire := m.transitionLocked(StateConnected)
	m.mu.Unlock()

	m.log.Info("client: connected", "url", m.cfg.URL, "conn", confirmed.ConnectionID, "user", confirmed.UserID)
	fire()

	go m.readLoop(gen, t)
	go m.liveness(gen, t, done)
	m.reconcile(t)
	return nil
}

// awaitConfirmed reads frames until connection:confirmed or ctx ends.
func awaitConfirmed(ctx context.Context, t Transport) (events.ConnectionConfirmed, error) {
	type result struct {
		p   events.ConnectionConfirmed
		err error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			data, err := t.Receive()
			if err != nil {
				ch <- result{err: &TransportError{Op: "handshake", Err: err}}
				return
			}
			f, err := events.ParseFrame(data)
			if err != nil || f.Event != events.EventConnectionConfirmed {
				continue
			}
			var p events.ConnectionConfirmed
			if err := json.Unmarshal(f.Data, &p); err != nil {
				ch <- result{err: &TransportError{Op: "handshake", Err: err}}
				return
			}
			ch <- result{p: p}
			return
		}
	}()

	select {
	case r := <-ch:
		return r.p, r.err
	case <-ctx.Done():
		// Closing the transport unblocks the reader.
		_ = t.Close()
		return events.ConnectionConfirmed{}, &TransportError{Op: "handshake", Err: ctx.Err()}
	}
}

// reconcile requests every desired channel not yet acknowledged.
func (m *Manager) reconcile(t Transport) {
	m.mu.Lock()
	var pending []string
	for ch := range m.desired {
		if _, ok := m.acked[ch]; !ok {
			pending = append(pending, ch)
		}
	}
	m.mu.Unlock()
	sort.Strings(pending)

	for _, ch := range pending {
		if err := m.sendFrame(t, events.Frame{Event: events.EventSubscribe, Channel: ch}); err != nil {
			m.log.Warn("client: resubscribe failed", "channel", ch, "err", err)
			return
		}
	}
}

func (m *Manager) readLoop(gen uint64, t Transport) {
	for {
		data, err := t.Receive()
		if err != nil {
			m.dropped(gen, &TransportError{Op: "read", Err: err})
			return
		}

		f, err := events.ParseFrame(data)
		if err != nil {
			m.log.Warn("client: bad frame", "err", err)
			continue
		}
		p, err := events.Decode(f.Event, f.Data)
		if err != nil {
			m.log.Debug("client: undecodable event", "event", f.Event, "err", err)
			continue
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.lastSeen = m.now()
		switch v := p.(type) {
		case events.Subscribed:
			m.acked[v.Channel] = struct{}{}
		case events.Unsubscribed:
			delete(m.acked, v.Channel)
		}
		m.mu.Unlock()

		m.emit(f.Event, p)
	}
}

// liveness treats a transport that reports disconnected, or a server
// silent for PongTimeout, as a drop. Each tick also sends a ping so an
// idle connection keeps producing pongs.
func (m *Manager) liveness(gen uint64, t Transport, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		silent := m.now().Sub(m.lastSeen)
		m.mu.Unlock()

		switch {
		case !t.Connected():
			m.dropped(gen, &TransportError{Op: "liveness", Err: ErrNotConnected})
			return
		case silent > m.cfg.PongTimeout:
			m.dropped(gen, &TransportError{Op: "liveness", Err: fmt.Errorf("no traffic for %s", silent.Round(time.Millisecond))})
			return
		}
		if err := m.sendFrame(t, events.Frame{Event: events.EventPing}); err != nil {
			m.log.Debug("client: ping failed", "err", err)
		}
	}
}

// dropped handles an unexpected loss of the connection generation gen.
func (m *Manager) dropped(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		// Stale transport or intentional disconnect.
		m.mu.Unlock()
		return
	}
	t := m.endLocked()
	m.lastErr = cause
	fire := m.transitionLocked(StateReconnecting)
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	m.log.Warn("client: connection lost", "err", cause)
	fire()
	m.notify(Notice{Message: "Connection lost, reconnecting", Err: cause})
	// Callbacks may have called Disconnect or Connect; scheduleReconnect
	// rechecks the state under the lock.
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxAttempts {
		exhausted := &ReconnectExhausted{Attempts: m.attempts, Last: m.lastErr}
		m.mu.Unlock()
		m.fail(exhausted)
		return
	}
	delay := Backoff(m.attempts, m.cfg.BaseDelay, m.cfg.MaxDelay)
	m.attempts++
	attempt := m.attempts
	m.timer = time.AfterFunc(delay, m.reconnect)
	m.mu.Unlock()

	m.log.Info("client: reconnect scheduled", "attempt", attempt, "max", m.cfg.MaxAttempts, "delay", delay)
}

func (m *Manager) reconnect() {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed || m.state != StateReconnecting {
		// A manual Connect or Disconnect won the race.
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	err := m.dial(m.ctx, StateReconnecting)
	if err == nil {
		return
	}

	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	attempts := m.attempts
	m.mu.Unlock()
	m.log.Warn("client: reconnect failed", "attempt", attempts, "err", err)

	var ae *model.AuthError
	if errors.As(err, &ae) {
		// A rejected token will not start working on retry.
		m.fail(&ReconnectExhausted{Attempts: attempts, Last: err})
		return
	}
	m.notify(Notice{Message: fmt.Sprintf("Reconnect attempt %d failed", attempts), Err: err})
	m.scheduleReconnect()
}

func (m *Manager) fail(cause *ReconnectExhausted) {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	fire := m.transitionLocked(StateFailed)
	m.mu.Unlock()

	m.log.Error("client: giving up", "attempts", cause.Attempts, "err", cause.Last)
	fire()
	m.notify(Notice{Message: "Connection failed. Reconnect manually to retry.", Err: cause, Persistent: true})
}

// endLocked detaches the current transport and returns it for closing.
func (m *Manager) endLocked() Transport {
	t := m.transport
	m.transport = nil
	m.gen++
	m.acked = make(map[string]struct{})
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
	return t
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) liveTransportLocked() Transport {
	if m.state != StateConnected {
		return nil
	}
	return m.transport
}

func (m *Manager) sendFrame(t Transport, f events.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", f.Event, err)
	}
	if err := t.Send(b); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// transitionLocked moves to s and returns a func that runs the state
// callbacks. Call it after releasing m.mu.
func (m *Manager) transitionLocked(s State) func() {
	from := m.state
	if from == s {
		return func() {}
	}
	m.state = s
	fns := slices.Clone(m.stateFns)
	return func() {
		m.log.Debug("client: state changed", "from", from, "to", s)
		for _, fn := range fns {
			fn(from, s)
		}
	}
}

func (m *Manager) notify(n Notice) {
	n.At = m.now()
	m.mu.Lock()
	fns := slices.Clone(m.noticeFn)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// emit runs every handler for event in registration order. A panicking
// handler is logged and skipped.
func (m *Manager) emit(event string, p events.Payload) {
	m.mu.Lock()
	hs := slices.Clone(m.handlers[event])
	m.mu.Unlock()

	for _, h := range hs {
		m.safeCall(event, h, p)
	}
}

func (m *Manager) safeCall(event string, h handlerEntry, p events.Payload) {
	defer func() {
		if v := recover(); v != nil {
			m.log.Error("client: handler panicked", "event", event, "handler", h.id, "panic", v)
		}
	}()
	h.fn(p)
}
