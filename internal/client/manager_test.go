package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/model"
)

// fakeTransport is an in-memory Transport. When echo is set it answers
// subscribe and ping frames the way the server does.
type fakeTransport struct {
	recv   chan []byte
	closed chan struct{}
	once   sync.Once
	echo   bool

	mu   sync.Mutex
	sent []events.Frame
}

func newFakeTransport(confirm, echo bool) *fakeTransport {
	t := &fakeTransport{
		recv:   make(chan []byte, 64),
		closed: make(chan struct{}),
		echo:   echo,
	}
	if confirm {
		t.push("", events.ConnectionConfirmed{ConnectionID: "c1", UserID: "U1", Role: model.RoleUser})
	}
	return t
}

func (t *fakeTransport) push(channel string, p events.Payload) {
	b, err := events.Encode(channel, p, time.Now())
	if err != nil {
		panic(err)
	}
	select {
	case t.recv <- b:
	default:
	}
}

func (t *fakeTransport) Send(b []byte) error {
	if !t.Connected() {
		return ErrNotConnected
	}
	f, err := events.ParseFrame(b)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.sent = append(t.sent, f)
	t.mu.Unlock()

	if t.echo {
		switch f.Event {
		case events.EventSubscribe:
			t.push("", events.Subscribed{Channel: f.Channel})
		case events.EventPing:
			t.push("", events.Pong{Timestamp: time.Now()})
		}
	}
	return nil
}

func (t *fakeTransport) Receive() ([]byte, error) {
	select {
	case b := <-t.recv:
		return b, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) Connected() bool {
	select {
	case <-t.closed:
		return false
	default:
		return true
	}
}

func (t *fakeTransport) subscribes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, f := range t.sent {
		if f.Event == events.EventSubscribe {
			out = append(out, f.Channel)
		}
	}
	return out
}

// fakeDialer hands out fakeTransports. fail, when set, decides whether
// dial number n (1 based) fails.
type fakeDialer struct {
	mu         sync.Mutex
	dials      int
	transports []*fakeTransport
	fail       func(n int) error
	noConfirm  bool
	echo       bool
}

func (d *fakeDialer) Dial(ctx context.Context, url, token string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail != nil {
		if err := d.fail(d.dials); err != nil {
			return nil, err
		}
	}
	t := newFakeTransport(!d.noConfirm, d.echo)
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) setFail(fn func(int) error) {
	d.mu.Lock()
	d.fail = fn
	d.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg ManagerConfig, d *fakeDialer) *Manager {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = "ws://test/v1/ws"
	}
	cfg.Token = "tok"
	m := NewManager(cfg, d, WithLogger(quietLogger()))
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.n, time.Second, 30*time.Second); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestManagerConfig_Defaults(t *testing.T) {
	c := ManagerConfig{}.withDefaults()
	if c.MaxAttempts != 5 || c.BaseDelay != time.Second || c.MaxDelay != 30*time.Second {
		t.Errorf("defaults = %+v", c)
	}
	if c.ConnectTimeout != 10*time.Second || c.PingInterval != 25*time.Second || c.PongTimeout != 60*time.Second {
		t.Errorf("defaults = %+v", c)
	}
}

func TestManager_ConnectAndDeliver(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{}, d)

	var mu sync.Mutex
	var transitions []string
	m.OnStateChange(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
	})

	got := make(chan events.LoanStatusChanged, 1)
	m.On(events.EventLoanStatus, func(p events.Payload) {
		got <- p.(events.LoanStatusChanged)
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !m.IsConnected() {
		t.Fatalf("state = %s, want connected", m.State())
	}

	d.last().push("user:U1", events.LoanStatusChanged{LoanID: "L1", UserID: "U1", Status: model.LoanApproved})
	select {
	case p := <-got:
		if p.LoanID != "L1" || p.Status != model.LoanApproved {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler not called")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"disconnected->connecting", "connecting->connected"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestManager_ConnectTwiceIsNoop(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{}, d)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
}

func TestManager_ConnectAuthError(t *testing.T) {
	d := &fakeDialer{fail: func(int) error {
		return &model.AuthError{Reason: "token expired"}
	}}
	m := newTestManager(t, ManagerConfig{}, d)

	err := m.Connect(context.Background())
	var ae *model.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Connect error = %v, want *model.AuthError", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
}

func TestManager_DialErrorIsTransportError(t *testing.T) {
	d := &fakeDialer{fail: func(int) error { return errors.New("connection refused") }}
	m := newTestManager(t, ManagerConfig{}, d)

	err := m.Connect(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Connect error = %v, want *TransportError", err)
	}
	if te.Op != "dial" {
		t.Errorf("Op = %q, want dial", te.Op)
	}
}

func TestManager_HandshakeTimeout(t *testing.T) {
	d := &fakeDialer{noConfirm: true}
	m := newTestManager(t, ManagerConfig{ConnectTimeout: 50 * time.Millisecond}, d)

	err := m.Connect(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Connect error = %v, want *TransportError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect error = %v, want deadline exceeded", err)
	}
	if d.last().Connected() {
		t.Error("transport left open after handshake timeout")
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
}

func TestManager_ReconnectKeepsHandlersAndSubscriptions(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{BaseDelay: 10 * time.Millisecond}, d)

	var count atomic.Int32
	m.On(events.EventMarketplaceUpdate, func(events.Payload) { count.Add(1) })

	if err := m.Subscribe("marketplace"); err != nil {
		t.Fatalf("Subscribe while disconnected: %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := d.last()
	waitFor(t, "first subscribe", func() bool { return len(first.subscribes()) == 1 })

	var notices []Notice
	var nmu sync.Mutex
	m.OnNotice(func(n Notice) {
		nmu.Lock()
		notices = append(notices, n)
		nmu.Unlock()
	})

	_ = first.Close()
	waitFor(t, "redial", func() bool { return d.count() == 2 && m.IsConnected() })

	second := d.last()
	waitFor(t, "resubscribe", func() bool { return len(second.subscribes()) == 1 })
	if got := second.subscribes()[0]; got != "marketplace" {
		t.Errorf("resubscribed to %q, want marketplace", got)
	}
	if m.ReconnectAttempts() != 0 {
		t.Errorf("attempts after reconnect = %d, want 0", m.ReconnectAttempts())
	}

	second.push("marketplace", events.MarketplaceUpdate{Type: events.UpdateRepayment, LoanID: "L1"})
	waitFor(t, "handler after reconnect", func() bool { return count.Load() == 1 })

	nmu.Lock()
	defer nmu.Unlock()
	if len(notices) == 0 || notices[0].Persistent {
		t.Errorf("notices = %+v, want one transient drop notice", notices)
	}
}

func TestManager_ExhaustionFailsThenManualConnect(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, d)

	persistent := make(chan Notice, 1)
	m.OnNotice(func(n Notice) {
		if n.Persistent {
			persistent <- n
		}
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	d.setFail(func(int) error { return errors.New("server down") })
	_ = d.last().Close()

	select {
	case n := <-persistent:
		var re *ReconnectExhausted
		if !errors.As(n.Err, &re) {
			t.Fatalf("notice err = %v, want *ReconnectExhausted", n.Err)
		}
		if re.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", re.Attempts)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no persistent notice")
	}
	waitFor(t, "failed state", func() bool { return m.State() == StateFailed })
	if d.count() != 4 {
		t.Errorf("dials = %d, want 4", d.count())
	}

	// Stays failed until asked.
	time.Sleep(20 * time.Millisecond)
	if d.count() != 4 {
		t.Errorf("dials after failure = %d, want 4", d.count())
	}

	d.setFail(nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("manual Connect: %v", err)
	}
	if !m.IsConnected() || m.ReconnectAttempts() != 0 {
		t.Errorf("state = %s attempts = %d", m.State(), m.ReconnectAttempts())
	}
}

func TestManager_AuthFailureDuringReconnectFailsImmediately(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{BaseDelay: time.Millisecond}, d)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	d.setFail(func(int) error { return &model.AuthError{Reason: "token expired"} })
	_ = d.last().Close()

	waitFor(t, "failed state", func() bool { return m.State() == StateFailed })
	if d.count() != 2 {
		t.Errorf("dials = %d, want 2", d.count())
	}
}

func TestManager_DisconnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{BaseDelay: 200 * time.Millisecond}, d)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = d.last().Close()
	waitFor(t, "reconnecting", func() bool { return m.State() == StateReconnecting })

	m.Disconnect()
	time.Sleep(300 * time.Millisecond)

	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
}

func TestManager_DisconnectFromDropNoticeWins(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{BaseDelay: time.Millisecond}, d)
	m.OnNotice(func(n Notice) {
		if !n.Persistent {
			m.Disconnect()
		}
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_ = d.last().Close()
	waitFor(t, "disconnected", func() bool { return m.State() == StateDisconnected })
	time.Sleep(50 * time.Millisecond)

	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
}

func TestManager_DisconnectFromStateCallbackWins(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{BaseDelay: time.Millisecond}, d)
	m.OnStateChange(func(_, to State) {
		if to == StateReconnecting {
			m.Disconnect()
		}
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_ = d.last().Close()
	waitFor(t, "disconnected", func() bool { return m.State() == StateDisconnected })
	time.Sleep(50 * time.Millisecond)

	if d.count() != 1 || m.State() != StateDisconnected {
		t.Errorf("dials = %d state = %s", d.count(), m.State())
	}
}

func TestManager_DisconnectDuringRedialDiscardsConnection(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{BaseDelay: time.Millisecond}, d)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var notices atomic.Int32
	m.OnNotice(func(Notice) { notices.Add(1) })
	d.setFail(func(n int) error {
		if n == 2 {
			m.Disconnect()
		}
		return nil
	})

	_ = d.last().Close()
	waitFor(t, "redial", func() bool { return d.count() == 2 })
	time.Sleep(50 * time.Millisecond)

	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
	if d.count() != 2 {
		t.Errorf("dials = %d, want 2", d.count())
	}
	if !waitClosed(d.last()) {
		t.Error("transport dialed before Disconnect was left open")
	}
	if got := notices.Load(); got != 1 {
		t.Errorf("notices = %d, want only the drop notice", got)
	}
}

func waitClosed(ft *fakeTransport) bool {
	select {
	case <-ft.closed:
		return true
	case <-time.After(time.Second):
		return false
	}
}

func TestManager_DisconnectIsNotADrop(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{BaseDelay: time.Millisecond}, d)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.Disconnect()
	time.Sleep(20 * time.Millisecond)
	if d.count() != 1 || m.State() != StateDisconnected {
		t.Errorf("dials = %d state = %s", d.count(), m.State())
	}
}

func TestManager_HandlerPanicIsolatedAndOff(t *testing.T) {
	d := &fakeDialer{echo: true}
	m := newTestManager(t, ManagerConfig{}, d)

	var calls atomic.Int32
	m.On(events.EventKYCStatus, func(events.Payload) { panic("boom") })
	id := m.On(events.EventKYCStatus, func(events.Payload) { calls.Add(1) })
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tr := d.last()
	tr.push("user:U1", events.KYCStatusChanged{UserID: "U1", Status: model.KYCApproved})
	waitFor(t, "second handler", func() bool { return calls.Load() == 1 })

	m.Off(events.EventKYCStatus, id)
	tr.push("user:U1", events.KYCStatusChanged{UserID: "U1", Status: model.KYCApproved})
	// A pong after the event proves the read loop moved past it.
	pongs := make(chan struct{}, 1)
	m.On(events.EventPong, func(events.Payload) { pongs <- struct{}{} })
	if err := m.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	select {
	case <-pongs:
	case <-time.After(3 * time.Second):
		t.Fatal("no pong")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d after Off, want 1", calls.Load())
	}
	if !m.IsConnected() {
		t.Error("panicking handler broke the connection")
	}
}

func TestManager_LivenessDetectsSilentServer(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, ManagerConfig{
		PingInterval: 10 * time.Millisecond,
		PongTimeout:  30 * time.Millisecond,
		BaseDelay:    time.Hour,
	}, d)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "reconnecting", func() bool { return m.State() == StateReconnecting })
	d.mu.Lock()
	first := d.transports[0]
	d.mu.Unlock()
	if first.Connected() {
		t.Error("silent transport not closed")
	}
}

func TestManager_UnsubscribeAndPingWhileDisconnected(t *testing.T) {
	m := newTestManager(t, ManagerConfig{}, &fakeDialer{})
	_ = m.Subscribe("loans")
	_ = m.Subscribe("marketplace")
	if err := m.Unsubscribe("loans"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if got := m.Subscriptions(); len(got) != 1 || got[0] != "marketplace" {
		t.Errorf("Subscriptions = %v", got)
	}
	err := m.Ping()
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping error = %v, want ErrNotConnected", err)
	}
}

func TestManager_ConnectAfterClose(t *testing.T) {
	m := NewManager(ManagerConfig{URL: "ws://x"}, &fakeDialer{}, WithLogger(quietLogger()))
	m.Close()
	if err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestState_String(t *testing.T) {
	if StateReconnecting.String() != "reconnecting" || State(99).String() != "unknown" {
		t.Error("State.String mismatch")
	}
}
