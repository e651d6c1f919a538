package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/registry"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []events.Frame
	err    error
}

func (s *recordingSink) Send(frame []byte) error {
	if s.err != nil {
		return s.err
	}
	f, err := events.ParseFrame(frame)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close() error { return nil }
func (s *recordingSink) Closed() bool { return false }

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Event
	}
	return out
}

type recordingMirror struct {
	mu       sync.Mutex
	subjects []string
}

func (m *recordingMirror) Publish(_ context.Context, topic string, _ any) error {
	m.mu.Lock()
	m.subjects = append(m.subjects, topic)
	m.mu.Unlock()
	return nil
}

func (m *recordingMirror) Close() error { return nil }

func connect(t *testing.T, reg *registry.Registry, id model.Identity, channels ...string) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	connID, err := reg.Register(id, sink)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, ch := range channels {
		if err := reg.Subscribe(connID, ch); err != nil {
			t.Fatalf("Subscribe(%s): %v", ch, err)
		}
	}
	return sink
}

func TestPublish_ChannelIsolation(t *testing.T) {
	reg := registry.New()
	d := New(reg)
	ctx := context.Background()

	// first: subscribed to loans. second: only its own private channel.
	first := connect(t, reg, model.Identity{UserID: "u-loans", Role: model.RoleUser}, model.ChannelLoans)
	second := connect(t, reg, model.Identity{UserID: "u-2", Role: model.RoleUser})

	d.Publish(ctx, model.PrivateChannel("u-2"), events.LoanStatusChanged{LoanID: "ln-1", UserID: "u-2", Status: model.LoanApproved})
	d.Publish(ctx, model.ChannelLoans, events.LoanNew{LoanID: "ln-2", UserID: "u-9"})

	if got := first.names(); !reflect.DeepEqual(got, []string{events.EventLoanNew}) {
		t.Errorf("loans subscriber got %v", got)
	}
	if got := second.names(); !reflect.DeepEqual(got, []string{events.EventLoanStatus}) {
		t.Errorf("private subscriber got %v", got)
	}
	if second.frames[0].Channel != "user:u-2" || second.frames[0].EmittedAt.IsZero() {
		t.Errorf("unexpected frame header %+v", second.frames[0])
	}
}

func TestPublish_AdminsOnly(t *testing.T) {
	reg := registry.New()
	d := New(reg)

	user := connect(t, reg, model.Identity{UserID: "u-1", Role: model.RoleUser}, model.ChannelLoans)
	admin := connect(t, reg, model.Identity{UserID: "a-1", Role: model.RoleAdmin}, model.ChannelLoans)

	d.Publish(context.Background(), model.ChannelLoans,
		events.AdminNotification{Type: events.NotifyLoanRequest, Message: "new loan"}, AdminsOnly())

	if len(user.names()) != 0 {
		t.Errorf("non-admin received admin notification: %v", user.names())
	}
	if got := admin.names(); !reflect.DeepEqual(got, []string{events.EventAdminNotification}) {
		t.Errorf("admin got %v", got)
	}
}

func TestPublish_FailureIsolation(t *testing.T) {
	reg := registry.New()
	d := New(reg)

	broken := &recordingSink{err: errors.New("buffer full")}
	if _, err := reg.Register(model.Identity{UserID: "u-0", Role: model.RoleUser}, broken); err != nil {
		t.Fatalf("Register: %v", err)
	}
	connIDs := reg.ConnectionsFor(model.PrivateChannel("u-0"))
	_ = reg.Subscribe(connIDs[0], model.ChannelMarketplace)

	healthy := connect(t, reg, model.Identity{UserID: "u-1", Role: model.RoleUser}, model.ChannelMarketplace)

	d.Publish(context.Background(), model.ChannelMarketplace, events.MarketplaceUpdate{Type: events.UpdateNewListing, LoanID: "ln-1"})

	if got := healthy.names(); len(got) != 1 {
		t.Fatalf("healthy subscriber got %v", got)
	}
}

func TestPublish_PerSubscriberOrder(t *testing.T) {
	reg := registry.New()
	d := New(reg)

	a := connect(t, reg, model.Identity{UserID: "u-a", Role: model.RoleUser}, model.ChannelLoans)
	b := connect(t, reg, model.Identity{UserID: "u-b", Role: model.RoleUser}, model.ChannelLoans)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d.Publish(context.Background(), model.ChannelLoans, events.LoanNew{LoanID: fmt.Sprintf("ln-%d-%d", w, i)})
			}
		}(w)
	}
	wg.Wait()

	ids := func(s *recordingSink) []string {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]string, len(s.frames))
		for i, f := range s.frames {
			p, err := events.Decode(f.Event, f.Data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			out[i] = p.(events.LoanNew).LoanID
		}
		return out
	}
	got1, got2 := ids(a), ids(b)
	if len(got1) != 200 {
		t.Fatalf("expected 200 frames, got %d", len(got1))
	}
	if !reflect.DeepEqual(got1, got2) {
		t.Error("subscribers observed different publish orders")
	}

	// Within one publisher goroutine, order must be preserved.
	last := map[string]int{}
	for _, id := range got1 {
		var w, i int
		fmt.Sscanf(id, "ln-%d-%d", &w, &i)
		key := fmt.Sprint(w)
		if prev, ok := last[key]; ok && i <= prev {
			t.Fatalf("publisher %d: %d delivered after %d", w, i, prev)
		}
		last[key] = i
	}
}

func TestPublish_MirrorsToSubject(t *testing.T) {
	reg := registry.New()
	mirror := &recordingMirror{}
	d := New(reg, WithMirror(mirror))

	d.Publish(context.Background(), model.ChannelLoans, events.LoanNew{LoanID: "ln-1"})
	d.Publish(context.Background(), model.PrivateChannel("u-1"), events.KYCStatusChanged{UserID: "u-1", Status: model.KYCApproved})

	want := []string{"lendbus.loan.new", "lendbus.kyc.status"}
	if !reflect.DeepEqual(mirror.subjects, want) {
		t.Errorf("mirror subjects = %v, want %v", mirror.subjects, want)
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	d := New(registry.New())
	d.Publish(context.Background(), model.ChannelMarketplace, events.MarketplaceUpdate{Type: events.UpdateRepayment})
}
