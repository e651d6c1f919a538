// Package dispatch fans events out to the connections subscribed to a
// channel.
//
// Delivery is best-effort and decoupled from whatever produced the event:
// a failure on one connection is logged and counted, never returned, and
// never stops delivery to the others. A single mutex serializes the
// dispatch path so every subscriber sees events on a channel in the order
// Publish was called. Sinks are non-blocking, so the lock is never held
// across network I/O.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/metrics"
	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/registry"
)

// Publisher is what event producers depend on.
type Publisher interface {
	Publish(ctx context.Context, channel string, p events.Payload, opts ...Option)
}

// TargetSource resolves channel members at call time.
type TargetSource interface {
	Targets(channel string) []registry.Target
}

// Option adjusts a single Publish call.
type Option func(*Options)

// Options is the resolved form of a Publish call's options.
type Options struct {
	AdminsOnly bool
}

// AdminsOnly restricts delivery to channel members with the admin role.
func AdminsOnly() Option {
	return func(o *Options) { o.AdminsOnly = true }
}

// ResolveOptions applies opts to a zero Options.
func ResolveOptions(opts ...Option) Options {
	var o Options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Dispatcher is the single publish path.
type Dispatcher struct {
	mu      sync.Mutex
	targets TargetSource
	mirror  events.Publisher
	metrics *metrics.Recorder
	now     func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMirror copies every encoded frame to pub under events.Subject(name).
func WithMirror(pub events.Publisher) DispatcherOption {
	return func(d *Dispatcher) { d.mirror = pub }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(r *metrics.Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = r }
}

// WithClock overrides the emittedAt time source.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher reading membership from src.
func New(src TargetSource, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		targets: src,
		mirror:  events.NoopPublisher{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Publish encodes p once and offers it to every current member of channel.
func (d *Dispatcher) Publish(ctx context.Context, channel string, p events.Payload, opts ...Option) {
	po := ResolveOptions(opts...)
	name := p.EventName()

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	targets := d.targets.Targets(channel)

	frame, err := events.Encode(channel, p, d.now().UTC())
	if err != nil {
		for _, t := range targets {
			d.fail(&model.DeliveryFailure{ConnectionID: t.ID, Event: name, Channel: channel, Err: err})
		}
		return
	}

	delivered := 0
	for _, t := range targets {
		if po.AdminsOnly && !t.Identity.IsAdmin() {
			continue
		}
		if err := t.Sink.Send(frame); err != nil {
			d.fail(&model.DeliveryFailure{ConnectionID: t.ID, Event: name, Channel: channel, Err: err})
			continue
		}
		delivered++
		d.metrics.ObserveDelivery(name, true)
	}

	if err := d.mirror.Publish(ctx, events.Subject(name), frame); err != nil {
		slog.Warn("dispatch: mirror publish failed", "event", name, "channel", channel, "err", err)
	}

	d.metrics.ObservePublished(name, time.Since(start))
	slog.Debug("dispatch: event published",
		"event", name,
		"channel", channel,
		"admins_only", po.AdminsOnly,
		"targets", len(targets),
		"delivered", delivered)
}

func (d *Dispatcher) fail(f *model.DeliveryFailure) {
	slog.Warn("dispatch: delivery failed",
		"conn", f.ConnectionID,
		"event", f.Event,
		"channel", f.Channel,
		"err", f.Err)
	d.metrics.ObserveDelivery(f.Event, false)
}
