// Package registry tracks live WebSocket connections and their channel
// memberships.
//
// A Connection is created by Register once the transport has authenticated
// and is destroyed by Unregister when the transport's read loop exits. Every
// connection is a member of its owner's private channel for its whole life;
// topic channels are joined and left with Subscribe and Unsubscribe.
//
// One RWMutex guards the connection map and the channel index together, so
// readers (the dispatcher) never observe a membership that is half applied.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/idgen"
	"github.com/alfredjeanlab/lendbus/internal/model"
)

// ErrTransportClosed is returned by Register when the sink is already closed.
var ErrTransportClosed = errors.New("transport closed")

// Sink is the outbound side of a connection's transport. Send must not
// block: implementations queue the frame for a write pump and return an
// error when the queue is full or the transport is gone.
type Sink interface {
	Send(frame []byte) error
	Close() error
	Closed() bool
}

// Target is a dispatch snapshot of one member of a channel.
type Target struct {
	ID       string
	Identity model.Identity
	Sink     Sink
}

// Entry is a roster row for the admin connections view.
type Entry struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Role        model.Role `json:"role"`
	Channels    []string   `json:"channels"`
	ConnectedAt time.Time  `json:"connected_at"`
	LastSeen    time.Time  `json:"last_seen"`
	IdleSecs    float64    `json:"idle_secs"`
}

// Registry is the connection and membership index.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	channels map[string]map[string]struct{} // channel -> connection ids

	newID func() (string, error)
	now   func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type connection struct {
	identity    model.Identity
	sink        Sink
	channels    map[string]struct{}
	connectedAt time.Time
	lastSeen    time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns:    make(map[string]*connection),
		channels: make(map[string]map[string]struct{}),
		newID:    idgen.Connection,
		now:      time.Now,
	}
}

// Greeting builds the first frame a new connection receives.
type Greeting func(connID string) ([]byte, error)

// Register records a connection for an authenticated identity and joins it
// to the identity's private channel.
func (r *Registry) Register(id model.Identity, sink Sink) (string, error) {
	return r.RegisterGreeted(id, sink, nil)
}

// RegisterGreeted is Register with a greeting frame. The greeting is queued
// on the sink before the connection becomes visible to Targets, so nothing
// published to its channels can overtake it.
func (r *Registry) RegisterGreeted(id model.Identity, sink Sink, greet Greeting) (string, error) {
	if sink == nil || sink.Closed() {
		return "", ErrTransportClosed
	}
	connID, err := r.newID()
	if err != nil {
		return "", err
	}
	var hello []byte
	if greet != nil {
		if hello, err = greet(connID); err != nil {
			return "", fmt.Errorf("building greeting: %w", err)
		}
	}

	now := r.now()
	c := &connection{
		identity:    id,
		sink:        sink,
		channels:    make(map[string]struct{}),
		connectedAt: now,
		lastSeen:    now,
	}

	r.mu.Lock()
	if hello != nil {
		if err := sink.Send(hello); err != nil {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}
	}
	r.conns[connID] = c
	r.join(connID, c, model.PrivateChannel(id.UserID))
	r.mu.Unlock()

	slog.Info("registry: connection registered", "conn", connID, "user", id.UserID, "role", id.Role)
	return connID, nil
}

// Unregister removes a connection and all of its memberships. Unknown ids
// are ignored so transports can call it unconditionally on exit.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if ok {
		for ch := range c.channels {
			r.leave(connID, c, ch)
		}
		delete(r.conns, connID)
	}
	r.mu.Unlock()

	if ok {
		slog.Info("registry: connection unregistered", "conn", connID, "user", c.identity.UserID)
	}
}

// Subscribe joins a connection to channel. Joining twice is a no-op.
func (r *Registry) Subscribe(connID, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.authorize(connID, channel)
	if err != nil {
		return err
	}
	r.join(connID, c, channel)
	return nil
}

// Unsubscribe removes a connection from channel. Leaving a channel that was
// never joined is a no-op.
func (r *Registry) Unsubscribe(connID, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.authorize(connID, channel)
	if err != nil {
		return err
	}
	r.leave(connID, c, channel)
	return nil
}

// authorize must be called with mu held.
func (r *Registry) authorize(connID, channel string) (*connection, error) {
	c, ok := r.conns[connID]
	if !ok {
		return nil, model.ErrNotFound
	}
	kind, owner := model.ParseChannel(channel)
	switch kind {
	case model.ChannelTopic:
		return c, nil
	case model.ChannelPrivate:
		if owner != c.identity.UserID {
			return nil, &model.Unauthorized{Actor: c.identity.UserID, Action: "subscribe to " + channel}
		}
		return c, nil
	default:
		return nil, model.NewValidationError("channel", "unknown channel "+channel)
	}
}

func (r *Registry) join(connID string, c *connection, channel string) {
	c.channels[channel] = struct{}{}
	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		r.channels[channel] = members
	}
	members[connID] = struct{}{}
}

func (r *Registry) leave(connID string, c *connection, channel string) {
	delete(c.channels, channel)
	if members, ok := r.channels[channel]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
}

// ConnectionsFor returns the ids currently subscribed to channel, sorted.
func (r *Registry) ConnectionsFor(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.channels[channel]))
	for id := range r.channels[channel] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Targets snapshots the members of channel with their sinks.
func (r *Registry) Targets(channel string) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channel]
	targets := make([]Target, 0, len(members))
	for id := range members {
		c := r.conns[id]
		targets = append(targets, Target{ID: id, Identity: c.identity, Sink: c.sink})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	return targets
}

// Channels returns the channels a connection is a member of.
func (r *Registry) Channels(connID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return sortedKeys(c.channels), nil
}

// Touch refreshes a connection's liveness timestamp.
func (r *Registry) Touch(connID string) {
	now := r.now()
	r.mu.Lock()
	if c, ok := r.conns[connID]; ok {
		c.lastSeen = now
	}
	r.mu.Unlock()
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Roster returns a snapshot of all live connections, most recently active first.
func (r *Registry) Roster() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	entries := make([]Entry, 0, len(r.conns))
	for id, c := range r.conns {
		entries = append(entries, Entry{
			ID:          id,
			UserID:      c.identity.UserID,
			Role:        c.identity.Role,
			Channels:    sortedKeys(c.channels),
			ConnectedAt: c.connectedAt,
			LastSeen:    c.lastSeen,
			IdleSecs:    now.Sub(c.lastSeen).Seconds(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

// CloseAll closes every live sink. Records are removed as each transport's
// read loop exits.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.conns))
	for _, c := range r.conns {
		sinks = append(sinks, c.sink)
	}
	r.mu.RUnlock()

	for _, s := range sinks {
		_ = s.Close()
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
