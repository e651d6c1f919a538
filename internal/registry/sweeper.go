package registry

import (
	"log/slog"
	"time"
)

// SweeperConfig configures the idle-connection sweeper.
type SweeperConfig struct {
	// IdleThreshold is how long a connection may go without inbound traffic
	// before its transport is closed. Default: 2 minutes.
	IdleThreshold time.Duration

	// SweepInterval is how often connections are scanned. Default: 30 seconds.
	SweepInterval time.Duration

	// OnClosed is called for each connection whose sink was closed.
	// Called outside the lock.
	OnClosed func(connID, userID string)
}

// StartSweeper launches a goroutine that closes the sinks of idle
// connections. It never removes records itself: closing the sink ends the
// transport's read loop, which calls Unregister. Call Stop to shut it down.
func (r *Registry) StartSweeper(cfg *SweeperConfig) {
	if cfg == nil {
		cfg = &SweeperConfig{}
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 2 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	r.reaperStop = make(chan struct{})
	r.reaperDone = make(chan struct{})

	go r.sweepLoop(cfg)
	slog.Info("registry: sweeper started",
		"idle_threshold", cfg.IdleThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the sweeper goroutine.
func (r *Registry) Stop() {
	if r.reaperStop != nil {
		close(r.reaperStop)
		<-r.reaperDone
		r.reaperStop = nil
		r.reaperDone = nil
	}
}

func (r *Registry) sweepLoop(cfg *SweeperConfig) {
	defer close(r.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.reaperStop:
			return
		case <-ticker.C:
			r.sweep(cfg)
		}
	}
}

func (r *Registry) sweep(cfg *SweeperConfig) {
	now := r.now()

	type idle struct {
		id, userID string
		sink       Sink
	}
	var stale []idle

	r.mu.RLock()
	for id, c := range r.conns {
		if now.Sub(c.lastSeen) > cfg.IdleThreshold {
			stale = append(stale, idle{id: id, userID: c.identity.UserID, sink: c.sink})
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		slog.Info("registry: closing idle connection",
			"conn", s.id,
			"user", s.userID,
			"threshold", cfg.IdleThreshold)
		_ = s.sink.Close()
		if cfg.OnClosed != nil {
			cfg.OnClosed(s.id, s.userID)
		}
	}
}
