// Package sync periodically exports the loan ledger to external
// destinations such as S3.
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/metrics"
)

// Destination is the interface for an export target.
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	source       LoanSource
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
	metrics      *metrics.Recorder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from source to the given
// destinations at the specified interval. rec may be nil.
func NewScheduler(source LoanSource, destinations []Destination, interval time.Duration, logger *slog.Logger, rec *metrics.Recorder) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       source,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		metrics:      rec,
	}
}

// Start begins periodic export. It runs an initial export immediately,
// then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	_ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}

// RunOnce exports the ledger and writes it to every destination. A failing
// destination does not stop the others; all failures are joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.source, &buf); err != nil {
		s.logger.Error("export: ledger export failed", "err", err)
		s.metrics.ObserveExport(false)
		return err
	}
	data := buf.Bytes()

	var errs []error
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("export: destination write failed", "destination", i, "err", err)
			errs = append(errs, fmt.Errorf("destination %d: %w", i, err))
		}
	}

	err := errors.Join(errs...)
	s.metrics.ObserveExport(err == nil)
	if err == nil {
		s.logger.Info("export: completed", "destinations", len(s.destinations), "bytes", len(data))
	}
	return err
}
