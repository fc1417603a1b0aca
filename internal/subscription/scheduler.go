package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultLifetime is the requested subscription lifetime. It is kept
	// short so a lost renewal leaves a calendar stale only briefly.
	DefaultLifetime = 3 * time.Minute

	// DefaultSafetyMargin is subtracted from the lifetime to schedule
	// renewal strictly before expiry.
	DefaultSafetyMargin = 30 * time.Second
)

// SweepInterval returns the renewal period for a subscription lifetime.
// The two values must always be changed together.
func SweepInterval(lifetime, margin time.Duration) (time.Duration, error) {
	if lifetime <= 0 {
		return 0, fmt.Errorf("subscription lifetime must be positive, got %s", lifetime)
	}
	if margin <= 0 || margin >= lifetime {
		return 0, fmt.Errorf("safety margin %s must be positive and shorter than lifetime %s", margin, lifetime)
	}
	return lifetime - margin, nil
}

// Scheduler runs the renewal sweep on a fixed period.
type Scheduler struct {
	cron     *cron.Cron
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	entryID cron.EntryID
	running bool
}

// NewScheduler creates a sweep scheduler. Overlapping sweeps are skipped
// rather than queued.
func NewScheduler(manager *Manager, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		manager:  manager,
		interval: interval,
		logger:   logger.With("component", "sweep"),
	}
}

// Start schedules the sweep and starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	entryID, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		s.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}

	s.entryID = entryID
	s.running = true
	s.cron.Start()
	s.logger.Info("subscription sweep scheduled", "interval", s.interval)
	return nil
}

// Every schedules an auxiliary job alongside the sweep.
func (s *Scheduler) Every(ctx context.Context, interval time.Duration, name string, fn func(context.Context)) error {
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		start := time.Now()
		fn(ctx)
		s.logger.Debug("scheduled job completed", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for a running sweep.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info("subscription sweep stopped")
}

// NextRun returns the next scheduled sweep time, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return nil
	}
	entry := s.cron.Entry(s.entryID)
	if entry.Next.IsZero() {
		return nil
	}
	return &entry.Next
}

// Interval returns the sweep period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) sweep(ctx context.Context) {
	start := time.Now()
	if err := s.manager.Sweep(ctx); err != nil {
		s.logger.Warn("subscription sweep completed with errors", "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Debug("subscription sweep completed", "duration", time.Since(start))
}
