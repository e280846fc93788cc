// Package cron provides the background retention sweep that permanently
// purges soft-deleted tasks once they age past the configured window.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/taskdeck/internal/registry"
)

// Config holds the dependencies for the retention scheduler.
type Config struct {
	Manager  *registry.Manager
	Logger   *slog.Logger
	Schedule string        // cron expression; defaults to @hourly
	MaxAge   time.Duration // soft-deleted tasks older than this are purged
}

// Scheduler runs the retention sweep across every open workspace store
// on a cron schedule.
type Scheduler struct {
	manager  *registry.Manager
	logger   *slog.Logger
	schedule cronlib.Schedule
	maxAge   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config. An
// unparseable schedule is an error; callers validate at config load.
func NewScheduler(cfg Config) (*Scheduler, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = "@hourly"
	}
	sched, err := cronlib.ParseStandard(expr)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		manager:  cfg.Manager,
		logger:   logger,
		schedule: sched,
		maxAge:   cfg.MaxAge,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("retention scheduler started", "max_age", s.maxAge)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("retention scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	// Sweep immediately on startup, then on each scheduled fire.
	s.Sweep(ctx)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep purges expired soft-deleted tasks from every open store. It is
// safe to call concurrently with live tool traffic; each store's purge
// runs in its own transaction.
func (s *Scheduler) Sweep(ctx context.Context) {
	if s.maxAge <= 0 {
		return
	}
	for key, store := range s.manager.OpenStores() {
		purged, err := store.PurgeDeleted(ctx, s.maxAge)
		if err != nil {
			s.logger.Error("retention sweep failed", "workspace_key", key, "error", err)
			continue
		}
		if purged > 0 {
			s.logger.Info("retention sweep purged tasks", "workspace_key", key, "purged", purged)
		}
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronlib.ParseStandard(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
