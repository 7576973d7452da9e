package sync

import (
	"context"
	"errors"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/calsnap/calsnap/internal/config"
)

// NextRun computes the next trigger instant: now plus the cadence, pushed to
// the end of the quiet window if it would land inside one. Wrapping windows
// (start > end) span midnight.
func NextRun(now time.Time, cadence time.Duration, quiet *config.QuietHours) time.Time {
	next := now.Add(cadence)
	if quiet != nil && quiet.Contains(next.Hour()) {
		next = quiet.EndAfter(next)
	}
	return next
}

// Scheduler owns the periodic sync trigger. It wraps a cron runner with a
// single entry whose schedule applies the cadence and quiet-hours rules, so
// repeated Schedule calls replace the pending trigger instead of stacking
// duplicates.
type Scheduler struct {
	engine *Engine
	log    *slog.Logger
	cron   *cron.Cron

	mu    stdsync.Mutex
	entry cron.EntryID
}

// NewScheduler creates a stopped Scheduler for the given engine.
func NewScheduler(engine *Engine, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine: engine,
		log:    logger,
		cron:   cron.New(),
	}
}

// Start begins firing scheduled triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the trigger loop. The returned context is done once any running
// job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Schedule registers (or replaces) the periodic trigger. Idempotent: calling
// it repeatedly leaves exactly one pending trigger.
func (s *Scheduler) Schedule(cadence time.Duration, quiet *config.QuietHours) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = s.cron.Schedule(
		cadenceSchedule{cadence: cadence, quiet: quiet},
		cron.FuncJob(s.fire),
	)

	next := NextRun(time.Now(), cadence, quiet)
	s.engine.markScheduled(next)
	s.log.Info("sync scheduled", "cadence", cadence, "next_run", next)
}

// CancelScheduled removes the pending trigger. Idempotent.
func (s *Scheduler) CancelScheduled() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
		s.log.Info("scheduled sync cancelled")
	}
}

// fire runs one scheduled sync, with retries when the configuration enables
// them, then re-arms the SCHEDULED state for the next trigger.
func (s *Scheduler) fire() {
	ctx := context.Background()

	cfg, err := s.engine.config.LoadConfig()
	if err != nil {
		s.log.Error("loading config for scheduled sync", "error", err)
		return
	}
	if !cfg.Enabled {
		s.log.Info("sync disabled, skipping scheduled run")
		return
	}

	if cfg.Retry.Enabled {
		_, err = s.engine.RunSyncWithRetry(ctx, cfg.Retry.MaxRetries)
	} else {
		_, err = s.engine.RunSync(ctx, false)
	}
	switch {
	case err == nil:
		s.engine.markScheduled(NextRun(time.Now(), cfg.Cadence(), cfg.QuietHours))
	case errors.Is(err, ErrAlreadyInProgress):
		s.log.Info("scheduled sync skipped, attempt already running")
	default:
		s.log.Error("scheduled sync failed", "error", err)
	}
}

// cadenceSchedule adapts the cadence + quiet-hours rules to cron's Schedule
// interface.
type cadenceSchedule struct {
	cadence time.Duration
	quiet   *config.QuietHours
}

func (c cadenceSchedule) Next(t time.Time) time.Time {
	return NextRun(t, c.cadence, c.quiet)
}
