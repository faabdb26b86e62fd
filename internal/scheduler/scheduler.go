// Package scheduler runs periodic maintenance with robfig/cron: it re-enqueues
// uploads that stayed pending past a threshold and evicts idle rate-limiter
// entries.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"clinicledger/internal/config"
)

// PendingSweeper re-enqueues pending uploads created before olderThan.
type PendingSweeper interface {
	EnqueuePending(ctx context.Context, olderThan time.Time) (int, error)
}

// Cleaner evicts idle entries and reports how many were removed.
type Cleaner interface {
	Cleanup() int
}

// Scheduler manages background maintenance jobs.
type Scheduler struct {
	cron    *cron.Cron
	cfg     config.SchedulerConfig
	sweeper PendingSweeper
	cleaner Cleaner
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a scheduler. cleaner may be nil when rate limiting is disabled.
func New(cfg config.SchedulerConfig, sweeper PendingSweeper, cleaner Cleaner, logger *slog.Logger) *Scheduler {
	c := cron.New(
		cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		cron:    c,
		cfg:     cfg,
		sweeper: sweeper,
		cleaner: cleaner,
		logger:  logger.With(slog.String("component", "scheduler")),
		now:     time.Now,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.PendingSweepSpec, s.SweepPending); err != nil {
		return err
	}
	if s.cleaner != nil {
		if _, err := s.cron.AddFunc("@every 10m", s.cleanupLimiter); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop stops scheduling; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// SweepPending enqueues uploads left pending longer than the configured threshold.
func (s *Scheduler) SweepPending() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	olderThan := s.now().Add(-s.cfg.StalePendingAfter)
	n, err := s.sweeper.EnqueuePending(ctx, olderThan)
	if err != nil {
		s.logger.ErrorContext(ctx, "pending sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "re-enqueued stale uploads", slog.Int("count", n))
	}
}

func (s *Scheduler) cleanupLimiter() {
	if n := s.cleaner.Cleanup(); n > 0 {
		s.logger.Debug("evicted idle rate limiters", slog.Int("count", n))
	}
}
