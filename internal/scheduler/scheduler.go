// Package scheduler launches scheduled campaigns once their time has come
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/foxzi/mailcast/internal/dispatch"
	"github.com/foxzi/mailcast/internal/lock"
	"github.com/foxzi/mailcast/internal/metrics"
	"github.com/foxzi/mailcast/internal/models"
)

// DefaultInterval is the poll interval when none is configured
const DefaultInterval = 60 * time.Second

// CampaignSource lists campaigns that are due
type CampaignSource interface {
	ListDue(ctx context.Context, now time.Time) ([]*models.Campaign, error)
}

// Launcher starts a campaign run without waiting for it
type Launcher interface {
	StartScheduled(ctx context.Context, campaignID, baseURL string) error
}

// Config holds scheduler settings
type Config struct {
	Interval time.Duration
	LockFile string // empty disables the cross-process lock
	BaseURL  string // passed to runs for tracking URLs
}

// Scheduler polls for due campaigns on a fixed interval
type Scheduler struct {
	source   CampaignSource
	launcher Launcher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	lock   *lock.Lock
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler
func New(source CampaignSource, launcher Launcher, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		source:   source,
		launcher: launcher,
		cfg:      cfg,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start takes the scheduler lock and begins polling.
// It returns lock.ErrLocked when another process already runs a scheduler.
func (s *Scheduler) Start() error {
	if s.cfg.LockFile != "" {
		l, err := lock.TryAcquire(s.cfg.LockFile)
		if err != nil {
			if errors.Is(err, lock.ErrLocked) {
				s.logger.Warn("scheduler lock held elsewhere, not starting", "lock_file", s.cfg.LockFile)
			}
			return err
		}
		s.lock = l
	}

	s.wg.Add(1)
	go s.run()
	s.logger.Info("scheduler started", "interval", s.cfg.Interval)
	return nil
}

// Stop stops polling and releases the lock. Runs already launched are not affected.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	if err := s.lock.Release(); err != nil {
		s.logger.Warn("failed to release scheduler lock", "error", err)
	}
	s.logger.Info("scheduler stopped")
}

// run polls once right away, then on every tick
func (s *Scheduler) run() {
	defer s.wg.Done()

	s.tick()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one poll; errors and panics are logged and do not stop the loop
func (s *Scheduler) tick() {
	var pc panics.Catcher
	pc.Try(func() {
		launched, err := s.Poll(s.ctx)
		metrics.IncSchedulerPoll(err, launched)
		if err != nil {
			s.logger.Error("scheduler poll failed", "error", err)
		}
	})
	if rec := pc.Recovered(); rec != nil {
		metrics.IncSchedulerPoll(fmt.Errorf("panic: %v", rec.Value), 0)
		s.logger.Error("scheduler poll panicked", "panic", rec.Value, "stack", string(rec.Stack))
	}
}

// Poll hands every due campaign to the launcher and returns how many were launched
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	due, err := s.source.ListDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list due campaigns: %w", err)
	}

	launched := 0
	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		err := s.launcher.StartScheduled(ctx, c.ID, s.cfg.BaseURL)
		switch {
		case err == nil:
			launched++
			s.logger.Info("scheduled campaign launched", "campaign_id", c.ID, "scheduled_at", c.ScheduledAt)
		case errors.Is(err, dispatch.ErrAlreadyRunning):
			s.logger.Debug("scheduled campaign already running", "campaign_id", c.ID)
		default:
			s.logger.Error("failed to launch scheduled campaign", "campaign_id", c.ID, "error", err)
		}
	}
	return launched, nil
}
