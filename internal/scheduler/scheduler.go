// Package scheduler fires the daily sync and guards manual triggers so that at
// most one run is active at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
)

// DefaultSchedule is 03:00 UTC every day.
const DefaultSchedule = "CRON_TZ=UTC 0 3 * * *"

var ErrStopped = errors.New("scheduler stopped")

// Runner executes sync passes and bulk index uploads. Both share the
// single-flight guard.
type Runner interface {
	Run(ctx context.Context, trigger jobs.Trigger) (jobs.SyncRun, error)
	Reindex(ctx context.Context, all bool) (jobs.ReindexResult, error)
}

type Config struct {
	Schedule string        `mapstructure:"schedule"`
	LockTTL  time.Duration `mapstructure:"lock-ttl"`
}

type Scheduler struct {
	cfg    Config
	runner Runner
	lock   Lock
	logger *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	base    context.Context
	cancel  context.CancelFunc
	running bool
	stopped bool
	wg      sync.WaitGroup
}

// New builds a scheduler. A nil lock falls back to a process-local one.
func New(cfg Config, runner Runner, lock Lock, log *zap.Logger) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if lock == nil {
		lock = &LocalLock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{cfg: cfg, runner: runner, lock: lock, logger: log}
}

// Start registers the cron entry. Runs started afterwards are cancelled by
// Stop or by ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	c := cron.New()
	base, cancel := context.WithCancel(ctx)
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		_, err := s.Trigger(base, jobs.TriggerScheduled)
		switch {
		case errors.Is(err, jobs.ErrRunInProgress):
			s.logger.Warn("scheduled sync skipped", zap.Error(err))
		case err != nil:
			s.logger.Error("scheduled sync failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("registering schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron, s.base, s.cancel = c, base, cancel
	c.Start()
	s.logger.Info("scheduler started", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop cancels an in-flight run and waits for it to be finalized. Triggers
// after Stop fail with ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.stopped = true
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Running reports whether a sync is active in this process.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger runs a sync and waits for it. It fails with jobs.ErrRunInProgress
// when another run holds this process or the shared lock.
func (s *Scheduler) Trigger(ctx context.Context, trigger jobs.Trigger) (jobs.SyncRun, error) {
	if err := s.acquire(ctx); err != nil {
		return jobs.SyncRun{}, err
	}
	defer s.done()

	runCtx, cancel := s.runContext(ctx)
	defer cancel()
	return s.runner.Run(runCtx, trigger)
}

// TriggerAsync starts a sync in the background and returns once the run is
// admitted. The run is not tied to ctx.
func (s *Scheduler) TriggerAsync(ctx context.Context, trigger jobs.Trigger) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}

	runCtx, cancel := s.runContext(context.Background())
	go func() {
		defer s.done()
		defer cancel()
		if _, err := s.runner.Run(runCtx, trigger); err != nil {
			s.logger.Error("sync failed", zap.String("trigger", string(trigger)), zap.Error(err))
		}
	}()
	return nil
}

// Reindex uploads active records to the external index and waits for it. It
// is rejected while a sync is running.
func (s *Scheduler) Reindex(ctx context.Context, all bool) (jobs.ReindexResult, error) {
	if err := s.acquire(ctx); err != nil {
		return jobs.ReindexResult{}, err
	}
	defer s.done()

	runCtx, cancel := s.runContext(ctx)
	defer cancel()
	return s.runner.Reindex(runCtx, all)
}

func (s *Scheduler) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.running {
		s.mu.Unlock()
		return jobs.ErrRunInProgress
	}
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	ok, err := s.lock.TryAcquire(ctx)
	if err != nil || !ok {
		s.clear()
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: held by another process", jobs.ErrRunInProgress)
	}
	return nil
}

func (s *Scheduler) done() {
	if err := s.lock.Release(context.Background()); err != nil {
		s.logger.Warn("releasing sync lock", zap.Error(err))
	}
	s.clear()
}

func (s *Scheduler) clear() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.wg.Done()
}

// runContext ties ctx to the scheduler lifetime so Stop cancels the run.
func (s *Scheduler) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		return runCtx, cancel
	}

	stop := context.AfterFunc(base, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
