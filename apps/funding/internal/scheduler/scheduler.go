// Package scheduler owns the background timers: the merge timer firing at each
// window, the periodic tick running catch-up and deadline sweeps, and the nightly
// proof cleanup. It is constructed and started explicitly by the composition root.
package scheduler

import (
	"context"
	"sync"
	"time"

	"aside/apps/funding/internal/cycle"
	"aside/apps/funding/internal/deadline"
	"aside/apps/funding/internal/lock"
	"aside/apps/funding/internal/schedule"

	"go.uber.org/zap"
)

const (
	mergeLock   = "merge-cycle"
	catchupLock = "merge-catchup"
	sweepLock   = "deadline-sweep"
	cleanupLock = "proof-cleanup"
)

type CycleRunner interface {
	EnsureUpcoming(ctx context.Context, now time.Time) (int, error)
	RunDue(ctx context.Context, now time.Time) ([]cycle.Report, error)
}

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (deadline.SweepResult, error)
}

type Cleaner interface {
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

type Options struct {
	Interval time.Duration
	// AfterJoinWindow makes the merge timer fire when the join window closes.
	AfterJoinWindow bool
	LockTTL         time.Duration
}

type Scheduler struct {
	calendar *schedule.Calendar
	clock    schedule.Clock
	locker   lock.Locker
	cycles   CycleRunner
	sweeper  Sweeper
	cleaner  Cleaner
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(calendar *schedule.Calendar, clock schedule.Clock, locker lock.Locker, cycles CycleRunner, sweeper Sweeper, cleaner Cleaner, opts Options, logger *zap.Logger) *Scheduler {
	if opts.LockTTL == 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Scheduler{
		calendar: calendar,
		clock:    clock,
		locker:   locker,
		cycles:   cycles,
		sweeper:  sweeper,
		cleaner:  cleaner,
		opts:     opts,
		logger:   logger,
	}
}

// Start launches the timers. Calling it twice without Stop is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Starting scheduler",
		zap.Duration("interval", s.opts.Interval),
		zap.Time("next_merge", s.nextMerge(s.clock.Now())))

	s.Tick(ctx, s.clock.Now())

	s.wg.Add(3)
	go s.loop(ctx, s.nextMerge, s.Merge)
	go s.loop(ctx, func(now time.Time) time.Time { return now.Add(s.opts.Interval) }, s.Tick)
	go s.loop(ctx, s.calendar.NextMidnight, s.Cleanup)
}

// Stop cancels the timers and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// loop sleeps until next(now) and runs job, until ctx is done.
func (s *Scheduler) loop(ctx context.Context, next func(time.Time) time.Time, job func(context.Context, time.Time)) {
	defer s.wg.Done()
	for {
		wait := next(s.clock.Now()).Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			job(ctx, s.clock.Now())
		}
	}
}

func (s *Scheduler) nextMerge(now time.Time) time.Time {
	if s.opts.AfterJoinWindow {
		return s.calendar.Next(now.Add(-s.calendar.JoinWindow)).JoinCloses
	}
	return s.calendar.Next(now).MergeAt
}

// Merge runs whatever cycles are due.
func (s *Scheduler) Merge(ctx context.Context, now time.Time) {
	_, err := lock.Run(ctx, s.locker, s.logger, mergeLock, s.opts.LockTTL, func(ctx context.Context) error {
		reports, err := s.cycles.RunDue(ctx, now)
		for _, r := range reports {
			s.logger.Info("Scheduled merge cycle ran",
				zap.String("cycle_id", r.Cycle.ID.String()),
				zap.String("status", string(r.Cycle.Status)))
		}
		return err
	})
	if err != nil {
		s.logger.Error("Merge run failed", zap.Error(err))
	}
}

// Tick keeps the cycle calendar filled, catches up missed cycles and sweeps deadlines.
// Catch-up holds its own lock so a tick in flight never makes the merge timer skip;
// the per-cycle claim keeps a cycle from running twice.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	_, err := lock.Run(ctx, s.locker, s.logger, catchupLock, s.opts.LockTTL, func(ctx context.Context) error {
		if _, err := s.cycles.EnsureUpcoming(ctx, now); err != nil {
			return err
		}
		_, err := s.cycles.RunDue(ctx, now)
		return err
	})
	if err != nil {
		s.logger.Error("Cycle catch-up failed", zap.Error(err))
	}

	_, err = lock.Run(ctx, s.locker, s.logger, sweepLock, s.opts.LockTTL, func(ctx context.Context) error {
		_, err := s.sweeper.Sweep(ctx, now)
		return err
	})
	if err != nil {
		s.logger.Error("Deadline sweep failed", zap.Error(err))
	}
}

// Cleanup removes expired proof artefacts.
func (s *Scheduler) Cleanup(ctx context.Context, now time.Time) {
	_, err := lock.Run(ctx, s.locker, s.logger, cleanupLock, s.opts.LockTTL, func(ctx context.Context) error {
		_, err := s.cleaner.Cleanup(ctx, now)
		return err
	})
	if err != nil {
		s.logger.Error("Proof cleanup failed", zap.Error(err))
	}
}
