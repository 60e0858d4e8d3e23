package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aside/apps/funding/internal/cycle"
	"aside/apps/funding/internal/deadline"
	"aside/apps/funding/internal/lock"
	"aside/apps/funding/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var wat = time.FixedZone("WAT", 3600)

type recorder struct {
	mu      sync.Mutex
	ensured []time.Time
	due     []time.Time
	swept   []time.Time
	cleaned []time.Time
	fail    bool
}

func (r *recorder) EnsureUpcoming(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensured = append(r.ensured, now)
	if r.fail {
		return 0, errors.New("db down")
	}
	return 0, nil
}

func (r *recorder) RunDue(_ context.Context, now time.Time) ([]cycle.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.due = append(r.due, now)
	return nil, nil
}

func (r *recorder) Sweep(_ context.Context, now time.Time) (deadline.SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swept = append(r.swept, now)
	return deadline.SweepResult{}, nil
}

func (r *recorder) Cleanup(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleaned = append(r.cleaned, now)
	return 0, nil
}

func (r *recorder) sweeps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.swept)
}

func newScheduler(t *testing.T, clock schedule.Clock, rec *recorder, opts Options) *Scheduler {
	t.Helper()
	times, err := schedule.ParseTimes("09:00,15:00,21:00")
	require.NoError(t, err)
	cal := schedule.NewCalendar(wat, times, 5*time.Minute, 10*time.Minute)
	return New(cal, clock, lock.NewLocalLocker(), rec, rec, rec, opts, zap.NewNop())
}

func TestTick(t *testing.T) {
	rec := &recorder{}
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, wat)
	s := newScheduler(t, &schedule.FixedClock{T: now}, rec, Options{Interval: time.Minute})

	s.Tick(context.Background(), now)
	assert.Equal(t, []time.Time{now}, rec.ensured)
	assert.Equal(t, []time.Time{now}, rec.due)
	assert.Equal(t, []time.Time{now}, rec.swept)
}

func TestTick_SweepsEvenWhenCalendarFails(t *testing.T) {
	rec := &recorder{fail: true}
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, wat)
	s := newScheduler(t, &schedule.FixedClock{T: now}, rec, Options{Interval: time.Minute})

	s.Tick(context.Background(), now)
	assert.Empty(t, rec.due)
	assert.Len(t, rec.swept, 1)
}

func TestMerge_RunsWhileCatchupHoldsItsLock(t *testing.T) {
	rec := &recorder{}
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, wat)
	times, err := schedule.ParseTimes("09:00,15:00,21:00")
	require.NoError(t, err)
	locker := lock.NewLocalLocker()
	s := New(schedule.NewCalendar(wat, times, 5*time.Minute, 10*time.Minute), &schedule.FixedClock{T: now},
		locker, rec, rec, rec, Options{Interval: time.Minute}, zap.NewNop())

	// a tick that started just before the window is still running
	lease, err := locker.TryAcquire(context.Background(), catchupLock, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	s.Merge(context.Background(), now)
	assert.Equal(t, []time.Time{now}, rec.due)

	s.Tick(context.Background(), now)
	assert.Len(t, rec.due, 1, "catch-up skips while its lock is held")
	assert.Len(t, rec.swept, 1)

	require.NoError(t, lease.Release(context.Background()))
	s.Tick(context.Background(), now)
	assert.Len(t, rec.due, 2)
}

func TestNextMerge(t *testing.T) {
	rec := &recorder{}
	now := time.Date(2026, 3, 2, 15, 2, 0, 0, wat)

	s := newScheduler(t, &schedule.FixedClock{T: now}, rec, Options{Interval: time.Minute})
	assert.True(t, time.Date(2026, 3, 2, 21, 0, 0, 0, wat).Equal(s.nextMerge(now)))

	s = newScheduler(t, &schedule.FixedClock{T: now}, rec, Options{Interval: time.Minute, AfterJoinWindow: true})
	assert.True(t, time.Date(2026, 3, 2, 15, 5, 0, 0, wat).Equal(s.nextMerge(now)))
}

func TestStartStop(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(t, schedule.SystemClock{}, rec, Options{Interval: 10 * time.Millisecond})

	s.Start(context.Background())
	s.Start(context.Background())
	assert.Eventually(t, func() bool { return rec.sweeps() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := rec.sweeps()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, rec.sweeps())
	s.Stop()
}
