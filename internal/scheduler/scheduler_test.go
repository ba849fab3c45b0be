package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"automator-go/internal/trigger"
	"automator-go/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// inlineSubmitter runs tasks on the caller's goroutine.
type inlineSubmitter struct {
	reject bool
}

func (s inlineSubmitter) Submit(task worker.Task) bool {
	if s.reject {
		return false
	}
	_ = task.Process(context.Background())
	return true
}

type firingRecorder struct {
	mu      sync.Mutex
	firings []Firing
}

func (r *firingRecorder) callback(_ context.Context, f Firing) {
	r.mu.Lock()
	r.firings = append(r.firings, f)
	r.mu.Unlock()
}

func (r *firingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.firings)
}

// Test: weekday 09:00 job fires once on Monday morning and not before
func TestScheduler_WeekdayCron(t *testing.T) {
	friday := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: friday}
	s := New(inlineSubmitter{}, nil, WithClock(clock.Now))
	rec := &firingRecorder{}

	_, err := s.Register("automation_42_abc", mustCron(t, "0 9 * * 1-5"), rec.callback)
	require.NoError(t, err)

	assert.Equal(t, 0, s.runDue(time.Date(2026, 10, 19, 8, 59, 59, 0, time.UTC)))
	assert.Equal(t, 1, s.runDue(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, s.runDue(time.Date(2026, 10, 19, 9, 0, 30, 0, time.UTC)))
	assert.Equal(t, 1, rec.count())

	info, ok := s.Lookup("automation_42_abc")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC), info.NextRun)
}

// Test: registering the same id twice yields a single firing per instant
func TestScheduler_DoubleRegisterFiresOnce(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 30, 0, time.UTC)}
	s := New(inlineSubmitter{}, nil, WithClock(clock.Now))
	rec := &firingRecorder{}

	_, err := s.Register("job", mustCron(t, "* * * * *"), rec.callback)
	require.NoError(t, err)
	replaced, err := s.Register("job", mustCron(t, "* * * * *"), rec.callback)
	require.NoError(t, err)
	assert.True(t, replaced)

	s.runDue(time.Date(2026, 10, 19, 10, 1, 0, 0, time.UTC))
	assert.Equal(t, 1, rec.count())
}

// Test: an unregistered job never fires
func TestScheduler_UnregisterBeforeDue(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	s := New(inlineSubmitter{}, nil, WithClock(clock.Now))
	rec := &firingRecorder{}

	_, err := s.Register("job", &trigger.OnceTrigger{At: clock.Now().Add(time.Minute)}, rec.callback)
	require.NoError(t, err)
	assert.True(t, s.Unregister("job"))

	s.runDue(clock.Now().Add(time.Hour))
	assert.Equal(t, 0, rec.count())
}

// Test: rejected submissions are not counted as accepted
func TestScheduler_RejectedSubmission(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	s := New(inlineSubmitter{reject: true}, nil, WithClock(clock.Now))
	rec := &firingRecorder{}

	_, err := s.Register("job", &trigger.OnceTrigger{At: clock.Now()}, rec.callback)
	require.NoError(t, err)
	assert.Equal(t, 0, s.runDue(clock.Now()))
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, len(s.Jobs()))
}

// Test: a past-due one-time job fires promptly on the real loop
func TestScheduler_LoopFiresPastDueOnce(t *testing.T) {
	pool := worker.NewPool(0, nil)
	s := New(pool, nil)
	s.Start(context.Background())
	defer func() {
		s.Stop()
		_ = pool.Stop(context.Background())
	}()

	fired := make(chan Firing, 1)
	_, err := s.Register("past", &trigger.OnceTrigger{At: time.Now().Add(-time.Hour)}, func(_ context.Context, f Firing) {
		fired <- f
	})
	require.NoError(t, err)

	select {
	case f := <-fired:
		assert.Equal(t, "past", f.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("past-due job did not fire")
	}
	require.Eventually(t, func() bool {
		_, ok := s.Lookup("past")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

// Test: the loop picks up a job registered while it sleeps
func TestScheduler_LoopWakesForEarlierJob(t *testing.T) {
	pool := worker.NewPool(0, nil)
	s := New(pool, nil)
	_, err := s.Register("far", &trigger.OnceTrigger{At: time.Now().Add(time.Hour)}, noop)
	require.NoError(t, err)

	s.Start(context.Background())
	defer func() {
		s.Stop()
		_ = pool.Stop(context.Background())
	}()

	fired := make(chan struct{}, 1)
	_, err = s.Register("soon", &trigger.OnceTrigger{At: time.Now().Add(50 * time.Millisecond)}, func(context.Context, Firing) {
		fired <- struct{}{}
	})
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("newly registered job did not fire")
	}
	_, ok := s.Lookup("far")
	assert.True(t, ok)
}

// Test: a callback that never returns does not hold up other jobs
func TestScheduler_BlockedCallbackDoesNotDelayOthers(t *testing.T) {
	pool := worker.NewPool(0, nil)
	s := New(pool, nil)
	s.Start(context.Background())
	defer func() {
		s.Stop()
		_ = pool.Stop(context.Background())
	}()

	release := make(chan struct{})
	defer close(release)
	slowStarted := make(chan struct{})
	_, err := s.Register("slow", &trigger.OnceTrigger{At: time.Now()}, func(context.Context, Firing) {
		close(slowStarted)
		<-release
	})
	require.NoError(t, err)

	select {
	case <-slowStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("slow job did not fire")
	}

	fastFired := make(chan struct{}, 1)
	_, err = s.Register("fast", &trigger.OnceTrigger{At: time.Now().Add(50 * time.Millisecond)}, func(context.Context, Firing) {
		fastFired <- struct{}{}
	})
	require.NoError(t, err)

	select {
	case <-fastFired:
	case <-time.After(2 * time.Second):
		t.Fatal("fast job was delayed by the blocked callback")
	}
}

// Test: Stop halts the loop and clears the registry
func TestScheduler_StopClearsRegistry(t *testing.T) {
	s := New(inlineSubmitter{}, nil)
	s.Start(context.Background())
	assert.True(t, s.Running())

	_, err := s.Register("job", &trigger.OnceTrigger{At: time.Now().Add(time.Hour)}, noop)
	require.NoError(t, err)

	s.Stop()
	assert.False(t, s.Running())
	assert.Empty(t, s.Jobs())

	// Stop is idempotent.
	s.Stop()
}
