package scheduler

import (
	"context"
	"testing"
	"time"

	"automator-go/internal/trigger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, Firing) {}

func mustCron(t *testing.T, expr string) trigger.Trigger {
	t.Helper()
	trig, err := trigger.ParseCron(expr, time.UTC)
	require.NoError(t, err)
	return trig
}

// Test: register, lookup and unregister a job
func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 10, 19, 10, 0, 30, 0, time.UTC)

	replaced, err := r.Register("job-1", mustCron(t, "*/5 * * * *"), noop, now)
	require.NoError(t, err)
	assert.False(t, replaced)

	info, ok := r.Lookup("job-1")
	require.True(t, ok)
	assert.Equal(t, trigger.KindCron, info.Kind)
	assert.Equal(t, "*/5 * * * *", info.Trigger)
	assert.Equal(t, time.Date(2026, 10, 19, 10, 5, 0, 0, time.UTC), info.NextRun)

	assert.True(t, r.Unregister("job-1"))
	assert.False(t, r.Unregister("job-1"))
	_, ok = r.Lookup("job-1")
	assert.False(t, ok)
}

// Test: registering an existing id replaces the entry
func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	_, err := r.Register("job-1", mustCron(t, "0 9 * * *"), noop, now)
	require.NoError(t, err)
	replaced, err := r.Register("job-1", mustCron(t, "30 * * * *"), noop, now)
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, 1, r.Len())

	info, _ := r.Lookup("job-1")
	assert.Equal(t, "30 * * * *", info.Trigger)
}

func TestRegistry_InvalidRegistration(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	_, err := r.Register("", mustCron(t, "* * * * *"), noop, now)
	assert.ErrorIs(t, err, ErrInvalidJob)
	_, err = r.Register("job", nil, noop, now)
	assert.ErrorIs(t, err, ErrInvalidJob)
	_, err = r.Register("job", mustCron(t, "* * * * *"), nil, now)
	assert.ErrorIs(t, err, ErrInvalidJob)

	// February 30th never occurs.
	_, err = r.Register("job", mustCron(t, "0 0 30 2 *"), noop, now)
	assert.ErrorIs(t, err, ErrNoFutureFiring)
	assert.Equal(t, 0, r.Len())
}

// Test: missed recurring firings coalesce into one
func TestRegistry_CollectDueCoalesces(t *testing.T) {
	r := NewRegistry()
	start := time.Date(2026, 10, 19, 10, 0, 30, 0, time.UTC)
	_, err := r.Register("job-1", mustCron(t, "*/5 * * * *"), noop, start)
	require.NoError(t, err)

	late := time.Date(2026, 10, 19, 10, 31, 0, 0, time.UTC)
	due := r.collectDue(late)
	require.Len(t, due, 1)
	assert.Equal(t, "job-1", due[0].firing.JobID)
	assert.Equal(t, time.Date(2026, 10, 19, 10, 5, 0, 0, time.UTC), due[0].firing.ScheduledAt)
	assert.Equal(t, late, due[0].firing.FiredAt)

	info, ok := r.Lookup("job-1")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 19, 10, 35, 0, 0, time.UTC), info.NextRun)
	assert.Empty(t, r.collectDue(late))
}

// Test: one-time entries are retired after firing
func TestRegistry_OnceRetired(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	at := now.Add(time.Hour)
	_, err := r.Register("once", &trigger.OnceTrigger{At: at}, noop, now)
	require.NoError(t, err)

	assert.Empty(t, r.collectDue(now))
	due := r.collectDue(at)
	require.Len(t, due, 1)
	assert.Equal(t, trigger.KindOnce, due[0].firing.Kind)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SnapshotOrdering(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	_, _ = r.Register("late", &trigger.OnceTrigger{At: now.Add(2 * time.Hour)}, noop, now)
	_, _ = r.Register("early", &trigger.OnceTrigger{At: now.Add(time.Hour)}, noop, now)

	jobs := r.Snapshot()
	require.Len(t, jobs, 2)
	assert.Equal(t, "early", jobs[0].JobID)
	assert.Equal(t, "late", jobs[1].JobID)

	next, ok := r.nextDue()
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), next)

	assert.Equal(t, 2, r.reset())
	_, ok = r.nextDue()
	assert.False(t, ok)
}
