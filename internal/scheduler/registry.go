package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"automator-go/internal/metrics"
	"automator-go/internal/trigger"
)

var (
	// ErrInvalidJob is returned when a registration is missing its id,
	// trigger or callback.
	ErrInvalidJob = errors.New("invalid job registration")
	// ErrNoFutureFiring is returned when a trigger can never fire.
	ErrNoFutureFiring = errors.New("trigger has no future firing")
)

// Firing describes one trigger firing handed to a job callback.
type Firing struct {
	JobID       string
	Kind        trigger.Kind
	ScheduledAt time.Time
	FiredAt     time.Time
}

// Callback is invoked on the dispatch pool for every firing of a job.
type Callback func(ctx context.Context, f Firing)

// JobInfo is a read-only view of a registered job.
type JobInfo struct {
	JobID   string       `json:"job_id"`
	Kind    trigger.Kind `json:"kind"`
	Trigger string       `json:"trigger"`
	NextRun time.Time    `json:"next_run"`
}

type entry struct {
	id       string
	trigger  trigger.Trigger
	callback Callback
	next     time.Time
}

func (e *entry) info() JobInfo {
	return JobInfo{
		JobID:   e.id,
		Kind:    e.trigger.Kind(),
		Trigger: e.trigger.String(),
		NextRun: e.next,
	}
}

type dueFiring struct {
	firing   Firing
	callback Callback
}

// Registry maps job ids to live triggers. At most one entry exists per id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register installs a job, replacing any existing entry with the same id in
// a single step. It reports whether an entry was replaced.
func (r *Registry) Register(jobID string, t trigger.Trigger, cb Callback, now time.Time) (bool, error) {
	if jobID == "" || t == nil || cb == nil {
		return false, ErrInvalidJob
	}
	next := t.Next(now)
	if next.IsZero() {
		return false, ErrNoFutureFiring
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.entries[jobID]
	r.entries[jobID] = &entry{id: jobID, trigger: t, callback: cb, next: next}
	metrics.RegisteredJobs.Set(float64(len(r.entries)))
	return replaced, nil
}

// Unregister removes a job. It reports whether the job was present.
func (r *Registry) Unregister(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[jobID]; !ok {
		return false
	}
	delete(r.entries, jobID)
	metrics.RegisteredJobs.Set(float64(len(r.entries)))
	return true
}

// Lookup returns the job registered under jobID.
func (r *Registry) Lookup(jobID string) (JobInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jobID]
	if !ok {
		return JobInfo{}, false
	}
	return e.info(), true
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot lists registered jobs ordered by next run.
func (r *Registry) Snapshot() []JobInfo {
	r.mu.Lock()
	jobs := make([]JobInfo, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.info())
	}
	r.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].NextRun.Equal(jobs[j].NextRun) {
			return jobs[i].JobID < jobs[j].JobID
		}
		return jobs[i].NextRun.Before(jobs[j].NextRun)
	})
	return jobs
}

// nextDue returns the soonest pending firing instant.
func (r *Registry) nextDue() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var soonest time.Time
	for _, e := range r.entries {
		if soonest.IsZero() || e.next.Before(soonest) {
			soonest = e.next
		}
	}
	return soonest, !soonest.IsZero()
}

// collectDue returns every firing due at now and advances the registry:
// recurring entries move to their next instant after now, so missed runs
// coalesce into one firing, and one-time entries are retired.
func (r *Registry) collectDue(now time.Time) []dueFiring {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []dueFiring
	for id, e := range r.entries {
		if e.next.After(now) {
			continue
		}
		due = append(due, dueFiring{
			firing: Firing{
				JobID:       id,
				Kind:        e.trigger.Kind(),
				ScheduledAt: e.next,
				FiredAt:     now,
			},
			callback: e.callback,
		})

		if e.trigger.Kind() == trigger.KindOnce {
			delete(r.entries, id)
			continue
		}
		next := e.trigger.Next(now)
		if next.IsZero() {
			delete(r.entries, id)
			continue
		}
		e.next = next
	}
	metrics.RegisteredJobs.Set(float64(len(r.entries)))

	sort.Slice(due, func(i, j int) bool {
		return due[i].firing.ScheduledAt.Before(due[j].firing.ScheduledAt)
	})
	return due
}

// reset drops every entry and returns how many were removed.
func (r *Registry) reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	r.entries = make(map[string]*entry)
	metrics.RegisteredJobs.Set(0)
	return n
}
