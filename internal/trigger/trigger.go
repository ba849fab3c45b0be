// Package trigger turns schedule descriptors into executable triggers.
//
// A descriptor is either a five-field crontab expression, which yields a
// recurring CronTrigger, or an ISO-8601 timestamp, which yields a single-fire
// OnceTrigger. Supplying neither or both is a ValidationError.
package trigger

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Kind distinguishes recurring from single-fire triggers.
type Kind string

const (
	KindCron Kind = "cron"
	KindOnce Kind = "once"
)

// Trigger computes firing instants for a scheduled job.
type Trigger interface {
	Kind() Kind
	// Next returns the firing instant following after, or the zero time when
	// the trigger will never fire again.
	Next(after time.Time) time.Time
	String() string
}

// CronTrigger fires on every instant matched by a crontab expression,
// evaluated in a fixed location.
type CronTrigger struct {
	expr     string
	schedule cron.Schedule
	loc      *time.Location
}

func (t *CronTrigger) Kind() Kind { return KindCron }

func (t *CronTrigger) Next(after time.Time) time.Time {
	next := t.schedule.Next(after.In(t.loc))
	if next.IsZero() {
		return next
	}
	return next.In(after.Location())
}

func (t *CronTrigger) String() string { return t.expr }

// Location returns the time zone the expression is evaluated in.
func (t *CronTrigger) Location() *time.Location { return t.loc }

// OnceTrigger fires a single time at At. It always reports At, even when At
// lies before the evaluation instant: a past-due one-time job fires as soon
// as it is registered. The registry retires it after that firing.
type OnceTrigger struct {
	At time.Time
}

func (t *OnceTrigger) Kind() Kind { return KindOnce }

func (t *OnceTrigger) Next(time.Time) time.Time { return t.At }

func (t *OnceTrigger) String() string { return t.At.UTC().Format(time.RFC3339) }
