package trigger

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec is a schedule descriptor as supplied by callers or read back from
// storage. Exactly one of CronExpression and ScheduleTime must be non-empty.
type Spec struct {
	CronExpression string
	ScheduleTime   string
}

// cronFields names the five crontab fields in order.
var cronFields = [5]string{"minute", "hour", "day_of_month", "month", "day_of_week"}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// timestampLayouts are tried in order. Layouts without a zone designator are
// interpreted in the scheduler's configured location.
var timestampLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02 15:04:05.999999999Z07:00", true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02 15:04:05.999999999", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
}

// Materialize converts a descriptor into a trigger. Cron expressions and
// naive timestamps are evaluated in loc; a nil loc means UTC.
func Materialize(spec Spec, loc *time.Location) (Trigger, error) {
	if loc == nil {
		loc = time.UTC
	}
	expr := strings.TrimSpace(spec.CronExpression)
	ts := strings.TrimSpace(spec.ScheduleTime)

	switch {
	case expr != "" && ts != "":
		return nil, &ValidationError{
			Field:  "schedule",
			Reason: "cron_expression and schedule_time are mutually exclusive",
		}
	case expr != "":
		return ParseCron(expr, loc)
	case ts != "":
		at, err := ParseTimestamp(ts, loc)
		if err != nil {
			return nil, err
		}
		return &OnceTrigger{At: at}, nil
	default:
		return nil, &ValidationError{
			Field:  "schedule",
			Reason: "either cron_expression or schedule_time must be provided",
		}
	}
}

// ParseCron parses a standard five-field crontab expression. When the
// expression is rejected, the returned ValidationError names the first field
// that does not parse on its own.
func ParseCron(expr string, loc *time.Location) (*CronTrigger, error) {
	if loc == nil {
		loc = time.UTC
	}
	fields := strings.Fields(expr)
	if len(fields) != len(cronFields) {
		return nil, &ValidationError{
			Field:  "cron_expression",
			Value:  expr,
			Reason: "expected 5 fields (minute hour day_of_month month day_of_week)",
		}
	}
	schedule, err := cronParser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, &ValidationError{
			Field:  offendingField(fields),
			Value:  expr,
			Reason: err.Error(),
		}
	}
	return &CronTrigger{expr: strings.Join(fields, " "), schedule: schedule, loc: loc}, nil
}

// offendingField isolates each field against wildcards to find the one the
// parser rejects.
func offendingField(fields []string) string {
	for i := range fields {
		single := []string{"*", "*", "*", "*", "*"}
		single[i] = fields[i]
		if _, err := cronParser.Parse(strings.Join(single, " ")); err != nil {
			return cronFields[i]
		}
	}
	return "cron_expression"
}

// ParseTimestamp parses an ISO-8601 instant. A trailing "Z" and numeric
// offsets are honoured; timestamps without a zone are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	value = strings.TrimSpace(value)
	for _, l := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, value)
		} else {
			t, err = time.ParseInLocation(l.layout, value, loc)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ValidationError{
		Field:  "schedule_time",
		Value:  value,
		Reason: "not an ISO-8601 timestamp",
	}
}

// FromJob rebuilds the descriptor for a persisted schedule.
func FromJob(cronExpression string, nextRun *time.Time) Spec {
	spec := Spec{CronExpression: cronExpression}
	if nextRun != nil {
		spec.ScheduleTime = nextRun.UTC().Format(time.RFC3339Nano)
	}
	return spec
}
