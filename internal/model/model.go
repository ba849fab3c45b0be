package model

import (
	"encoding/json"
	"time"
)

// AutomationStatus is the activation state of an automation.
type AutomationStatus string

const (
	AutomationActive   AutomationStatus = "active"
	AutomationInactive AutomationStatus = "inactive"
)

// JobStatus is the persisted state of a scheduled job.
type JobStatus string

const (
	JobActive    JobStatus = "active"
	JobInactive  JobStatus = "inactive"
	JobCompleted JobStatus = "completed"
)

// StepStatus is the outcome of a single step execution.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
)

// LogStatus is the classified outcome of a dispatch.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
)

// ScheduledJob is a persisted schedule descriptor. Exactly one of
// CronExpression and NextRun is set.
type ScheduledJob struct {
	JobID          string     `json:"job_id"`
	AutomationID   string     `json:"automation_id"`
	UserID         string     `json:"user_id"`
	CronExpression string     `json:"cron_expression,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
	Status         JobStatus  `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Automation is a named ordered workflow owned by a user.
type Automation struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Name      string           `json:"name"`
	Status    AutomationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// IsActive reports whether the automation may be dispatched.
func (a *Automation) IsActive() bool {
	return a != nil && a.Status == AutomationActive
}

// Step is one unit of work in an automation, run against one integration.
type Step struct {
	ID              string          `json:"id"`
	AutomationID    string          `json:"automation_id"`
	Position        int             `json:"position"`
	Type            string          `json:"type"`
	IntegrationType string          `json:"integration_type,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// Integration is a configured connector to an external service. Credentials
// are opaque to everything but the step handler that consumes them.
type Integration struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Type        string          `json:"type"`
	IsActive    bool            `json:"is_active"`
	Credentials json.RawMessage `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
}

// StepResult is the executor's report for a single step.
type StepResult struct {
	Status StepStatus      `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// LogPayload is the structured body of an execution log.
type LogPayload struct {
	Results   []StepResult `json:"results,omitempty"`
	Scheduled bool         `json:"scheduled"`
}

// ExecutionLog is the audit record of one dispatch attempt. It is never
// mutated after creation.
type ExecutionLog struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	AutomationID string     `json:"automation_id"`
	Status       LogStatus  `json:"status"`
	Payload      LogPayload `json:"payload"`
	ErrorMessage *string    `json:"error_message"`
	ExecutedAt   time.Time  `json:"executed_at"`
}
