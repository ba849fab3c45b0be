// Package dispatch runs one firing of a scheduled automation: it loads the
// automation, its steps and the owner's active integrations, invokes the
// step executor and records exactly one execution log for every attempt that
// reaches execution.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"automator-go/internal/metrics"
	"automator-go/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StepsFailedMessage is recorded when execution completed but at least one
// step reported failure.
const StepsFailedMessage = "One or more steps failed"

// Store is the persistence the dispatcher reads from and records to.
type Store interface {
	// GetAutomation returns nil, nil when no automation matches.
	GetAutomation(ctx context.Context, automationID, userID string) (*model.Automation, error)
	GetSteps(ctx context.Context, automationID string) ([]model.Step, error)
	GetIntegrations(ctx context.Context, userID string) ([]model.Integration, error)
	CreateLog(ctx context.Context, log *model.ExecutionLog) error
}

// Executor runs an automation's steps. It returns one result per step
// attempted; an error means execution as a whole was aborted.
type Executor interface {
	ExecuteAutomation(ctx context.Context, steps []model.Step, integrations map[string]model.Integration) ([]model.StepResult, error)
}

// OutcomeKind classifies a dispatch.
type OutcomeKind string

const (
	OutcomeExecuted OutcomeKind = "executed"
	OutcomeSkipped  OutcomeKind = "skipped"
)

// SkipReason explains a skipped dispatch.
type SkipReason string

const (
	SkipAutomationInactive SkipReason = "automation_inactive"
	SkipNoSteps            SkipReason = "no_steps"
)

// Outcome is the result of one dispatch. Log is set only when executed.
type Outcome struct {
	Kind   OutcomeKind
	Reason SkipReason
	Log    *model.ExecutionLog
}

// Dispatcher executes scheduled automations.
type Dispatcher struct {
	store    Store
	executor Executor
	logger   *zap.SugaredLogger
	clock    func() time.Time
	newID    func() string
}

// New creates a Dispatcher.
func New(store Store, executor Executor, logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		store:    store,
		executor: executor,
		logger:   logger,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// Dispatch runs the automation identified by automationID for userID.
//
// Inactive or missing automations and automations without steps are skipped
// with a warning and leave no log. Every other attempt records exactly one
// execution log: success when every step succeeded, otherwise error with
// either StepsFailedMessage or the text of the error that aborted execution.
// The returned error is non-nil only when that log could not be written.
func (d *Dispatcher) Dispatch(ctx context.Context, automationID, userID string) (Outcome, error) {
	start := time.Now()
	metrics.DispatchesInFlight.Inc()
	defer metrics.DispatchesInFlight.Dec()

	d.logger.Infow("Executing scheduled automation", "automation_id", automationID, "user_id", userID)

	outcome, results, runErr := d.run(ctx, automationID, userID)
	if runErr == nil && outcome.Kind == OutcomeSkipped {
		d.logger.Warnw("Skipping scheduled automation",
			"automation_id", automationID,
			"user_id", userID,
			"reason", outcome.Reason,
		)
		d.observe("skipped", start)
		return outcome, nil
	}

	entry := &model.ExecutionLog{
		ID:           d.newID(),
		UserID:       userID,
		AutomationID: automationID,
		Payload:      model.LogPayload{Results: results, Scheduled: true},
		ExecutedAt:   d.clock().UTC(),
	}
	switch {
	case runErr != nil:
		d.logger.Errorw("Failed to execute scheduled automation",
			"automation_id", automationID,
			"user_id", userID,
			"error", runErr,
		)
		msg := runErr.Error()
		entry.Status = model.LogError
		entry.Payload.Results = nil
		entry.ErrorMessage = &msg
	case allSucceeded(results):
		entry.Status = model.LogSuccess
	default:
		msg := StepsFailedMessage
		entry.Status = model.LogError
		entry.ErrorMessage = &msg
	}

	// The audit row is written even when ctx was cancelled mid-execution.
	if err := d.store.CreateLog(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Errorw("Failed to record execution log",
			"automation_id", automationID,
			"user_id", userID,
			"status", entry.Status,
			"error", err,
		)
		d.observe("failed", start)
		return Outcome{}, fmt.Errorf("record execution log: %w", err)
	}

	d.logger.Infow("Completed scheduled automation",
		"automation_id", automationID,
		"log_id", entry.ID,
		"status", entry.Status,
	)
	d.observe(string(entry.Status), start)
	return Outcome{Kind: OutcomeExecuted, Log: entry}, nil
}

// run loads and executes the automation. Panics from the store or executor
// are converted to errors so they are recorded like any other failure.
func (d *Dispatcher) run(ctx context.Context, automationID, userID string) (outcome Outcome, results []model.StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, results, err = Outcome{}, nil, fmt.Errorf("panic during execution: %v", r)
		}
	}()

	automation, err := d.store.GetAutomation(ctx, automationID, userID)
	if err != nil {
		return Outcome{}, nil, err
	}
	if !automation.IsActive() {
		return Outcome{Kind: OutcomeSkipped, Reason: SkipAutomationInactive}, nil, nil
	}

	steps, err := d.store.GetSteps(ctx, automationID)
	if err != nil {
		return Outcome{}, nil, err
	}
	if len(steps) == 0 {
		return Outcome{Kind: OutcomeSkipped, Reason: SkipNoSteps}, nil, nil
	}

	integrations, err := d.store.GetIntegrations(ctx, userID)
	if err != nil {
		return Outcome{}, nil, err
	}

	results, err = d.executor.ExecuteAutomation(ctx, steps, IndexIntegrations(integrations))
	if err != nil {
		return Outcome{}, nil, err
	}
	if len(results) != len(steps) {
		return Outcome{}, nil, fmt.Errorf("executor returned %d results for %d steps", len(results), len(steps))
	}
	return Outcome{Kind: OutcomeExecuted}, results, nil
}

func (d *Dispatcher) observe(outcome string, start time.Time) {
	metrics.Dispatches.WithLabelValues(outcome).Inc()
	metrics.DispatchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// IndexIntegrations keys active integrations by type. When several active
// integrations share a type, the last one in list order wins.
func IndexIntegrations(list []model.Integration) map[string]model.Integration {
	byType := make(map[string]model.Integration, len(list))
	for _, in := range list {
		if !in.IsActive {
			continue
		}
		byType[in.Type] = in
	}
	return byType
}

func allSucceeded(results []model.StepResult) bool {
	for _, r := range results {
		if r.Status != model.StepSuccess {
			return false
		}
	}
	return true
}
