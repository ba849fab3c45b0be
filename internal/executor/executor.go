// Package executor runs an automation's steps in order against the owner's
// integrations.
package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"automator-go/internal/metrics"
	"automator-go/internal/model"

	"go.uber.org/zap"
)

// Executor runs steps sequentially through a handler registry. A failing
// step is recorded and execution continues with the next one.
type Executor struct {
	registry *Registry
	logger   *zap.SugaredLogger
}

// New creates an Executor.
func New(registry *Registry, logger *zap.SugaredLogger) *Executor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Executor{registry: registry, logger: logger}
}

type stepOutput struct {
	StepID   string `json:"step_id"`
	Position int    `json:"position"`
	Type     string `json:"type"`
	Output   any    `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ExecuteAutomation returns one result per step. It aborts with ctx.Err()
// when ctx is done before a step starts; results gathered so far are
// discarded by the caller in that case.
func (e *Executor) ExecuteAutomation(ctx context.Context, steps []model.Step, integrations map[string]model.Integration) ([]model.StepResult, error) {
	results := make([]model.StepResult, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		output, err := e.runStep(ctx, step, integrations)
		res := stepOutput{StepID: step.ID, Position: step.Position, Type: step.Type}
		status := model.StepSuccess
		if err != nil {
			status = model.StepFailure
			res.Error = err.Error()
			e.logger.Warnw("Step failed",
				"step_id", step.ID,
				"automation_id", step.AutomationID,
				"type", step.Type,
				"error", err,
			)
		} else {
			res.Output = output
		}
		metrics.StepResults.WithLabelValues(step.Type, string(status)).Inc()

		raw, mErr := json.Marshal(res)
		if mErr != nil {
			status = model.StepFailure
			raw, _ = json.Marshal(stepOutput{
				StepID:   step.ID,
				Position: step.Position,
				Type:     step.Type,
				Error:    fmt.Sprintf("encode step output: %v", mErr),
			})
		}
		results = append(results, model.StepResult{Status: status, Result: raw})
	}
	return results, nil
}

func (e *Executor) runStep(ctx context.Context, step model.Step, integrations map[string]model.Integration) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("step panic: %v", r)
		}
	}()

	handler, err := e.registry.Handler(step.Type)
	if err != nil {
		return nil, err
	}

	var integration *model.Integration
	if step.IntegrationType != "" {
		in, ok := integrations[step.IntegrationType]
		if !ok {
			return nil, fmt.Errorf("no active %s integration", step.IntegrationType)
		}
		integration = &in
	}
	return handler(ctx, step, integration)
}
