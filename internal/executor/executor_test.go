package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"automator-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decoded struct {
	StepID string          `json:"step_id"`
	Type   string          `json:"type"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

func decode(t *testing.T, r model.StepResult) decoded {
	t.Helper()
	var d decoded
	require.NoError(t, json.Unmarshal(r.Result, &d))
	return d
}

func TestRegistry_Basic(t *testing.T) {
	r := NewRegistry()
	r.Register("b", func(context.Context, model.Step, *model.Integration) (any, error) { return nil, nil })
	r.Register("a", func(context.Context, model.Step, *model.Integration) (any, error) { return nil, nil })

	_, err := r.Handler("a")
	assert.NoError(t, err)
	_, err = r.Handler("missing")
	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Types())
}

// Test: one result per step, failures do not stop later steps
func TestExecutor_RunsAllSteps(t *testing.T) {
	r := NewRegistry()
	var seen []string
	r.Register("echo", func(ctx context.Context, step model.Step, in *model.Integration) (any, error) {
		seen = append(seen, step.ID)
		return map[string]string{"integration": in.ID}, nil
	})
	r.Register("fail", func(ctx context.Context, step model.Step, in *model.Integration) (any, error) {
		seen = append(seen, step.ID)
		return nil, errors.New("quota exceeded")
	})
	r.Register("explode", func(ctx context.Context, step model.Step, in *model.Integration) (any, error) {
		panic("bad state")
	})

	steps := []model.Step{
		{ID: "s1", Position: 0, Type: "echo", IntegrationType: "gmail"},
		{ID: "s2", Position: 1, Type: "fail"},
		{ID: "s3", Position: 2, Type: "unknown"},
		{ID: "s4", Position: 3, Type: "echo", IntegrationType: "telegram"},
		{ID: "s5", Position: 4, Type: "explode"},
		{ID: "s6", Position: 5, Type: "echo", IntegrationType: "gmail"},
	}
	integrations := map[string]model.Integration{"gmail": {ID: "g2", Type: "gmail", IsActive: true}}

	results, err := New(r, nil).ExecuteAutomation(context.Background(), steps, integrations)
	require.NoError(t, err)
	require.Len(t, results, len(steps))

	want := []model.StepStatus{
		model.StepSuccess, model.StepFailure, model.StepFailure,
		model.StepFailure, model.StepFailure, model.StepSuccess,
	}
	for i, r := range results {
		assert.Equal(t, want[i], r.Status, "step %d", i)
	}

	assert.JSONEq(t, `{"integration":"g2"}`, string(decode(t, results[0]).Output))
	assert.Equal(t, "quota exceeded", decode(t, results[1]).Error)
	assert.Contains(t, decode(t, results[2]).Error, "no handler registered")
	assert.Contains(t, decode(t, results[3]).Error, "no active telegram integration")
	assert.Contains(t, decode(t, results[4]).Error, "bad state")
	assert.Equal(t, []string{"s1", "s2", "s6"}, seen)
}

// Test: cancellation aborts execution between steps
func TestExecutor_Cancelled(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r.Register("cancel", func(context.Context, model.Step, *model.Integration) (any, error) {
		cancel()
		return "done", nil
	})

	steps := []model.Step{{ID: "s1", Type: "cancel"}, {ID: "s2", Type: "cancel"}}
	results, err := New(r, nil).ExecuteAutomation(ctx, steps, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 1)
}

// Test: unencodable output is reported as a failed step
func TestExecutor_UnencodableOutput(t *testing.T) {
	r := NewRegistry()
	r.Register("chan", func(context.Context, model.Step, *model.Integration) (any, error) {
		return make(chan int), nil
	})
	results, err := New(r, nil).ExecuteAutomation(context.Background(), []model.Step{{ID: "s1", Type: "chan"}}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.StepFailure, results[0].Status)
	assert.Contains(t, decode(t, results[0]).Error, "encode step output")
}
