package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"automator-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeTelegram records messages sent through the Bot API.
type fakeTelegram struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeTelegram) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Automator","username":"automator_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.mu.Lock()
		f.sent = append(f.sent, r.Form.Get("text"))
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":11,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
	default:
		http.NotFound(w, r)
	}
}

func TestScheduledAutomationEndToEnd(t *testing.T) {
	fake := &fakeTelegram{}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := testConfig(t)
	cfg.Telegram.APIEndpoint = server.URL + "/bot%s/%s"
	cfg.Telegram.RateLimit = 0
	app, err := New(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	ctx := context.Background()

	// Setup: an automation with one telegram step and its integration
	require.NoError(t, app.Storage.SaveIntegration(ctx, &model.Integration{
		UserID:      "u1",
		Type:        "telegram",
		IsActive:    true,
		Credentials: json.RawMessage(`{"bot_token":"123:abc","chat_id":42}`),
	}))
	automation := &model.Automation{UserID: "u1", Name: "ping", Status: model.AutomationActive}
	require.NoError(t, app.Storage.SaveAutomation(ctx, automation, []model.Step{{
		Type:            "telegram_message",
		IntegrationType: "telegram",
		Params:          json.RawMessage(`{"text":"report ready"}`),
	}}))

	require.NoError(t, app.Start(ctx))
	t.Cleanup(func() { _ = app.Stop(context.Background()) })

	// Test: a one-time schedule in the past fires immediately
	past := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	rr := doRequest(t, app, "POST", "/api/v1/schedules", "u1",
		`{"automation_id":"`+automation.ID+`","schedule_time":"`+past+`","job_id":"once-now"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.Eventually(t, func() bool {
		job, err := app.Storage.GetScheduledJob(ctx, "once-now")
		return err == nil && job.Status == model.JobCompleted
	}, 5*time.Second, 20*time.Millisecond, "one-time job should be marked completed")

	assert.Equal(t, []string{"report ready"}, fake.messages())

	logs, err := app.Storage.ListLogs(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogSuccess, logs[0].Status)
	assert.Nil(t, logs[0].ErrorMessage)
	assert.True(t, logs[0].Payload.Scheduled)
	require.Len(t, logs[0].Payload.Results, 1)
	assert.Equal(t, model.StepSuccess, logs[0].Payload.Results[0].Status)

	_, ok := app.Scheduler.Lookup("once-now")
	assert.False(t, ok, "fired one-time job should leave the registry")
}
