package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"automator-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertLog(t *testing.T, s *SQLiteStorage, id, userID string, status model.LogStatus, at time.Time) {
	t.Helper()
	log := &model.ExecutionLog{
		ID:           id,
		UserID:       userID,
		AutomationID: "a1",
		Status:       status,
		Payload:      model.LogPayload{Scheduled: true},
		ExecutedAt:   at,
	}
	if status == model.LogError {
		msg := "One or more steps failed"
		log.ErrorMessage = &msg
	}
	require.NoError(t, s.CreateLog(context.Background(), log))
}

func TestSQLiteStorage_CreateLog(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	msg := "upstream timeout"

	log := &model.ExecutionLog{
		ID:           "l1",
		UserID:       "u1",
		AutomationID: "a1",
		Status:       model.LogError,
		Payload: model.LogPayload{
			Results:   []model.StepResult{{Status: model.StepFailure, Result: json.RawMessage(`{"error":"x"}`)}},
			Scheduled: true,
		},
		ErrorMessage: &msg,
		ExecutedAt:   at,
	}
	require.NoError(t, s.CreateLog(ctx, log))

	logs, err := s.ListLogs(ctx, "u1", 50)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	got := logs[0]
	assert.Equal(t, model.LogError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)
	assert.True(t, got.Payload.Scheduled)
	require.Len(t, got.Payload.Results, 1)
	assert.Equal(t, model.StepFailure, got.Payload.Results[0].Status)
	assert.True(t, at.Equal(got.ExecutedAt))

	// Ids are unique; a second insert of the same record fails.
	assert.Error(t, s.CreateLog(ctx, log))

	assert.ErrorIs(t, s.CreateLog(ctx, &model.ExecutionLog{ID: "l2", UserID: "u1", AutomationID: "a1", Status: "pending"}), ErrInvalidInput)
	assert.ErrorIs(t, s.CreateLog(ctx, nil), ErrInvalidInput)
}

func TestSQLiteStorage_ListLogs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		insertLog(t, s, fmt.Sprintf("l%d", i), "u1", model.LogSuccess, base.Add(time.Duration(i)*time.Hour))
	}
	insertLog(t, s, "other", "u2", model.LogSuccess, base)

	logs, err := s.ListLogs(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "l4", logs[0].ID)
	assert.Equal(t, "l2", logs[2].ID)

	between, err := s.ListLogsBetween(ctx, "u1", base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.Equal(t, "l2", between[0].ID)
	assert.Equal(t, "l1", between[1].ID)

	_, err = s.ListLogs(ctx, "u1", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.ListLogs(ctx, "u1", MaxLogLimit+1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.ListLogsBetween(ctx, "u1", base, base.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidInput)

	empty, err := s.ListLogs(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSQLiteStorage_Dashboard(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	seedAutomation(t, s, "u1", model.AutomationActive)
	seedAutomation(t, s, "u1", model.AutomationInactive)

	now := time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)
	insertLog(t, s, "y1", "u1", model.LogSuccess, now.AddDate(0, 0, -1))
	insertLog(t, s, "t1", "u1", model.LogSuccess, now.Add(-6*time.Hour))
	insertLog(t, s, "t2", "u1", model.LogSuccess, now.Add(-5*time.Hour))
	insertLog(t, s, "t3", "u1", model.LogError, now.Add(-4*time.Hour))

	d, err := s.GetDashboard(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.TotalAutomations)
	assert.Equal(t, int64(1), d.ActiveAutomations)
	assert.Equal(t, int64(3), d.ExecutionsToday)
	assert.Equal(t, 66.67, d.SuccessRate)
	require.Len(t, d.RecentLogs, 4)
	assert.Equal(t, "t3", d.RecentLogs[0].ID)

	empty, err := s.GetDashboard(ctx, "nobody", now)
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty.SuccessRate)
	assert.Equal(t, int64(0), empty.ExecutionsToday)
}

func TestSQLiteStorage_PeriodStats(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)

	insertLog(t, s, "d0a", "u1", model.LogSuccess, now.Add(-time.Hour))
	insertLog(t, s, "d0b", "u1", model.LogError, now.Add(-2*time.Hour))
	insertLog(t, s, "d2", "u1", model.LogSuccess, now.AddDate(0, 0, -2))
	insertLog(t, s, "old", "u1", model.LogSuccess, now.AddDate(0, 0, -10))

	stats, err := s.GetPeriodStats(ctx, "u1", 7, now)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Days)
	assert.Equal(t, int64(3), stats.TotalExecutions)
	assert.Equal(t, int64(2), stats.Successful)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, 66.67, stats.SuccessRate)
	require.Len(t, stats.Daily, 7)
	assert.Equal(t, "2026-10-13", stats.Daily[0].Date)
	assert.Equal(t, "2026-10-19", stats.Daily[6].Date)
	assert.Equal(t, int64(2), stats.Daily[6].Total)
	assert.Equal(t, int64(1), stats.Daily[6].Error)
	assert.Equal(t, int64(1), stats.Daily[4].Success)

	_, err = s.GetPeriodStats(ctx, "u1", 0, now)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSQLiteStorage_PruneLogs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	insertLog(t, s, "old", "u1", model.LogSuccess, now.AddDate(0, 0, -40))
	insertLog(t, s, "new", "u1", model.LogSuccess, now.AddDate(0, 0, -1))

	n, err := s.PruneLogs(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	logs, err := s.ListLogs(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "new", logs[0].ID)

	_, err = s.PruneLogs(ctx, time.Time{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
