package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"automator-go/internal/model"
)

const executionLogColumns = `id, user_id, automation_id, status, payload, error_message, executed_at`

// MaxLogLimit caps the page size of ListLogs.
const MaxLogLimit = 500

// CreateLog inserts an execution log. Logs are append-only.
func (s *SQLiteStorage) CreateLog(ctx context.Context, log *model.ExecutionLog) error {
	if log == nil {
		return fmt.Errorf("%w: log cannot be nil", ErrInvalidInput)
	}
	if err := requireIDs("log ID", log.ID, "user ID", log.UserID, "automation ID", log.AutomationID); err != nil {
		return err
	}
	if log.Status != model.LogSuccess && log.Status != model.LogError {
		return fmt.Errorf("%w: unknown log status %q", ErrInvalidInput, log.Status)
	}

	payload, err := json.Marshal(log.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode log payload: %w", err)
	}
	var errMsg sql.NullString
	if log.ErrorMessage != nil {
		errMsg = sql.NullString{String: *log.ErrorMessage, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (`+executionLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.UserID, log.AutomationID, log.Status, string(payload), errMsg, log.ExecutedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create execution log: %w", err)
	}
	return nil
}

// ListLogs returns a user's most recent logs, newest first.
func (s *SQLiteStorage) ListLogs(ctx context.Context, userID string, limit int) ([]model.ExecutionLog, error) {
	if err := requireIDs("user ID", userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxLogLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, MaxLogLimit)
	}
	return s.queryLogs(ctx, `
		SELECT `+executionLogColumns+`
		FROM execution_logs
		WHERE user_id = ?
		ORDER BY executed_at DESC, id
		LIMIT ?`,
		userID, limit)
}

// ListLogsBetween returns a user's logs with from <= executed_at < to,
// newest first.
func (s *SQLiteStorage) ListLogsBetween(ctx context.Context, userID string, from, to time.Time) ([]model.ExecutionLog, error) {
	if err := requireIDs("user ID", userID); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end time cannot be before start time", ErrInvalidInput)
	}
	return s.queryLogs(ctx, `
		SELECT `+executionLogColumns+`
		FROM execution_logs
		WHERE user_id = ? AND executed_at >= ? AND executed_at < ?
		ORDER BY executed_at DESC, id`,
		userID, from.UTC(), to.UTC())
}

func (s *SQLiteStorage) queryLogs(ctx context.Context, query string, args ...any) ([]model.ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}
	defer rows.Close()

	logs := []model.ExecutionLog{}
	for rows.Next() {
		var log model.ExecutionLog
		var payload string
		var errMsg sql.NullString
		if err := rows.Scan(&log.ID, &log.UserID, &log.AutomationID, &log.Status, &payload, &errMsg, &log.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &log.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of log %s: %w", log.ID, err)
		}
		if errMsg.Valid {
			msg := errMsg.String
			log.ErrorMessage = &msg
		}
		log.ExecutedAt = log.ExecutedAt.UTC()
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution logs: %w", err)
	}
	return logs, nil
}
