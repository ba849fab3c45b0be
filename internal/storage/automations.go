package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"automator-go/internal/model"

	"github.com/google/uuid"
)

// SaveAutomation creates or updates an automation and replaces its steps in
// one transaction. Missing ids and timestamps are filled in.
func (s *SQLiteStorage) SaveAutomation(ctx context.Context, a *model.Automation, steps []model.Step) (err error) {
	if a == nil {
		return fmt.Errorf("%w: automation cannot be nil", ErrInvalidInput)
	}
	if err := requireIDs("user ID", a.UserID, "name", a.Name); err != nil {
		return err
	}
	for i, step := range steps {
		if step.Type == "" {
			return fmt.Errorf("%w: step %d has no type", ErrInvalidInput, i)
		}
	}

	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.AutomationActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = uuid.NewString()
		}
		steps[i].AutomationID = a.ID
		steps[i].Position = i
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = tx.UpsertAutomation(ctx, a); err != nil {
		return err
	}
	if err = tx.ReplaceSteps(ctx, a.ID, steps); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetAutomation returns the automation owned by userID, or nil, nil when no
// such automation exists.
func (s *SQLiteStorage) GetAutomation(ctx context.Context, automationID, userID string) (*model.Automation, error) {
	if err := requireIDs("automation ID", automationID, "user ID", userID); err != nil {
		return nil, err
	}

	a := &model.Automation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, status, created_at, updated_at
		FROM automations
		WHERE id = ? AND user_id = ?`,
		automationID, userID).Scan(&a.ID, &a.UserID, &a.Name, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}
	return a, nil
}

// SetAutomationStatus activates or deactivates an automation.
func (s *SQLiteStorage) SetAutomationStatus(ctx context.Context, automationID, userID string, status model.AutomationStatus) error {
	if err := requireIDs("automation ID", automationID, "user ID", userID); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE automations SET status = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		status, time.Now().UTC(), automationID, userID)
	if err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}
	return rowsAffected(result, "automation", automationID)
}

// GetSteps returns an automation's steps ordered by position.
func (s *SQLiteStorage) GetSteps(ctx context.Context, automationID string) ([]model.Step, error) {
	if err := requireIDs("automation ID", automationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, automation_id, position, type, integration_type, params
		FROM steps
		WHERE automation_id = ?
		ORDER BY position`,
		automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []model.Step
	for rows.Next() {
		var step model.Step
		var integrationType sql.NullString
		var params string
		if err := rows.Scan(&step.ID, &step.AutomationID, &step.Position, &step.Type, &integrationType, &params); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.IntegrationType = integrationType.String
		step.Params = []byte(params)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return steps, nil
}

// CountAutomations returns the total and active automation counts for a user.
func (s *SQLiteStorage) CountAutomations(ctx context.Context, userID string) (total, active int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN status = 'active' THEN 1 END)
		FROM automations
		WHERE user_id = ?`,
		userID).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count automations: %w", err)
	}
	return total, active, nil
}
