package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"automator-go/internal/model"
)

var (
	ErrTransactionClosed = errors.New("transaction is already closed")
)

// Transaction represents a database transaction
type Transaction struct {
	tx     *sql.Tx
	closed bool
}

// BeginTx starts a new database transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (*Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx}, nil
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	return t.tx.Commit()
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	return t.tx.Rollback()
}

// UpsertAutomation inserts or updates an automation row within the transaction
func (t *Transaction) UpsertAutomation(ctx context.Context, a *model.Automation) error {
	if t.closed {
		return ErrTransactionClosed
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO automations (id, user_id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		a.ID, a.UserID, a.Name, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save automation: %w", err)
	}
	return nil
}

// ReplaceSteps swaps an automation's steps for the given list within the transaction
func (t *Transaction) ReplaceSteps(ctx context.Context, automationID string, steps []model.Step) error {
	if t.closed {
		return ErrTransactionClosed
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM steps WHERE automation_id = ?`, automationID); err != nil {
		return fmt.Errorf("failed to clear steps: %w", err)
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO steps (id, automation_id, position, type, integration_type, params)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare step insert: %w", err)
	}
	defer stmt.Close()

	for i, step := range steps {
		params := string(step.Params)
		if params == "" {
			params = "{}"
		}
		var integrationType sql.NullString
		if step.IntegrationType != "" {
			integrationType = sql.NullString{String: step.IntegrationType, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, step.ID, automationID, i, step.Type, integrationType, params); err != nil {
			return fmt.Errorf("failed to insert step %d: %w", i, err)
		}
	}
	return nil
}
