package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"automator-go/internal/model"

	"github.com/google/uuid"
)

// SaveIntegration stores an integration with its credentials encrypted.
func (s *SQLiteStorage) SaveIntegration(ctx context.Context, in *model.Integration) error {
	if in == nil {
		return fmt.Errorf("%w: integration cannot be nil", ErrInvalidInput)
	}
	if err := requireIDs("user ID", in.UserID, "type", in.Type); err != nil {
		return err
	}
	if len(in.Credentials) == 0 {
		in.Credentials = json.RawMessage("{}")
	}
	if !json.Valid(in.Credentials) {
		return fmt.Errorf("%w: credentials must be valid JSON", ErrInvalidInput)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	ciphertext, nonce, err := EncryptCredentials(s.key, in.Credentials)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, user_id, type, is_active, encrypted_credentials, nonce, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_active = excluded.is_active,
			encrypted_credentials = excluded.encrypted_credentials,
			nonce = excluded.nonce`,
		in.ID, in.UserID, in.Type, in.IsActive, ciphertext, nonce, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save integration: %w", err)
	}
	return nil
}

// GetIntegrations returns every integration of a user, active or not,
// oldest first so that later integrations win when indexed by type.
func (s *SQLiteStorage) GetIntegrations(ctx context.Context, userID string) ([]model.Integration, error) {
	if err := requireIDs("user ID", userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, is_active, encrypted_credentials, nonce, created_at
		FROM integrations
		WHERE user_id = ?
		ORDER BY created_at, rowid`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}
	defer rows.Close()

	var list []model.Integration
	for rows.Next() {
		var in model.Integration
		var ciphertext, nonce []byte
		if err := rows.Scan(&in.ID, &in.UserID, &in.Type, &in.IsActive, &ciphertext, &nonce, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		plaintext, err := DecryptCredentials(s.key, ciphertext, nonce)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credentials for integration %s: %w", in.ID, err)
		}
		in.Credentials = plaintext
		list = append(list, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate integrations: %w", err)
	}
	return list, nil
}

// SetIntegrationActive toggles an integration.
func (s *SQLiteStorage) SetIntegrationActive(ctx context.Context, integrationID, userID string, active bool) error {
	if err := requireIDs("integration ID", integrationID, "user ID", userID); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE integrations SET is_active = ?
		WHERE id = ? AND user_id = ?`,
		active, integrationID, userID)
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}
	return rowsAffected(result, "integration", integrationID)
}
