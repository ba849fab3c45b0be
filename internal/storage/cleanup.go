package storage

import (
	"context"
	"fmt"
	"time"
)

// PruneLogs removes execution logs recorded before olderThan.
func (s *SQLiteStorage) PruneLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	if olderThan.IsZero() {
		return 0, fmt.Errorf("%w: cutoff cannot be zero", ErrInvalidInput)
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM execution_logs
		WHERE executed_at < ?`,
		olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune execution logs: %w", err)
	}
	return result.RowsAffected()
}
