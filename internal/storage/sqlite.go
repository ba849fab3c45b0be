package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// SQLiteStorage handles all database operations
type SQLiteStorage struct {
	db  *sql.DB
	key []byte
}

// NewSQLiteStorage wraps an open database. key encrypts integration
// credentials at rest and must be KeySize bytes.
func NewSQLiteStorage(db *sql.DB, key []byte) (*SQLiteStorage, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return &SQLiteStorage{db: db, key: key}, nil
}

// DB exposes the underlying handle.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Ping checks the connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// requireIDs reports ErrInvalidInput for the first empty value.
func requireIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s cannot be empty", ErrInvalidInput, pairs[i])
		}
	}
	return nil
}

// rowsAffected maps a zero-row update to ErrNotFound.
func rowsAffected(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return nil
}
