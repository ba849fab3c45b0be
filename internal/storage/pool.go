package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// openPingTimeout bounds the connectivity check made by OpenDatabase.
const openPingTimeout = 5 * time.Second

// Config describes the SQLite file backing the automation store and the
// database/sql pool in front of it. Dispatches run concurrently, so the pool
// and the busy timeout decide how many log writes can wait on the WAL lock.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	BusyTimeout     time.Duration
}

// DefaultConfig matches the db section of the service defaults.
func DefaultConfig() Config {
	return Config{
		Path:            "automator.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		BusyTimeout:     5 * time.Second,
	}
}

// Validate reports the first pool setting OpenDatabase cannot use. Errors
// wrap ErrInvalidInput.
func (c Config) Validate() error {
	checks := []struct {
		bad bool
		msg string
	}{
		{c.Path == "", "store path is required"},
		{c.MaxOpenConns < 1, "max_open_conns must be at least 1"},
		{c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns, "max_idle_conns must be between 0 and max_open_conns"},
		{c.ConnMaxLifetime <= 0 || c.ConnMaxIdleTime <= 0, "connection lifetimes must be positive"},
		{c.ConnMaxIdleTime > c.ConnMaxLifetime, "conn_max_idle_time exceeds conn_max_lifetime"},
		{c.BusyTimeout <= 0, "busy_timeout must be positive"},
	}
	for _, check := range checks {
		if check.bad {
			return fmt.Errorf("%w: %s", ErrInvalidInput, check.msg)
		}
	}
	return nil
}

// OpenDatabase opens the automation store in WAL mode with foreign keys on,
// sizes the pool from cfg and brings the schema up to date. key encrypts
// integration credentials at rest.
func OpenDatabase(cfg Config, key []byte) (*SQLiteStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	storage, err := NewSQLiteStorage(db, key)
	if err != nil {
		db.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()

	if err := storage.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := storage.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close releases the underlying pool.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
