package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteConfig holds the configuration for the embedded SQLite store.
type SQLiteConfig struct {
	// Path is the database file location, e.g. "leaderboard.db".
	Path string `yaml:"path"`

	// BusyTimeout is how long a connection waits for a competing write lock
	// before returning SQLITE_BUSY. Workers claiming jobs contend on the
	// write lock, so this must comfortably exceed a claim transaction.
	// Default: 5 seconds.
	BusyTimeout time.Duration `yaml:"busyTimeout"`

	// MaxOpenConnections is the maximum number of open connections.
	// SQLite serializes writes internally; a small pool is enough.
	// Default: 8.
	MaxOpenConnections int `yaml:"maxOpenConnections"`

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle.
	// Default: 10 minutes.
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`
}

// DefaultSQLiteConfig returns the default SQLite configuration
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		BusyTimeout:        5 * time.Second,
		MaxOpenConnections: 8,
		ConnMaxIdleTime:    10 * time.Minute,
	}
}

// SQLite wraps an sqlx connection pool over the modernc sqlite driver.
type SQLite struct {
	db     *sqlx.DB
	config *SQLiteConfig
}

// NewSQLite opens the database file with default settings.
func NewSQLite(path string) (*SQLite, error) {
	config := DefaultSQLiteConfig()
	config.Path = path
	return NewSQLiteWithConfig(config)
}

// NewSQLiteWithConfig opens the database file with custom configuration.
func NewSQLiteWithConfig(config *SQLiteConfig) (*SQLite, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5 * time.Second
	}
	if config.MaxOpenConnections == 0 {
		config.MaxOpenConnections = 8
	}
	if config.ConnMaxIdleTime == 0 {
		config.ConnMaxIdleTime = 10 * time.Minute
	}

	db, err := sqlx.Open("sqlite", buildDSN(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLite{db: db, config: config}, nil
}

func buildDSN(config *SQLiteConfig) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return fmt.Sprintf("file:%s?%s", config.Path, q.Encode())
}

// DB exposes the underlying sqlx pool.
func (s *SQLite) DB() *sqlx.DB {
	return s.db
}

// Close closes the connection pool.
func (s *SQLite) Close() error {
	return s.db.Close()
}
