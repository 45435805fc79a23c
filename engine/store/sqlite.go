package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tiborkr/tasquencer/engine"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed engine.Store, grounded on the teacher's
// SQLiteStore: a single-file database suited to development, testing,
// and single-process deployments, with WAL mode for concurrent reads and
// a busy timeout so writers queue instead of failing under contention.
type SQLiteStore struct {
	sqlStore
	path string
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and migrates the Tasquencer schema into it. Pass ":memory:" for a
// throwaway database that disappears on Close.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("tasquencer: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{sqlStore: sqlStore{db: db, dialect: "sqlite"}, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Path returns the database file path this store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

// SaveMigrationRecord seeds a predecessor/successor workflow pairing
// ahead of calling Engine.FastForward on the predecessor.
func (s *SQLiteStore) SaveMigrationRecord(ctx context.Context, rec *engine.MigrationRecord) error {
	return s.sqlStore.SaveMigrationRecord(ctx, rec)
}
