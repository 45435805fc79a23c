package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tiborkr/tasquencer/engine"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed engine.Store, grounded on the
// teacher's MySQLStore: pooled connections sized for a multi-worker
// deployment, suited to production workflows that must survive process
// restarts and be visible to more than one engine instance.
//
// The DSN format is the go-sql-driver/mysql one, e.g.
//
//	user:password@tcp(127.0.0.1:3306)/tasquencer?parseTime=true
type MySQLStore struct {
	sqlStore
}

// NewMySQLStore opens a pooled connection to dsn and migrates the
// Tasquencer schema into it.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tasquencer: ping mysql: %w", err)
	}

	s := &MySQLStore{sqlStore: sqlStore{db: db, dialect: "mysql"}}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

// Ping verifies a connection can be obtained from the pool.
func (s *MySQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// SaveMigrationRecord seeds a predecessor/successor workflow pairing
// ahead of calling Engine.FastForward on the predecessor.
func (s *MySQLStore) SaveMigrationRecord(ctx context.Context, rec *engine.MigrationRecord) error {
	return s.sqlStore.SaveMigrationRecord(ctx, rec)
}
