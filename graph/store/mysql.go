package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a CheckpointStore backed by MySQL (or a compatible server).
//
// Designed for deployments where several engine processes share one
// checkpoint log. Writes to a thread are serialized in-process by a per-thread
// lock and across processes by the transaction and the (thread_id, seq)
// primary key.
//
// DSN format (go-sql-driver/mysql):
//
//	user:password@tcp(localhost:3306)/rewindgraph?parseTime=true
type MySQLStore struct {
	sqlCheckpoints
}

// NewMySQLStore connects to dsn, verifies the connection and migrates the
// schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)                  // Maximum open connections
	db.SetMaxIdleConns(5)                   // Keep idle connections for reuse
	db.SetConnMaxLifetime(5 * time.Minute)  // Max connection lifetime (prevent stale connections)
	db.SetConnMaxIdleTime(10 * time.Minute) // Max idle time before closing

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore{
		sqlCheckpoints: sqlCheckpoints{
			db:        db,
			locks:     newThreadLocks(),
			txOptions: &sql.TxOptions{Isolation: sql.LevelSerializable},
		},
	}

	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return m, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id VARCHAR(255) NOT NULL,
			seq INT NOT NULL,
			step_name VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			digest VARCHAR(80) NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (thread_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

// Stats returns connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	return m.db.Stats()
}
