package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// sqlCheckpoints implements the CheckpointStore contract on top of
// database/sql. SQLiteStore, MySQLStore and PostgresStore embed it and only
// differ in how they open the connection, create the schema and serialize
// writers across processes. Queries are written with '?' placeholders and
// rewritten to '$n' when dollar is set.
//
// Schema:
//
//	checkpoints(thread_id, seq, step_name, state, digest, created_at)
//	PRIMARY KEY (thread_id, seq)
type sqlCheckpoints struct {
	db    *sql.DB
	locks *threadLocks

	mu     sync.RWMutex
	closed bool

	txOptions *sql.TxOptions

	// dollar selects $1-style placeholders.
	dollar bool

	// lockThread, when set, runs first in every Append transaction with the
	// thread id as its only argument.
	lockThread string
}

// rebind rewrites '?' placeholders for the connection's dialect.
func (s *sqlCheckpoints) rebind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlCheckpoints) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Append implements CheckpointStore. The gap check, the removal of the
// superseded tail and the insert run in one transaction, under the thread's
// lock.
func (s *sqlCheckpoints) Append(ctx context.Context, cp Checkpoint) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	stateJSON, err := encodeState(cp.State)
	if err != nil {
		return 0, err
	}

	unlock := s.locks.lock(cp.ThreadID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, s.txOptions)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after Commit

	if s.lockThread != "" {
		if _, err := tx.ExecContext(ctx, s.rebind(s.lockThread), cp.ThreadID); err != nil {
			return 0, fmt.Errorf("failed to lock thread: %w", err)
		}
	}

	var length int
	if err := tx.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM checkpoints WHERE thread_id = ?"), cp.ThreadID,
	).Scan(&length); err != nil {
		return 0, fmt.Errorf("failed to count checkpoints: %w", err)
	}

	if err := validateAppend(cp, length); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind("DELETE FROM checkpoints WHERE thread_id = ? AND seq >= ?"), cp.ThreadID, cp.Sequence,
	); err != nil {
		return 0, fmt.Errorf("failed to supersede checkpoints: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO checkpoints (thread_id, seq, step_name, state, digest, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		cp.ThreadID, cp.Sequence, cp.StepName, string(stateJSON), cp.Digest, cp.Timestamp.UTC().UnixNano(),
	); err != nil {
		return 0, fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	return cp.Sequence, nil
}

// Read implements CheckpointStore.
func (s *sqlCheckpoints) Read(ctx context.Context, threadID string, sequence int) (Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT thread_id, seq, step_name, state, digest, created_at
		 FROM checkpoints WHERE thread_id = ? AND seq = ?`),
		threadID, sequence,
	)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("%w: thread %s sequence %d", ErrNotFound, threadID, sequence)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// List implements CheckpointStore.
func (s *sqlCheckpoints) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT thread_id, seq, step_name, state, digest, created_at
		 FROM checkpoints WHERE thread_id = ? ORDER BY seq ASC`),
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Checkpoint, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (Checkpoint, error) {
	var (
		cp        Checkpoint
		stateJSON []byte
		createdAt int64
	)
	if err := row.Scan(&cp.ThreadID, &cp.Sequence, &cp.StepName, &stateJSON, &cp.Digest, &createdAt); err != nil {
		return Checkpoint{}, err
	}

	state, err := decodeState(stateJSON)
	if err != nil {
		return Checkpoint{}, err
	}
	cp.State = state
	cp.Timestamp = time.Unix(0, createdAt).UTC()
	return cp, nil
}

// Close closes the database. Double-close is a no-op.
func (s *sqlCheckpoints) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *sqlCheckpoints) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}
