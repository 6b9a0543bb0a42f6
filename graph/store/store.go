// Package store persists workflow checkpoints.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a thread or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// ErrSequenceGap is returned by Append when the checkpoint's sequence would
// leave a hole in the thread's log.
var ErrSequenceGap = errors.New("sequence gap")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// CheckpointStore is the durable, ordered log of state snapshots for each
// execution thread.
//
// The log is a single timeline. Append writes cp at cp.Sequence and supersedes
// every checkpoint at or beyond that sequence, which is how a step re-run after
// a rewind replaces the old future. Checkpoints below cp.Sequence are never
// touched.
//
// Implementations must serialize writes per thread id and make Append atomic
// with respect to Read and List on the same thread: a reader never observes a
// partially written checkpoint, nor a log where the superseded tail is half
// removed. Distinct thread ids must not contend.
//
// Implementations:
//   - MemStore: in-process map, one lock per thread
//   - SQLiteStore: single-file database via modernc.org/sqlite
//   - MySQLStore: shared database via go-sql-driver/mysql
//   - BadgerStore: embedded key-value log via badger
type CheckpointStore interface {
	// Append writes cp and returns its sequence. cp.Sequence must be between
	// 0 and the current length of the thread's log, otherwise ErrSequenceGap.
	Append(ctx context.Context, cp Checkpoint) (int, error)

	// Read returns the checkpoint at sequence, or ErrNotFound.
	Read(ctx context.Context, threadID string, sequence int) (Checkpoint, error)

	// List returns every checkpoint of the thread ordered by sequence. An
	// unknown thread yields an empty slice and no error.
	List(ctx context.Context, threadID string) ([]Checkpoint, error)
}
