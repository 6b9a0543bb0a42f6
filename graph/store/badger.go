package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a CheckpointStore backed by an embedded badger database.
//
// Each checkpoint is one key, "checkpoint/<thread>/<seq>", with the sequence
// zero-padded so a prefix scan returns a thread's log in order. Append runs the
// gap check, the removal of the superseded tail and the write in a single
// badger transaction, so readers see either the old log or the new one.
type BadgerStore struct {
	db    *badger.DB
	locks *threadLocks

	mu     sync.RWMutex
	closed bool
}

// BadgerConfig configures OpenBadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory; useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// OpenBadgerStore opens the database described by cfg.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	return &BadgerStore{db: db, locks: newThreadLocks()}, nil
}

func threadPrefix(threadID string) []byte {
	return []byte("checkpoint/" + url.PathEscape(threadID) + "/")
}

func checkpointKey(threadID string, sequence int) []byte {
	return []byte(fmt.Sprintf("%s%016d", threadPrefix(threadID), sequence))
}

func (b *BadgerStore) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Append implements CheckpointStore.
func (b *BadgerStore) Append(ctx context.Context, cp Checkpoint) (int, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	value, err := json.Marshal(cp)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	unlock := b.locks.lock(cp.ThreadID)
	defer unlock()

	err = b.db.Update(func(txn *badger.Txn) error {
		keys, err := threadKeys(txn, cp.ThreadID)
		if err != nil {
			return err
		}
		if err := validateAppend(cp, len(keys)); err != nil {
			return err
		}
		for _, k := range keys[cp.Sequence:] {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("failed to supersede checkpoint: %w", err)
			}
		}
		return txn.Set(checkpointKey(cp.ThreadID, cp.Sequence), value)
	})
	if err != nil {
		return 0, err
	}
	return cp.Sequence, nil
}

// threadKeys returns the keys of a thread's log in sequence order.
func threadKeys(txn *badger.Txn, threadID string) ([][]byte, error) {
	prefix := threadPrefix(threadID)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

// Read implements CheckpointStore.
func (b *BadgerStore) Read(ctx context.Context, threadID string, sequence int) (Checkpoint, error) {
	if err := b.checkOpen(); err != nil {
		return Checkpoint{}, err
	}
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}
	if sequence < 0 {
		return Checkpoint{}, fmt.Errorf("%w: thread %s sequence %d", ErrNotFound, threadID, sequence)
	}

	var cp Checkpoint
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(threadID, sequence))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, fmt.Errorf("%w: thread %s sequence %d", ErrNotFound, threadID, sequence)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp.State == nil {
		cp.State = map[string]any{}
	}
	return cp, nil
}

// List implements CheckpointStore.
func (b *BadgerStore) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]Checkpoint, 0)
	prefix := threadPrefix(threadID)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var cp Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			}); err != nil {
				return fmt.Errorf("failed to decode checkpoint: %w", err)
			}
			if cp.State == nil {
				cp.State = map[string]any{}
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database. Double-close is a no-op.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
