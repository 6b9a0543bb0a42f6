package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory CheckpointStore.
//
// Designed for:
//   - Testing and development
//   - Single-process workflows that need rewind but not durability
//
// Each thread carries its own RWMutex, so appends on one thread never block
// readers or writers of another. The top-level lock only guards the thread
// map itself. Checkpoints are deep-copied on the way in and on the way out.
//
// MemStore can be snapshotted with MarshalJSON and restored with
// UnmarshalJSON.
type MemStore struct {
	mu      sync.RWMutex
	threads map[string]*memThread
}

type memThread struct {
	mu  sync.RWMutex
	log []Checkpoint
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		threads: make(map[string]*memThread),
	}
}

// thread returns the log for threadID, creating it when create is true.
func (m *MemStore) thread(threadID string, create bool) *memThread {
	m.mu.RLock()
	t, ok := m.threads[threadID]
	m.mu.RUnlock()
	if ok || !create {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok = m.threads[threadID]; !ok {
		t = &memThread{}
		m.threads[threadID] = t
	}
	return t
}

// Append implements CheckpointStore.
func (m *MemStore) Append(ctx context.Context, cp Checkpoint) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	copied, err := cloneCheckpoint(cp)
	if err != nil {
		return 0, err
	}

	t := m.thread(cp.ThreadID, true)
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := validateAppend(cp, len(t.log)); err != nil {
		return 0, err
	}

	// Truncate the superseded tail and append in one critical section.
	t.log = append(t.log[:cp.Sequence:cp.Sequence], copied)
	return cp.Sequence, nil
}

// Read implements CheckpointStore.
func (m *MemStore) Read(ctx context.Context, threadID string, sequence int) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}

	t := m.thread(threadID, false)
	if t == nil {
		return Checkpoint{}, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if sequence < 0 || sequence >= len(t.log) {
		return Checkpoint{}, fmt.Errorf("%w: thread %s sequence %d", ErrNotFound, threadID, sequence)
	}
	return cloneCheckpoint(t.log[sequence])
}

// List implements CheckpointStore.
func (m *MemStore) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := m.thread(threadID, false)
	if t == nil {
		return []Checkpoint{}, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Checkpoint, 0, len(t.log))
	for _, cp := range t.log {
		c, err := cloneCheckpoint(cp)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Threads returns the ids of every thread with at least one checkpoint,
// sorted.
func (m *MemStore) Threads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.threads))
	for id, t := range m.threads {
		t.mu.RLock()
		n := len(t.log)
		t.mu.RUnlock()
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON serializes every thread's log.
//
// Example:
//
//	data, err := store.MarshalJSON()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("checkpoints.json", data, 0644)
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string][]Checkpoint, len(m.threads))
	for id, t := range m.threads {
		t.mu.RLock()
		logCopy := make([]Checkpoint, len(t.log))
		copy(logCopy, t.log)
		t.mu.RUnlock()
		snapshot[id] = logCopy
	}

	return json.Marshal(snapshot)
}

// UnmarshalJSON replaces the store's contents with a snapshot produced by
// MarshalJSON. Each thread's log must be gap-free starting at sequence 0.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	var snapshot map[string][]Checkpoint
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal store: %w", err)
	}

	threads := make(map[string]*memThread, len(snapshot))
	for id, log := range snapshot {
		sort.Slice(log, func(i, j int) bool { return log[i].Sequence < log[j].Sequence })
		for i, cp := range log {
			if cp.Sequence != i || cp.ThreadID != id {
				return fmt.Errorf("thread %s: checkpoint %d out of place", id, cp.Sequence)
			}
		}
		threads[id] = &memThread{log: log}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = threads
	return nil
}
