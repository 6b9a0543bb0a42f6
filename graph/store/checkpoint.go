package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is an immutable, sequence-numbered snapshot of a thread's state.
//
// (ThreadID, Sequence) uniquely identifies a checkpoint. State is stored as a
// JSON object, so swapping one store for another needs no migration.
type Checkpoint struct {
	ThreadID  string         `json:"thread_id"`
	Sequence  int            `json:"sequence"`
	StepName  string         `json:"step_name"`
	State     map[string]any `json:"state"`
	Timestamp time.Time      `json:"timestamp"`

	// Digest fingerprints thread, sequence, step name and state. Two runs that
	// produce identical snapshots produce identical digests.
	Digest string `json:"digest"`
}

// NewCheckpoint builds a checkpoint with a normalized copy of state and its
// digest filled in.
func NewCheckpoint(threadID string, sequence int, stepName string, state map[string]any, ts time.Time) (Checkpoint, error) {
	if threadID == "" {
		return Checkpoint{}, fmt.Errorf("thread id is required")
	}
	if sequence < 0 {
		return Checkpoint{}, fmt.Errorf("sequence must be non-negative, got %d", sequence)
	}

	stateJSON, err := encodeState(state)
	if err != nil {
		return Checkpoint{}, err
	}
	copied, err := decodeState(stateJSON)
	if err != nil {
		return Checkpoint{}, err
	}

	return Checkpoint{
		ThreadID:  threadID,
		Sequence:  sequence,
		StepName:  stepName,
		State:     copied,
		Timestamp: ts.UTC(),
		Digest:    computeDigest(threadID, sequence, stepName, stateJSON),
	}, nil
}

// computeDigest hashes the identifying fields of a checkpoint. The timestamp
// is excluded so digests only depend on what the run computed.
func computeDigest(threadID string, sequence int, stepName string, stateJSON []byte) string {
	h := sha256.New()

	h.Write([]byte(threadID))

	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, uint64(sequence))
	h.Write(seqBytes)

	h.Write([]byte(stepName))
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// encodeState marshals state canonically (encoding/json sorts map keys).
func encodeState(state map[string]any) ([]byte, error) {
	if state == nil {
		state = map[string]any{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (map[string]any, error) {
	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state == nil {
		state = map[string]any{}
	}
	return state, nil
}

// cloneCheckpoint returns a copy of cp whose State shares nothing with cp.
func cloneCheckpoint(cp Checkpoint) (Checkpoint, error) {
	data, err := encodeState(cp.State)
	if err != nil {
		return Checkpoint{}, err
	}
	state, err := decodeState(data)
	if err != nil {
		return Checkpoint{}, err
	}
	cp.State = state
	return cp, nil
}

// validateAppend enforces the sequence rules shared by every store: the new
// sequence may replace an existing one or extend the log by exactly one.
func validateAppend(cp Checkpoint, length int) error {
	if cp.ThreadID == "" {
		return fmt.Errorf("thread id is required")
	}
	if cp.Sequence < 0 || cp.Sequence > length {
		return fmt.Errorf("%w: thread %s has %d checkpoints, cannot write sequence %d",
			ErrSequenceGap, cp.ThreadID, length, cp.Sequence)
	}
	return nil
}
