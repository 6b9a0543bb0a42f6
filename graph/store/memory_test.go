package store

import (
	"context"
	"testing"
	"time"
)

func TestMemStore_CopiesState(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	cp, err := NewCheckpoint("t1", 0, "start", map[string]any{"items": []any{"a"}}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Append(ctx, cp); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not leak into the store.
	cp.State["items"] = []any{"mutated"}

	got, err := m.Read(ctx, "t1", 0)
	if err != nil {
		t.Fatal(err)
	}
	items := got.State["items"].([]any)
	if items[0] != "a" {
		t.Errorf("items[0] = %v, want a", items[0])
	}

	// Mutating a read result must not leak either.
	got.State["items"] = nil
	again, _ := m.Read(ctx, "t1", 0)
	if again.State["items"] == nil {
		t.Error("read result aliases stored state")
	}
}

func TestMemStore_MarshalRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	for i := 0; i < 3; i++ {
		cp, _ := NewCheckpoint("t1", i, "s", map[string]any{"i": i}, time.Now())
		if _, err := m.Append(ctx, cp); err != nil {
			t.Fatal(err)
		}
	}

	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	restored := NewMemStore()
	if err := restored.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}

	list, err := restored.List(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if ids := restored.Threads(); len(ids) != 1 || ids[0] != "t1" {
		t.Errorf("Threads() = %v", ids)
	}
}

func TestMemStore_UnmarshalRejectsGaps(t *testing.T) {
	data := []byte(`{"t1":[{"thread_id":"t1","sequence":1,"state":{}}]}`)
	if err := NewMemStore().UnmarshalJSON(data); err == nil {
		t.Error("expected error for gapped log")
	}
}
