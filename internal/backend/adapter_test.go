package backend

import (
	"context"
	"testing"
)

func TestStorageAdapter_StoreLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := NewStorageAdapter(NewMemoryBackend(), "state")

	if err := adapter.Store(ctx, "k", map[string]int{"a": 1}, 1); err != nil {
		t.Fatalf("Store: %v", err)
	}
	env, ok, err := adapter.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("expected entry to exist")
	}
	if env.SV != 1 {
		t.Errorf("SV = %d, want 1", env.SV)
	}
	if string(env.V) != `{"a":1}` {
		t.Errorf("V = %s", env.V)
	}
}

func TestStorageAdapter_LoadMissingReturnsNotOK(t *testing.T) {
	adapter := NewStorageAdapter(NewMemoryBackend(), "state")
	_, ok, err := adapter.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key to return ok=false")
	}
}

func TestStorageAdapter_LoadCorruptReturnsErrCorrupt(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	adapter := NewStorageAdapter(mem, "state")
	if err := mem.Put(ctx, []byte("state:k"), []byte("not json")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, _, err := adapter.Load(ctx, "k")
	if err == nil {
		t.Fatalf("expected error for corrupt entry")
	}
	if _, ok := err.(*ErrCorrupt); !ok {
		t.Errorf("expected *ErrCorrupt, got %T: %v", err, err)
	}
}

func TestStorageAdapter_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	adapter := NewStorageAdapter(NewMemoryBackend(), "state")
	if err := adapter.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete on missing key should not error: %v", err)
	}
	if err := adapter.Store(ctx, "k", "v", 1); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := adapter.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := adapter.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete should be idempotent: %v", err)
	}
	if _, ok, _ := adapter.Load(ctx, "k"); ok {
		t.Errorf("expected key to be gone after delete")
	}
}

func TestStorageAdapter_ListKeysStripsNamespaceAndPrefix(t *testing.T) {
	ctx := context.Background()
	adapter := NewStorageAdapter(NewMemoryBackend(), "state")
	for _, k := range []string{"agent:a1:x", "agent:a1:y", "agent:a2:z"} {
		if err := adapter.Store(ctx, k, "v", 1); err != nil {
			t.Fatalf("Store %s: %v", k, err)
		}
	}
	keys, err := adapter.ListKeys(ctx, "agent:a1:")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2: %v", len(keys), keys)
	}
}
