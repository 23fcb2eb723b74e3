package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Envelope is the on-disk contract for a stored record (§6): canonical JSON
// with stable key ordering, `{"v": value, "ts": rfc3339, "sv": schema
// version}`. This shape MUST NOT change without a schema migration.
type Envelope struct {
	V  json.RawMessage `json:"v"`
	TS time.Time       `json:"ts"`
	SV uint32          `json:"sv"`
}

// StorageAdapter turns the raw Backend into a typed store of serialized
// entries under a fixed namespace (§4.B). It performs no locking of its
// own; the State Manager is responsible for ordering via its own per-key
// discipline (§5).
type StorageAdapter struct {
	backend   Backend
	namespace string
}

func NewStorageAdapter(b Backend, namespace string) *StorageAdapter {
	return &StorageAdapter{backend: b, namespace: namespace}
}

func (a *StorageAdapter) namespacedKey(key string) []byte {
	return []byte(a.namespace + ":" + key)
}

// Store serializes value into the canonical envelope and writes it.
func (a *StorageAdapter) Store(ctx context.Context, key string, value any, schemaVersion uint32) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("backend: marshal value for %q: %w", key, err)
	}
	env := Envelope{V: raw, TS: time.Now().UTC(), SV: schemaVersion}
	blob, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("backend: marshal envelope for %q: %w", key, err)
	}
	return a.backend.Put(ctx, a.namespacedKey(key), blob)
}

// Load fetches and deserializes the envelope at key. It returns
// (envelope, false, nil) on a missing key and a *ErrCorrupt on a
// deserialization failure — it never silently yields a zero value.
func (a *StorageAdapter) Load(ctx context.Context, key string) (Envelope, bool, error) {
	blob, ok, err := a.backend.Get(ctx, a.namespacedKey(key))
	if err != nil {
		return Envelope{}, false, fmt.Errorf("backend: load %q: %w", key, err)
	}
	if !ok {
		return Envelope{}, false, nil
	}
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return Envelope{}, false, &ErrCorrupt{Key: key, Detail: err.Error()}
	}
	return env, true, nil
}

// Exists reports whether key has a stored entry.
func (a *StorageAdapter) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := a.backend.Get(ctx, a.namespacedKey(key))
	return ok, err
}

// Delete removes key; it is idempotent.
func (a *StorageAdapter) Delete(ctx context.Context, key string) error {
	return a.backend.Delete(ctx, a.namespacedKey(key))
}

// ListKeys returns all keys under the adapter's namespace whose user-facing
// portion has the given prefix. Ordering is not guaranteed.
func (a *StorageAdapter) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	raw, err := a.backend.ListPrefix(ctx, []byte(a.namespace+":"+prefix))
	if err != nil {
		return nil, fmt.Errorf("backend: list_keys %q: %w", prefix, err)
	}
	nsPrefix := a.namespace + ":"
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		out = append(out, strings.TrimPrefix(string(k), nsPrefix))
	}
	return out, nil
}

// Save flushes the underlying backend if it supports flushing.
func (a *StorageAdapter) Save(ctx context.Context) error {
	return a.backend.Flush(ctx)
}
