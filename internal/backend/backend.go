// Package backend turns a raw byte-oriented key-value backend into the
// typed storage adapter the State Manager builds on. See SPEC_FULL.md 4.B.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// MaxValueBytes is the size limit per stored value (§6); backends may
// reject larger writes.
const MaxValueBytes = 16 * 1024 * 1024

// ErrValueTooLarge is returned when a value exceeds MaxValueBytes.
var ErrValueTooLarge = errors.New("backend: value exceeds maximum size")

// ErrCorrupt wraps a deserialization failure for a specific key; it is
// raised by the StorageAdapter, never silently swallowed into a default.
type ErrCorrupt struct {
	Key    string
	Detail string
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("backend: corrupt value at key %q: %s", e.Key, e.Detail)
}

func (e *ErrCorrupt) Unwrap() error { return nil }

// Backend is the raw byte-oriented contract a concrete storage engine must
// satisfy (§6). Keys and values are opaque bytes; there are no transactions
// and no conditional writes. Every method is independently atomic; any
// ordering guarantees are the caller's responsibility.
type Backend interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Put(ctx context.Context, key, val []byte) error
	Delete(ctx context.Context, key []byte) error
	ListPrefix(ctx context.Context, prefix []byte) ([][]byte, error)
	Flush(ctx context.Context) error
}
