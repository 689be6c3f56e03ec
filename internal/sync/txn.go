// Package sync implements the liteboard synchronization protocol: the pull
// reconciler that computes incremental patches for clients, the push
// handler that applies client mutations, and the write-overlay transaction
// both of them share.
package sync

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupported is returned by operations that are placeholders in this
// layer. Callers must treat them as unimplemented capability and fail fast
// rather than degrade.
var ErrUnsupported = errors.New("operation not supported by the write transaction")

// EntryStore is the slice of versioned-store operations the transaction
// needs. *store.Tx satisfies it.
type EntryStore interface {
	GetEntry(ctx context.Context, spaceID, key string) ([]byte, bool, error)
	PutEntries(ctx context.Context, spaceID string, entries map[string][]byte, version int64) error
	DelEntries(ctx context.Context, spaceID string, keys []string, version int64) error
}

// WriteTx is an in-memory read/write overlay over one space's entries. It
// batches any number of key mutations into a single flush, giving
// read-your-writes semantics in between. All writes are stamped with the
// transaction's fixed version.
//
// A WriteTx is scoped to one logical transaction: create it, mutate, flush
// once, discard. It is not safe for concurrent use.
type WriteTx struct {
	store   EntryStore
	spaceID string
	version int64
	cache   map[string]*cacheEntry
}

type cacheEntry struct {
	value []byte // empty means absent/tombstone
	dirty bool
}

// NewWriteTx creates a write transaction over a space at a fixed version.
// The version should be the space's next version; the caller bumps the
// space cookie to it after a successful flush.
func NewWriteTx(store EntryStore, spaceID string, version int64) *WriteTx {
	return &WriteTx{
		store:   store,
		spaceID: spaceID,
		version: version,
		cache:   make(map[string]*cacheEntry),
	}
}

// Version returns the version all writes in this transaction are stamped
// with.
func (w *WriteTx) Version() int64 {
	return w.version
}

// Get returns the value at key, observing any uncommitted writes in this
// transaction. On a cache miss it reads through to the store and caches the
// result (clean) so repeated reads do not re-hit storage.
func (w *WriteTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if ce, ok := w.cache[key]; ok {
		if len(ce.value) == 0 {
			return nil, false, nil
		}
		return ce.value, true, nil
	}

	value, ok, err := w.store.GetEntry(ctx, w.spaceID, key)
	if err != nil {
		return nil, false, fmt.Errorf("read-through for key %s failed: %w", key, err)
	}
	if !ok {
		value = nil
	}
	w.cache[key] = &cacheEntry{value: value}
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

// Has reports whether a value exists at key within this transaction.
func (w *WriteTx) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := w.Get(ctx, key)
	return ok, err
}

// Put stages a write of value at key. Nothing is persisted until Flush.
func (w *WriteTx) Put(key string, value []byte) {
	w.cache[key] = &cacheEntry{value: value, dirty: true}
}

// Del stages a tombstone at key and reports whether a value existed before
// the delete (within this transaction's view).
func (w *WriteTx) Del(ctx context.Context, key string) (bool, error) {
	existed, err := w.Has(ctx, key)
	if err != nil {
		return false, err
	}
	w.cache[key] = &cacheEntry{dirty: true}
	return existed, nil
}

// Scan is a placeholder; range scans are not needed by the sync layer.
func (w *WriteTx) Scan(ctx context.Context, prefix string) error {
	return fmt.Errorf("scan %q: %w", prefix, ErrUnsupported)
}

// IsEmpty is a placeholder; emptiness checks are not needed by the sync
// layer.
func (w *WriteTx) IsEmpty(ctx context.Context) (bool, error) {
	return false, fmt.Errorf("isEmpty: %w", ErrUnsupported)
}

// Flush persists all dirty overlay entries: non-empty values as one batched
// upsert, empty values as one batched tombstone write, both stamped with
// the transaction's version. Both batches share the enclosing SQLite
// transaction, so they are issued back to back; they touch disjoint key
// sets and either order is valid.
//
// Any storage error propagates as-is. There is no partial-flush recovery;
// the caller's transaction boundary decides whether anything commits.
func (w *WriteTx) Flush(ctx context.Context) error {
	puts := make(map[string][]byte)
	var dels []string
	for key, ce := range w.cache {
		if !ce.dirty {
			continue
		}
		if len(ce.value) > 0 {
			puts[key] = ce.value
		} else {
			dels = append(dels, key)
		}
	}

	if err := w.store.PutEntries(ctx, w.spaceID, puts, w.version); err != nil {
		return err
	}
	if err := w.store.DelEntries(ctx, w.spaceID, dels, w.version); err != nil {
		return err
	}
	return nil
}
