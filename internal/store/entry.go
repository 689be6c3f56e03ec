package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Entry is a single versioned row of a space's key/value set as returned by
// change queries. Deleted marks a tombstone; Value is empty for tombstones.
type Entry struct {
	Key     string
	Value   []byte
	Deleted bool
	Version int64
}

// putBatchSize caps the number of rows per multi-row statement so the
// parameter count stays well under SQLite's variable limit.
const putBatchSize = 400

// GetEntry reads a single live entry's value. The second return is false
// if the key is absent or tombstoned.
func (t *Tx) GetEntry(ctx context.Context, spaceID, key string) ([]byte, bool, error) {
	var value string
	err := t.tx.QueryRowContext(ctx,
		`SELECT value FROM entry WHERE spaceid = ? AND key = ? AND deleted = 0`,
		spaceID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get entry %s/%s: %w", spaceID, key, err)
	}
	return []byte(value), true, nil
}

// PutEntries writes a batch of entries at the given version, clearing any
// tombstone on keys being rewritten. Existing rows are replaced in place.
func (t *Tx) PutEntries(ctx context.Context, spaceID string, entries map[string][]byte, version int64) error {
	if len(entries) == 0 {
		return nil
	}

	now := nowString()
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}

	for start := 0; start < len(keys); start += putBatchSize {
		end := start + putBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		var b strings.Builder
		b.WriteString(`INSERT INTO entry (spaceid, key, value, deleted, version, lastmodified) VALUES `)
		args := make([]interface{}, 0, len(batch)*5)
		for i, k := range batch {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, 0, ?, ?)")
			args = append(args, spaceID, k, string(entries[k]), version, now)
		}
		b.WriteString(`
		ON CONFLICT(spaceid, key) DO UPDATE SET
			value = excluded.value,
			deleted = 0,
			version = excluded.version,
			lastmodified = excluded.lastmodified`)

		if _, err := t.tx.ExecContext(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("failed to put %d entries in space %s: %w", len(batch), spaceID, err)
		}
	}

	return nil
}

// DelEntries tombstones a batch of keys at the given version. Keys that
// were never written are left untouched; there is nothing for a client to
// un-see.
func (t *Tx) DelEntries(ctx context.Context, spaceID string, keys []string, version int64) error {
	if len(keys) == 0 {
		return nil
	}

	now := nowString()
	for start := 0; start < len(keys); start += putBatchSize {
		end := start + putBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		placeholders := strings.Repeat("?, ", len(batch)-1) + "?"
		args := make([]interface{}, 0, len(batch)+3)
		args = append(args, version, now, spaceID)
		for _, k := range batch {
			args = append(args, k)
		}

		query := `UPDATE entry SET deleted = 1, value = '', version = ?, lastmodified = ?
			WHERE spaceid = ? AND key IN (` + placeholders + `)`
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete %d entries in space %s: %w", len(batch), spaceID, err)
		}
	}

	return nil
}

// GetChangedEntries returns all entries (tombstones included) whose version
// is strictly greater than fromVersion. The relative order of results is
// not significant; version is a per-space counter, not a per-entry
// sequence.
func (t *Tx) GetChangedEntries(ctx context.Context, spaceID string, fromVersion int64) ([]Entry, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT key, value, deleted, version FROM entry
		WHERE spaceid = ? AND version > ?`,
		spaceID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed entries for space %s: %w", spaceID, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetMetadataEntries returns all live metadata entries for a space. Used to
// answer a client's very first pull before it starts paging through the
// heavier non-metadata keys.
func (t *Tx) GetMetadataEntries(ctx context.Context, spaceID string) ([]Entry, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT key, value, deleted, version FROM entry
		WHERE spaceid = ? AND deleted = 0 AND key LIKE 'issue/%'
		ORDER BY key`,
		spaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata entries for space %s: %w", spaceID, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetEntriesAfter returns up to limit live non-metadata entries in
// ascending key order, starting strictly after endKey. Strict key ordering
// guarantees paging terminates and never delivers a key twice.
func (t *Tx) GetEntriesAfter(ctx context.Context, spaceID, endKey string, limit int) ([]Entry, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT key, value, deleted, version FROM entry
		WHERE spaceid = ? AND deleted = 0 AND key > ? AND key NOT LIKE 'issue/%'
		ORDER BY key
		LIMIT ?`,
		spaceID, endKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries after %q for space %s: %w", endKey, spaceID, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// scanEntries reads entry rows from query results.
func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var value string
		var deleted int
		if err := rows.Scan(&e.Key, &value, &deleted, &e.Version); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Value = []byte(value)
		e.Deleted = deleted != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}
