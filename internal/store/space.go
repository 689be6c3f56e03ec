package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SpaceExists reports whether a space row has been created.
func (t *Tx) SpaceExists(ctx context.Context, spaceID string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM space WHERE id = ?`, spaceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check space %s: %w", spaceID, err)
	}
	return true, nil
}

// GetCookie returns the space's version counter. The second return is
// false if the space does not exist.
func (t *Tx) GetCookie(ctx context.Context, spaceID string) (int64, bool, error) {
	var version int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT version FROM space WHERE id = ?`, spaceID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cookie for space %s: %w", spaceID, err)
	}
	return version, true, nil
}

// SetCookie creates or updates the space's version counter. The version
// only ever moves forward; callers pass the new value after a committed
// write.
func (t *Tx) SetCookie(ctx context.Context, spaceID string, version int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO space (id, version, lastmodified) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			lastmodified = excluded.lastmodified`,
		spaceID, version, nowString())
	if err != nil {
		return fmt.Errorf("failed to set cookie for space %s: %w", spaceID, err)
	}
	return nil
}

// GetLastMutationID returns the last mutation ID applied for a client, or
// zero for a client that has never pushed.
func (t *Tx) GetLastMutationID(ctx context.Context, clientID string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT lastmutationid FROM client WHERE id = ?`, clientID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get last mutation id for client %s: %w", clientID, err)
	}
	return id, nil
}

// SetLastMutationID records the last mutation ID applied for a client.
func (t *Tx) SetLastMutationID(ctx context.Context, clientID string, mutationID int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO client (id, lastmutationid, lastmodified) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lastmutationid = excluded.lastmutationid,
			lastmodified = excluded.lastmodified`,
		clientID, mutationID, nowString())
	if err != nil {
		return fmt.Errorf("failed to set last mutation id for client %s: %w", clientID, err)
	}
	return nil
}

// CopySpaceEntries bulk-copies all live entries from one space into
// another, stamped with the destination's version. Used to bootstrap a new
// space from the seeded template. Conflicting keys in the destination are
// left alone so a duplicate bootstrap attempt lands as a no-op.
func (t *Tx) CopySpaceEntries(ctx context.Context, srcSpaceID, dstSpaceID string, version int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO entry (spaceid, key, value, deleted, version, lastmodified)
		SELECT ?, key, value, 0, ?, ? FROM entry
		WHERE spaceid = ? AND deleted = 0
		ON CONFLICT(spaceid, key) DO NOTHING`,
		dstSpaceID, version, nowString(), srcSpaceID)
	if err != nil {
		return fmt.Errorf("failed to copy entries from space %s to %s: %w", srcSpaceID, dstSpaceID, err)
	}
	return nil
}

// EntryCount returns the number of live entries in a space.
func (t *Tx) EntryCount(ctx context.Context, spaceID string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entry WHERE spaceid = ? AND deleted = 0`, spaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries for space %s: %w", spaceID, err)
	}
	return count, nil
}
