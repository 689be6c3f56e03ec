package sync

import (
	"encoding/json"
	"fmt"
)

// Cookie is the client-held cursor into a space's change stream. Version
// bounds incremental diffs by entry version. EndKey, when present, marks an
// initial full sync still paging through non-metadata keys in key order;
// the empty string means the metadata phase just completed and paging has
// not started.
type Cookie struct {
	Version int64   `json:"version"`
	EndKey  *string `json:"endKey,omitempty"`
}

// Validate rejects malformed cursors before any storage access.
func (c *Cookie) Validate() error {
	if c == nil {
		return nil
	}
	if c.Version < 0 {
		return fmt.Errorf("cookie version must be non-negative (got %d)", c.Version)
	}
	return nil
}

// Patch op kinds.
const (
	OpPut = "put"
	OpDel = "del"
)

// PatchOp is one operation of the ordered patch a pull returns. The
// consumer applies ops in order; put/del are idempotent by key, which also
// absorbs the rare duplicate key across the version-delta and paging sets.
type PatchOp struct {
	Op    string          `json:"op"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// PullRequest is the wire shape of a pull. A nil Cookie marks a client's
// first-ever pull for the space.
type PullRequest struct {
	ClientID string  `json:"clientID"`
	Cookie   *Cookie `json:"cookie"`
}

// Validate rejects malformed requests before any storage access.
func (r *PullRequest) Validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("clientID is required")
	}
	if err := r.Cookie.Validate(); err != nil {
		return fmt.Errorf("invalid cookie: %w", err)
	}
	return nil
}

// PullResponse carries the patch that brings a client up to date, the new
// cursor, and the last mutation ID the server has applied for the client
// (so it can discard confirmed local mutations).
type PullResponse struct {
	LastMutationID int64     `json:"lastMutationID"`
	Cookie         Cookie    `json:"cookie"`
	Patch          []PatchOp `json:"patch"`
}

// Mutation is one client-originated write. IDs are assigned by the client
// and must be applied at most once, in order.
type Mutation struct {
	ID   int64           `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// PushRequest is the wire shape of a push: an ordered batch of mutations
// from one client.
type PushRequest struct {
	ClientID  string     `json:"clientID"`
	Mutations []Mutation `json:"mutations"`
}

// Validate rejects malformed push requests before any storage access.
func (r *PushRequest) Validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("clientID is required")
	}
	for i, m := range r.Mutations {
		if m.ID <= 0 {
			return fmt.Errorf("mutation %d: id must be positive (got %d)", i, m.ID)
		}
		if m.Name == "" {
			return fmt.Errorf("mutation %d: name is required", i)
		}
	}
	return nil
}

// partialSyncValue is the payload of the synthetic control/partialSync
// patch entry.
type partialSyncValue struct {
	EndKey string `json:"endKey"`
}
