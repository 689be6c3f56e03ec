package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/liteboard/liteboard/internal/issue"
	"github.com/liteboard/liteboard/internal/store"
)

// DefaultPageLimit is the maximum number of non-metadata entries returned
// per incremental full-sync page.
const DefaultPageLimit = 3000

// DefaultTemplateSpace is the space whose entries seed every new space.
// Overridable via Config so deployments are not tied to a sentinel ID.
const DefaultTemplateSpace = "seed"

// Config holds reconciler settings.
type Config struct {
	// TemplateSpace is the space ID holding the seed dataset. New spaces
	// bootstrap by bulk-copying its entries. Default: "seed".
	TemplateSpace string

	// PageLimit is the full-sync page size. Default: 3000.
	PageLimit int

	// Logger for reconciler activity. Default: stderr logger.
	Logger *log.Logger
}

// Reconciler answers pull requests: given a client's cursor it computes the
// ordered patch needed to bring the client up to date, plus a new cursor.
type Reconciler struct {
	db            *store.DB
	templateSpace string
	pageLimit     int
	logger        *log.Logger
}

// NewReconciler creates a pull reconciler over an opened store. A nil
// config gets defaults.
func NewReconciler(db *store.DB, cfg *Config) *Reconciler {
	if cfg == nil {
		cfg = &Config{}
	}
	templateSpace := cfg.TemplateSpace
	if templateSpace == "" {
		templateSpace = DefaultTemplateSpace
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[pull] ", log.LstdFlags)
	}
	return &Reconciler{
		db:            db,
		templateSpace: templateSpace,
		pageLimit:     pageLimit,
		logger:        logger,
	}
}

// Pull computes the patch and next cursor for one client request. The
// whole request executes inside a single storage transaction; storage
// errors propagate as fatal request failures with no retry here.
func (r *Reconciler) Pull(ctx context.Context, spaceID string, req *PullRequest) (*PullResponse, error) {
	if spaceID == "" {
		return nil, fmt.Errorf("spaceID is required")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pull request: %w", err)
	}

	var resp *PullResponse
	err := r.db.Transact(ctx, func(tx *store.Tx) error {
		if err := r.ensureSpace(ctx, tx, spaceID); err != nil {
			return err
		}

		version, ok, err := tx.GetCookie(ctx, spaceID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("space %s missing after init", spaceID)
		}

		lastMutationID, err := tx.GetLastMutationID(ctx, req.ClientID)
		if err != nil {
			return err
		}

		resp = &PullResponse{
			LastMutationID: lastMutationID,
			Cookie:         Cookie{Version: version},
			Patch:          []PatchOp{},
		}

		if req.Cookie == nil {
			// First-ever pull: metadata subset only. The empty endKey tells
			// the client the full sync is in progress with paging yet to
			// start.
			entries, err := tx.GetMetadataEntries(ctx, spaceID)
			if err != nil {
				return err
			}
			emptyKey := ""
			resp.Cookie.EndKey = &emptyKey
			resp.Patch = appendEntryOps(resp.Patch, entries)
			return nil
		}

		entries, err := tx.GetChangedEntries(ctx, spaceID, req.Cookie.Version)
		if err != nil {
			return err
		}
		resp.Patch = appendEntryOps(resp.Patch, entries)

		if req.Cookie.EndKey != nil {
			page, err := tx.GetEntriesAfter(ctx, spaceID, *req.Cookie.EndKey, r.pageLimit)
			if err != nil {
				return err
			}
			resp.Patch = appendEntryOps(resp.Patch, page)

			if len(page) == r.pageLimit {
				// More pages remain: hand the client the next endKey and a
				// control entry prompting it to pull again immediately.
				next := page[len(page)-1].Key
				resp.Cookie.EndKey = &next
				value, err := json.Marshal(partialSyncValue{EndKey: next})
				if err != nil {
					return fmt.Errorf("failed to marshal partial sync control value: %w", err)
				}
				resp.Patch = append(resp.Patch, PatchOp{
					Op:    OpPut,
					Key:   issue.ControlPartialSyncKey,
					Value: value,
				})
			}
			// Short page: full sync complete, endKey stays dropped.
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Initialize creates a space outside the pull path, seeding the template
// space first if the system has never been seeded. Idempotent.
func (r *Reconciler) Initialize(ctx context.Context, spaceID string) error {
	return r.db.Transact(ctx, func(tx *store.Tx) error {
		return r.ensureSpace(ctx, tx, spaceID)
	})
}

// TemplateSpace returns the configured seed-template space ID.
func (r *Reconciler) TemplateSpace() string {
	return r.templateSpace
}

// ensureSpace lazily creates the target space. The first space ever needed
// seeds the template space from the embedded sample dataset; every other
// new space bulk-copies the template's entries. Both steps are
// existence-gated and tolerate losing the race to a concurrent pull: the
// copy lands as a no-op on conflicting keys.
func (r *Reconciler) ensureSpace(ctx context.Context, tx *store.Tx, spaceID string) error {
	exists, err := tx.SpaceExists(ctx, spaceID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	templateExists, err := tx.SpaceExists(ctx, r.templateSpace)
	if err != nil {
		return err
	}
	if !templateExists {
		if err := r.seedTemplate(ctx, tx); err != nil {
			return err
		}
	}
	if spaceID == r.templateSpace {
		return nil
	}

	if err := tx.SetCookie(ctx, spaceID, 1); err != nil {
		return err
	}
	if err := tx.CopySpaceEntries(ctx, r.templateSpace, spaceID, 1); err != nil {
		return err
	}
	r.logger.Printf("Initialized space %s from template %s", spaceID, r.templateSpace)
	return nil
}

// seedTemplate writes the embedded sample dataset into the template space
// at version 1.
func (r *Reconciler) seedTemplate(ctx context.Context, tx *store.Tx) error {
	seed, err := issue.SeedEntries()
	if err != nil {
		return err
	}

	wt := NewWriteTx(tx, r.templateSpace, 1)
	for _, e := range seed {
		wt.Put(e.Key, e.Value)
	}
	if err := wt.Flush(ctx); err != nil {
		return fmt.Errorf("failed to seed template space %s: %w", r.templateSpace, err)
	}
	if err := tx.SetCookie(ctx, r.templateSpace, 1); err != nil {
		return err
	}
	r.logger.Printf("Seeded template space %s with %d entries", r.templateSpace, len(seed))
	return nil
}

// appendEntryOps maps store entries onto patch operations.
func appendEntryOps(patch []PatchOp, entries []store.Entry) []PatchOp {
	for _, e := range entries {
		if e.Deleted {
			patch = append(patch, PatchOp{Op: OpDel, Key: e.Key})
		} else {
			patch = append(patch, PatchOp{Op: OpPut, Key: e.Key, Value: json.RawMessage(e.Value)})
		}
	}
	return patch
}
