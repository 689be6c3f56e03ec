package sync

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/liteboard/liteboard/internal/issue"
	"github.com/liteboard/liteboard/internal/store"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestReconciler(t *testing.T, db *store.DB, pageLimit int) *Reconciler {
	t.Helper()
	return NewReconciler(db, &Config{
		PageLimit: pageLimit,
		Logger:    quietLogger(),
	})
}

func TestPullFirstEverReturnsMetadataOnly(t *testing.T) {
	db := setupTestDB(t)
	r := newTestReconciler(t, db, 0)
	ctx := context.Background()

	resp, err := r.Pull(ctx, "space-a", &PullRequest{ClientID: "c1"})
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if resp.LastMutationID != 0 {
		t.Errorf("expected lastMutationID 0 for fresh client, got %d", resp.LastMutationID)
	}
	if resp.Cookie.Version != 1 {
		t.Errorf("expected cookie version 1 after seeding, got %d", resp.Cookie.Version)
	}
	if resp.Cookie.EndKey == nil || *resp.Cookie.EndKey != "" {
		t.Errorf("expected endKey \"\" marking full sync in progress, got %v", resp.Cookie.EndKey)
	}

	if len(resp.Patch) == 0 {
		t.Fatal("expected seeded metadata in the patch")
	}
	for _, op := range resp.Patch {
		if op.Op != OpPut {
			t.Errorf("expected only put ops on first pull, got %s for %s", op.Op, op.Key)
		}
		if !issue.IsMetadataKey(op.Key) {
			t.Errorf("expected only metadata keys on first pull, got %s", op.Key)
		}
	}
}

func TestPullPagesThroughNonMetadataExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	r := newTestReconciler(t, db, 2)
	ctx := context.Background()

	resp, err := r.Pull(ctx, "space-a", &PullRequest{ClientID: "c1"})
	if err != nil {
		t.Fatalf("initial pull failed: %v", err)
	}

	var paged []string
	cookie := resp.Cookie
	for rounds := 0; cookie.EndKey != nil; rounds++ {
		if rounds > 50 {
			t.Fatal("paging did not terminate")
		}

		resp, err = r.Pull(ctx, "space-a", &PullRequest{ClientID: "c1", Cookie: &cookie})
		if err != nil {
			t.Fatalf("paging pull failed: %v", err)
		}

		sawControl := false
		for _, op := range resp.Patch {
			if op.Key == issue.ControlPartialSyncKey {
				sawControl = true
				continue
			}
			if op.Op != OpPut {
				t.Errorf("unexpected %s op for %s during paging", op.Op, op.Key)
			}
			paged = append(paged, op.Key)
		}

		if resp.Cookie.EndKey != nil {
			if !sawControl {
				t.Error("expected control/partialSync entry on a full page")
			}
			if last := paged[len(paged)-1]; *resp.Cookie.EndKey != last {
				t.Errorf("expected endKey %q to be the last paged key, got %q", last, *resp.Cookie.EndKey)
			}
		} else if sawControl {
			t.Error("expected no control entry on the final page")
		}
		cookie = resp.Cookie
	}

	// Every non-metadata seed key delivered exactly once, in ascending order.
	seed, err := issue.SeedEntries()
	if err != nil {
		t.Fatalf("SeedEntries failed: %v", err)
	}
	var want []string
	for _, e := range seed {
		if !issue.IsMetadataKey(e.Key) {
			want = append(want, e.Key)
		}
	}
	if len(paged) != len(want) {
		t.Fatalf("expected %d paged keys, got %d: %v", len(want), len(paged), paged)
	}
	for i := 1; i < len(paged); i++ {
		if paged[i] <= paged[i-1] {
			t.Errorf("paged keys out of order: %q then %q", paged[i-1], paged[i])
		}
	}
	seen := make(map[string]bool)
	for _, k := range paged {
		if seen[k] {
			t.Errorf("key %s delivered twice", k)
		}
		seen[k] = true
		if issue.IsMetadataKey(k) {
			t.Errorf("metadata key %s delivered during paging", k)
		}
	}
	for _, k := range want {
		if !seen[k] {
			t.Errorf("key %s never delivered", k)
		}
	}
}

func TestPullIncrementalSeesDelete(t *testing.T) {
	db := setupTestDB(t)
	r := newTestReconciler(t, db, 0)
	p := NewPusher(db, quietLogger())
	ctx := context.Background()

	if _, err := r.Pull(ctx, "space-a", &PullRequest{ClientID: "c1"}); err != nil {
		t.Fatalf("initial pull failed: %v", err)
	}

	err := p.Push(ctx, "space-a", &PushRequest{
		ClientID: "c1",
		Mutations: []Mutation{
			{ID: 1, Name: "deleteIssue", Args: []byte(`{"id":"lb-1"}`)},
		},
	})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}

	resp, err := r.Pull(ctx, "space-a", &PullRequest{ClientID: "c1", Cookie: &Cookie{Version: 1}})
	if err != nil {
		t.Fatalf("incremental pull failed: %v", err)
	}

	if resp.Cookie.Version != 2 {
		t.Errorf("expected cookie version 2 after delete, got %d", resp.Cookie.Version)
	}
	dels := make(map[string]bool)
	for _, op := range resp.Patch {
		if op.Op == OpDel {
			dels[op.Key] = true
		}
	}
	if !dels[issue.Key("lb-1")] {
		t.Errorf("expected del op for %s, patch: %v", issue.Key("lb-1"), resp.Patch)
	}
	if !dels[issue.DescriptionKey("lb-1")] {
		t.Errorf("expected del op for %s", issue.DescriptionKey("lb-1"))
	}
}

func TestPullSeedingIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	r := newTestReconciler(t, db, 0)
	ctx := context.Background()

	if err := r.Initialize(ctx, "space-a"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := r.Initialize(ctx, "space-a"); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if _, err := r.Pull(ctx, "space-a", &PullRequest{ClientID: "c1"}); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	seed, err := issue.SeedEntries()
	if err != nil {
		t.Fatalf("SeedEntries failed: %v", err)
	}

	for _, spaceID := range []string{r.TemplateSpace(), "space-a"} {
		var count int
		err := db.Transact(ctx, func(tx *store.Tx) error {
			var err error
			count, err = tx.EntryCount(ctx, spaceID)
			return err
		})
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != len(seed) {
			t.Errorf("space %s: expected exactly one copy of the %d seed entries, got %d",
				spaceID, len(seed), count)
		}
	}
}

func TestPullNewSpacesShareSeedData(t *testing.T) {
	db := setupTestDB(t)
	r := newTestReconciler(t, db, 0)
	ctx := context.Background()

	respA, err := r.Pull(ctx, "space-a", &PullRequest{ClientID: "c1"})
	if err != nil {
		t.Fatalf("pull space-a failed: %v", err)
	}
	respB, err := r.Pull(ctx, "space-b", &PullRequest{ClientID: "c2"})
	if err != nil {
		t.Fatalf("pull space-b failed: %v", err)
	}

	keysA := patchKeys(respA.Patch)
	keysB := patchKeys(respB.Patch)
	if strings.Join(keysA, ",") != strings.Join(keysB, ",") {
		t.Errorf("expected both new spaces to start from the same seed:\n%v\n%v", keysA, keysB)
	}
}

func TestPullRejectsMalformedRequests(t *testing.T) {
	db := setupTestDB(t)
	r := newTestReconciler(t, db, 0)
	ctx := context.Background()

	if _, err := r.Pull(ctx, "", &PullRequest{ClientID: "c1"}); err == nil {
		t.Error("expected error for missing spaceID")
	}
	if _, err := r.Pull(ctx, "space-a", &PullRequest{}); err == nil {
		t.Error("expected error for missing clientID")
	}
	if _, err := r.Pull(ctx, "space-a", &PullRequest{
		ClientID: "c1",
		Cookie:   &Cookie{Version: -1},
	}); err == nil {
		t.Error("expected error for negative cookie version")
	}

	// Rejected before storage access: nothing was created or seeded.
	err := db.Transact(ctx, func(tx *store.Tx) error {
		exists, err := tx.SpaceExists(ctx, r.TemplateSpace())
		if err != nil {
			return err
		}
		if exists {
			t.Error("expected no seeding for rejected requests")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
}

func TestPullReturnsLastMutationID(t *testing.T) {
	db := setupTestDB(t)
	r := newTestReconciler(t, db, 0)
	p := NewPusher(db, quietLogger())
	ctx := context.Background()

	if _, err := r.Pull(ctx, "space-a", &PullRequest{ClientID: "c1"}); err != nil {
		t.Fatalf("initial pull failed: %v", err)
	}

	err := p.Push(ctx, "space-a", &PushRequest{
		ClientID: "c1",
		Mutations: []Mutation{
			{ID: 1, Name: "putIssueDescription", Args: []byte(`{"issueID":"lb-4","body":"updated"}`)},
			{ID: 2, Name: "putIssueDescription", Args: []byte(`{"issueID":"lb-7","body":"added"}`)},
		},
	})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}

	resp, err := r.Pull(ctx, "space-a", &PullRequest{ClientID: "c1", Cookie: &Cookie{Version: 1}})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if resp.LastMutationID != 2 {
		t.Errorf("expected lastMutationID 2, got %d", resp.LastMutationID)
	}
}

func patchKeys(patch []PatchOp) []string {
	var keys []string
	for _, op := range patch {
		keys = append(keys, op.Key)
	}
	return keys
}
