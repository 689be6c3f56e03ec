package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/liteboard/liteboard/internal/store"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *store.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return db
}

func TestWriteTxReadYourWrites(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transact(ctx, func(tx *store.Tx) error {
		wt := NewWriteTx(tx, "s1", 1)

		wt.Put("k", []byte("v"))
		value, ok, err := wt.Get(ctx, "k")
		if err != nil {
			return err
		}
		if !ok || string(value) != "v" {
			t.Errorf("expected uncommitted write to be readable, got %q (ok=%v)", value, ok)
		}

		// Not visible in storage before flush.
		_, stored, err := tx.GetEntry(ctx, "s1", "k")
		if err != nil {
			return err
		}
		if stored {
			t.Error("expected write to be deferred until flush")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestWriteTxReadThroughCaches(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transact(ctx, func(tx *store.Tx) error {
		if err := tx.PutEntries(ctx, "s1", map[string][]byte{"k": []byte("stored")}, 1); err != nil {
			return err
		}

		wt := NewWriteTx(tx, "s1", 2)
		value, ok, err := wt.Get(ctx, "k")
		if err != nil {
			return err
		}
		if !ok || string(value) != "stored" {
			t.Errorf("expected read-through value, got %q (ok=%v)", value, ok)
		}

		// A clean cached read must not turn into a write on flush.
		if err := wt.Flush(ctx); err != nil {
			return err
		}
		entries, err := tx.GetChangedEntries(ctx, "s1", 1)
		if err != nil {
			return err
		}
		if len(entries) != 0 {
			t.Errorf("expected no writes from clean reads, got %d", len(entries))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestWriteTxDelReportsPriorExistence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transact(ctx, func(tx *store.Tx) error {
		if err := tx.PutEntries(ctx, "s1", map[string][]byte{"k": []byte("v")}, 1); err != nil {
			return err
		}

		wt := NewWriteTx(tx, "s1", 2)

		existed, err := wt.Del(ctx, "k")
		if err != nil {
			return err
		}
		if !existed {
			t.Error("expected Del of stored key to report prior existence")
		}

		existed, err = wt.Del(ctx, "missing")
		if err != nil {
			return err
		}
		if existed {
			t.Error("expected Del of absent key to report no prior value")
		}

		// Deleted within the transaction: invisible to Get/Has.
		ok, err := wt.Has(ctx, "k")
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected deleted key to be absent within the transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestWriteTxFlushLastWriterWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transact(ctx, func(tx *store.Tx) error {
		wt := NewWriteTx(tx, "s1", 7)
		wt.Put("a", []byte("first"))
		wt.Put("a", []byte("second"))
		wt.Put("b", []byte("kept"))
		if _, err := wt.Del(ctx, "b"); err != nil {
			return err
		}
		wt.Put("c", []byte("restored"))
		return wt.Flush(ctx)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	err = db.Transact(ctx, func(tx *store.Tx) error {
		value, ok, err := tx.GetEntry(ctx, "s1", "a")
		if err != nil {
			return err
		}
		if !ok || string(value) != "second" {
			t.Errorf("expected last write for a, got %q (ok=%v)", value, ok)
		}

		_, ok, err = tx.GetEntry(ctx, "s1", "b")
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected b to end deleted")
		}

		// Every stored row carries the transaction's version.
		entries, err := tx.GetChangedEntries(ctx, "s1", 0)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Version != 7 {
				t.Errorf("entry %s stamped with version %d, want 7", e.Key, e.Version)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestWriteTxUnsupportedOps(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transact(ctx, func(tx *store.Tx) error {
		wt := NewWriteTx(tx, "s1", 1)

		if err := wt.Scan(ctx, "issue/"); !errors.Is(err, ErrUnsupported) {
			t.Errorf("expected ErrUnsupported from Scan, got %v", err)
		}
		if _, err := wt.IsEmpty(ctx); !errors.Is(err, ErrUnsupported) {
			t.Errorf("expected ErrUnsupported from IsEmpty, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}
