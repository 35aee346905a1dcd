package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSetGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "cloid:abc", "oid-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := store.Get(ctx, "cloid:abc")
	if err != nil || !ok || val != "oid-1" {
		t.Fatalf("expected oid-1, got %q ok=%v err=%v", val, ok, err)
	}
	if err := store.Set(ctx, "cloid:abc", "oid-2"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	val, _, _ = store.Get(ctx, "cloid:abc")
	if val != "oid-2" {
		t.Fatalf("expected upserted oid-2, got %q", val)
	}
	if err := store.Delete(ctx, "cloid:abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "cloid:abc"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestKeysPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Set(ctx, "scalper:SOL", "{}"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "scalper:BTC", "{}"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "cloid:abc", "oid"); err != nil {
		t.Fatalf("set: %v", err)
	}
	keys, err := store.Keys(ctx, "scalper:")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 scalper keys, got %v", keys)
	}
}
