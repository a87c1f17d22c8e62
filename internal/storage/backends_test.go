package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func testBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := b.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("missing key: ok=%v err=%v", ok, err)
	}

	if err := b.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, ok, err := b.Get(ctx, "a"); !ok || err != nil || v != "1" {
		t.Errorf("Get = %q,%v,%v", v, ok, err)
	}

	if err := b.Set(ctx, "a", "2"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if v, _, _ := b.Get(ctx, "a"); v != "2" {
		t.Errorf("overwritten value = %q", v)
	}

	if err := b.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "a"); ok {
		t.Error("key survived delete")
	}
	if err := b.Delete(ctx, "a"); err != nil {
		t.Errorf("deleting a missing key should be a no-op, got %v", err)
	}

	// Keys with path-hostile characters must not escape the store.
	if err := b.Set(ctx, "bmTemplates_part_0/../x", "v"); err != nil {
		t.Fatalf("hostile key Set failed: %v", err)
	}
	if v, ok, _ := b.Get(ctx, "bmTemplates_part_0/../x"); !ok || v != "v" {
		t.Error("hostile key did not round-trip")
	}
}

func TestMemoryBackend(t *testing.T) {
	testBackend(t, NewMemory())
}

func TestFileBackend(t *testing.T) {
	b, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	testBackend(t, b)
}

func TestFileBackendKeys(t *testing.T) {
	b, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = b.Set(ctx, "one", "1")
	_ = b.Set(ctx, "two", "2")

	keys, err := b.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys = %v, want 2 entries", keys)
	}
}

func TestSQLiteBackend(t *testing.T) {
	b, err := NewSQLite(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer b.Close()
	testBackend(t, b)
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	b, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	b.Close()

	b2, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()
	if v, ok, _ := b2.Get(ctx, "k"); !ok || v != "v" {
		t.Error("value did not survive reopen")
	}
}
