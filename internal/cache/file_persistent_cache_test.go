package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFilePersistentCache_SurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	ctx := context.Background()

	c, err := NewFilePersistentCache(time.Hour, path)
	if err != nil {
		t.Fatalf("NewFilePersistentCache failed: %v", err)
	}
	if err := c.Set(ctx, "normalize:a few", "3"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reloaded, err := NewFilePersistentCache(time.Hour, path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got, err := reloaded.Get(ctx, "normalize:a few")
	if err != nil || got != "3" {
		t.Errorf("Get after reload = %q, %v", got, err)
	}
}

func TestFilePersistentCache_Expiration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	ctx := context.Background()
	c, err := NewFilePersistentCache(20*time.Millisecond, path)
	if err != nil {
		t.Fatalf("NewFilePersistentCache failed: %v", err)
	}
	if err := c.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); err == nil {
		t.Error("expected expired entry to miss")
	}

	// Expired entries are not written back.
	if err := c.Set(ctx, "fresh", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	reloaded, err := NewFilePersistentCache(time.Hour, path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, ok := reloaded.store["k"]; ok || len(reloaded.store) != 1 {
		t.Errorf("unexpected persisted entries: %v", reloaded.store)
	}
}

func TestFilePersistentCache_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	if err := os.WriteFile(path, []byte("k: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFilePersistentCache(time.Hour, path); err == nil {
		t.Error("expected a decode error")
	}
}
