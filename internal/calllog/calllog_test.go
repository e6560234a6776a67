package calllog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

func sampleLogs() []ds.CallLog {
	return []ds.CallLog{
		{SessionID: "s1", Kind: ds.KindSequence, Description: "main", Prompt: "get me a few screws", Answer: "[organize()]", Duration: 120 * time.Millisecond},
		{SessionID: "s2", Kind: ds.KindQueryFill, Description: "QueryFill[length]", Answer: "reasoning: r\nvalue: 12\nabort:"},
		{SessionID: "s1", Kind: ds.KindQueryUser, Description: "QueryUser", Error: "timeout"},
	}
}

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for _, l := range sampleLogs() {
		if err := store.Record(ctx, l); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	s1, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(s1) != 2 || s1[0].Description != "main" || s1[1].Kind != ds.KindQueryUser {
		t.Fatalf("unexpected session logs: %+v", s1)
	}
	if s1[0].Duration != 120*time.Millisecond || s1[0].Answer != "[organize()]" || s1[0].CreatedAt.IsZero() {
		t.Errorf("fields not preserved: %+v", s1[0])
	}
	if s1[1].Error != "timeout" {
		t.Errorf("error not preserved: %+v", s1[1])
	}

	all, err := store.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Errorf("List all = %d, %v", len(all), err)
	}
	none, err := store.List(ctx, "unknown")
	if err != nil || len(none) != 0 {
		t.Errorf("List unknown = %d, %v", len(none), err)
	}
}

func TestMemory(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestSQLite_InMemory(t *testing.T) {
	store, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer store.Close()
	runStoreContract(t, store)
}

func TestSQLite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calls.db")
	ctx := context.Background()

	store, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := store.Record(ctx, sampleLogs()[0]); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	logs, err := reopened.List(ctx, "s1")
	if err != nil || len(logs) != 1 {
		t.Errorf("logs after reopen = %d, %v", len(logs), err)
	}
}
