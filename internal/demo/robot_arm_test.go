package demo

import (
	"context"
	"errors"
	"testing"

	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/registry"
)

func call(t *testing.T, reg *registry.Registry, tool string, raw map[string]any) (any, error) {
	t.Helper()
	tl, err := reg.Tool(tool)
	if err != nil {
		t.Fatalf("tool %s: %v", tool, err)
	}
	args, err := tl.Bind(raw)
	if err != nil {
		return nil, err
	}
	return tl.Call(context.Background(), args)
}

func TestRetrieveScrew(t *testing.T) {
	tests := []struct {
		name        string
		count       int64
		length      int64
		recoverable string
		remaining   int64
	}{
		{"partial", 3, 12, "", 11},
		{"drains the bin", 4, 8, "", 0},
		{"unknown length", 1, 9, "No screws of length 9 found in inventory.", 0},
		{"short stock", 5, 16, "Not enough screws of length 16. Requested 5, available 2.", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arm := NewRobotArm(nil)
			reg, err := arm.Registry()
			if err != nil {
				t.Fatalf("Registry failed: %v", err)
			}
			_, err = call(t, reg, "retrieve_screw", map[string]any{"count": tt.count, "length": tt.length})
			if tt.recoverable != "" {
				rec, ok := registry.IsRecoverable(err)
				if !ok || rec.Message != tt.recoverable {
					t.Fatalf("expected recoverable %q, got %v", tt.recoverable, err)
				}
				if len(arm.Actions()) != 0 {
					t.Errorf("failed retrieval recorded an action: %v", arm.Actions())
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := arm.Stock(tt.length); got != tt.remaining {
				t.Errorf("stock = %d, want %d", got, tt.remaining)
			}
		})
	}
}

func TestRetrieveScrew_Validation(t *testing.T) {
	reg, err := NewRobotArm(nil).Registry()
	if err != nil {
		t.Fatal(err)
	}
	_, err = call(t, reg, "retrieve_screw", map[string]any{"count": int64(0), "length": int64(12)})
	var be *registry.BindingError
	if !errors.As(err, &be) {
		t.Errorf("expected zero count to fail binding, got %v", err)
	}
}

func TestInitializeComponents(t *testing.T) {
	arm := NewRobotArm(nil)
	reg, err := arm.Registry()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := call(t, reg, "initialize_components", map[string]any{"components": "camera"}); err != nil {
		t.Fatalf("scalar component should bind as a list: %v", err)
	}
	if _, err := call(t, reg, "initialize_components", map[string]any{"components": []any{"table", "arm"}}); err == nil {
		t.Error("expected unknown component to fail")
	}
	if got := arm.Actions(); len(got) != 1 || got[0] != `initialize_components(components=["camera"])` {
		t.Errorf("unexpected actions: %v", got)
	}
}

func TestInventorySource(t *testing.T) {
	arm := NewRobotArm(map[int64]int64{16: 2, 8: 4})
	reg, err := arm.Registry()
	if err != nil {
		t.Fatal(err)
	}
	sources := reg.Sources()
	if len(sources) != 1 || sources[0].Name() != "inventory" {
		t.Fatalf("unexpected sources: %v", sources)
	}
	got, err := sources[0].Query(context.Background(), "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	want := "inventory:\n  - length: 8\n    count: 4\n  - length: 16\n    count: 2"
	if got != want {
		t.Errorf("inventory =\n%s\nwant\n%s", got, want)
	}
	if !reg.Frozen() {
		t.Error("registry should be frozen")
	}
}
