package script

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

func TestLoad(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "screws.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if f.Name != "screws" || len(f.Answers) != 1 || f.Expect == nil {
		t.Fatalf("unexpected script: %+v", f)
	}
	tree, err := f.Tree()
	if err != nil {
		t.Fatalf("Tree failed: %v", err)
	}
	if len(tree.Items) != 2 {
		t.Errorf("expected two intents, got %s", tree)
	}

	ch := f.Channel()
	got, err := ch.Ask(context.Background(), ds.InteractionRequest{Message: "what length?"})
	if err != nil || got != "12" {
		t.Errorf("channel answer = %q, %v", got, err)
	}
}

func TestLoad_PromptScriptWiresAdapter(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "longest.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	a := f.Adapter()
	answer, err := a.Infer(context.Background(), ds.InferenceRequest{Kind: ds.KindSequence})
	if err != nil || !strings.HasPrefix(answer, "retrieve_screw(") {
		t.Errorf("sequence reply = %q, %v", answer, err)
	}
	if _, err := a.Infer(context.Background(), ds.InferenceRequest{Kind: ds.KindSequence}); err == nil {
		t.Error("expected the queue to be exhausted")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"unparsable dsl", filepath.Join("testdata", "invalid.yml")},
		{"missing file", filepath.Join("testdata", "nope.yaml")},
		{"unknown extension", filepath.Join("testdata", "screws.json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"both", "name: x\nprompt: p\ndsl: organize()\n", "both"},
		{"neither", "name: x\n", "neither"},
		{"prompt without sequence replies", "name: x\nprompt: p\n", "no sequence replies"},
		{"unknown kind", "name: x\ndsl: organize()\nreplies:\n  guess: [a]\n", "unknown reply kind"},
		{"ok", "name: x\ndsl: organize()\nreplies:\n  query_fill: [a]\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			err = f.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	f := &File{Name: "v", Expect: &Expectation{Status: "SUCCESS", Results: []string{`"ok"`, "3", "None"}}}
	if err := f.Verify("SUCCESS", []any{"ok", int64(3), nil}); err != nil {
		t.Errorf("unexpected mismatch: %v", err)
	}
	if err := f.Verify("ABORTED_RECOVERABLE", nil); err == nil {
		t.Error("expected a status mismatch")
	}
	if err := f.Verify("SUCCESS", []any{"ok", int64(4), nil}); err == nil {
		t.Error("expected a result mismatch")
	}
	if err := (&File{}).Verify("anything", nil); err != nil {
		t.Errorf("no expectation should always pass: %v", err)
	}
}
