package adapters

import (
	"context"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/prompt"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// newEchoGenkit initializes Genkit with a default model that answers
// "<system> | <user>", or reply when it is set.
func newEchoGenkit(t *testing.T, reply *string) *genkit.Genkit {
	t.Helper()
	g, err := genkit.Init(context.Background(), genkit.WithDefaultModel("test/echo"))
	if err != nil {
		t.Fatalf("genkit.Init failed: %v", err)
	}
	genkit.DefineModel(g, "test", "echo", &ai.ModelInfo{
		Label:    "echo",
		Supports: &ai.ModelSupports{Multiturn: true, SystemRole: true},
	}, func(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		if reply != nil {
			return &ai.ModelResponse{Request: req, Message: ai.NewModelTextMessage(*reply)}, nil
		}
		var system, user string
		for _, m := range req.Messages {
			switch m.Role {
			case ai.RoleSystem:
				system = m.Text()
			case ai.RoleUser:
				user = m.Text()
			}
		}
		return &ai.ModelResponse{Request: req, Message: ai.NewModelTextMessage(system + " | " + user)}, nil
	})
	return g
}

func TestGenkitFlowAdapter(t *testing.T) {
	g := newEchoGenkit(t, nil)
	a := NewGenkitFlowAdapter(DefineInferenceFlow(g, "inference"))

	out, err := a.Infer(context.Background(), ds.InferenceRequest{
		Kind:         ds.KindSequence,
		SystemPrompt: "You sequence intents.",
		Prompt:       "get me a few screws",
	})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if out != "You sequence intents. | get me a few screws" {
		t.Errorf("unexpected answer %q", out)
	}
}

func TestGenkitFlowAdapter_EmptyAnswer(t *testing.T) {
	empty := "  "
	g := newEchoGenkit(t, &empty)
	a := NewGenkitFlowAdapter(DefineInferenceFlow(g, "inference"))
	if _, err := a.Infer(context.Background(), ds.InferenceRequest{Kind: ds.KindNormalize, Prompt: "a few"}); err == nil {
		t.Error("an empty answer must be an error")
	}
}

func TestGenkitPromptAdapter(t *testing.T) {
	g := newEchoGenkit(t, nil)
	set := prompt.Set{
		ds.KindSequence:  "You sequence intents.",
		ds.KindNormalize: "You read vague quantities.",
	}
	a, err := NewGenkitPromptAdapter(prompt.FromGenkit(g), set)
	if err != nil {
		t.Fatalf("NewGenkitPromptAdapter failed: %v", err)
	}

	tests := []struct {
		kind ds.InferenceKind
		want string
	}{
		{ds.KindSequence, "You sequence intents. | get me a few screws"},
		{ds.KindNormalize, "You read vague quantities. | get me a few screws"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			// The request's system prompt is replaced by the registered one.
			out, err := a.Infer(context.Background(), ds.InferenceRequest{
				Kind:         tt.kind,
				SystemPrompt: "ignored",
				Prompt:       "get me a few screws",
			})
			if err != nil {
				t.Fatalf("Infer failed: %v", err)
			}
			if out != tt.want {
				t.Errorf("answer = %q, want %q", out, tt.want)
			}
		})
	}

	_, err = a.Infer(context.Background(), ds.InferenceRequest{Kind: ds.KindQueryFill, Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), prompt.Name(ds.KindQueryFill)) {
		t.Errorf("undefined kind: expected a lookup error, got %v", err)
	}
}
