// Package adapters implements dragonscale.InferenceAdapter on top of Genkit
// and the Anthropic SDK, plus decorators for caching, tracing, rate limiting
// and call recording.
package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/prompt"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// InferenceFlow is the Genkit flow shape used for inference calls.
type InferenceFlow = core.Flow[*ds.InferenceRequest, string, struct{}]

// DefineInferenceFlow registers a flow that sends the request's system
// prompt and prompt to the default model of g.
func DefineInferenceFlow(g *genkit.Genkit, name string) *InferenceFlow {
	return genkit.DefineFlow(g, name, func(ctx context.Context, req *ds.InferenceRequest) (string, error) {
		resp, err := genkit.Generate(ctx, g,
			ai.WithSystem(req.SystemPrompt),
			ai.WithPrompt(req.Prompt),
		)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	})
}

// GenkitFlowAdapter uses a Genkit Flow to implement the InferenceAdapter
// interface.
type GenkitFlowAdapter struct {
	flow *InferenceFlow
}

// NewGenkitFlowAdapter creates a new adapter for an inference flow.
func NewGenkitFlowAdapter(flow *InferenceFlow) *GenkitFlowAdapter {
	return &GenkitFlowAdapter{flow: flow}
}

// Infer implements dragonscale.InferenceAdapter.
func (a *GenkitFlowAdapter) Infer(ctx context.Context, req ds.InferenceRequest) (string, error) {
	out, err := a.flow.Run(ctx, &req)
	if err != nil {
		return "", fmt.Errorf("inference flow execution failed: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("inference flow returned an empty answer")
	}
	return out, nil
}

// GenkitPromptAdapter runs the Genkit prompt defined for each inference
// kind. The request's own system prompt is ignored; the prompt registry
// carries it.
type GenkitPromptAdapter struct {
	registry *prompt.Registry
}

// NewGenkitPromptAdapter defines one prompt per kind in set and returns an
// adapter executing them.
func NewGenkitPromptAdapter(registry *prompt.Registry, set prompt.Set, opts ...ai.PromptOption) (*GenkitPromptAdapter, error) {
	if err := registry.DefineSystemPrompts(set, opts...); err != nil {
		return nil, err
	}
	return &GenkitPromptAdapter{registry: registry}, nil
}

// Infer implements dragonscale.InferenceAdapter.
func (a *GenkitPromptAdapter) Infer(ctx context.Context, req ds.InferenceRequest) (string, error) {
	out, err := a.registry.Execute(ctx, req.Kind, req.Prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("prompt '%s' returned an empty answer", prompt.Name(req.Kind))
	}
	return out, nil
}
