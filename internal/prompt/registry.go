package prompt

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// Name returns the Genkit prompt name used for an inference kind.
func Name(kind ds.InferenceKind) string {
	return "dragonscale_" + string(kind)
}

// Registry manages the definition and execution of Genkit prompts, one per
// inference kind.
type Registry struct {
	genkitInstance *genkit.Genkit
}

// NewRegistry initializes the Genkit environment and creates a prompt registry.
// Pass plugin and model options the same way as to genkit.Init.
func NewRegistry(ctx context.Context, opts ...genkit.GenkitOption) (*Registry, error) {
	g, err := genkit.Init(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Genkit: %w", err)
	}
	return &Registry{genkitInstance: g}, nil
}

// FromGenkit wraps an already initialized Genkit instance.
func FromGenkit(g *genkit.Genkit) *Registry {
	return &Registry{genkitInstance: g}
}

// Genkit returns the underlying instance.
func (r *Registry) Genkit() *genkit.Genkit {
	return r.genkitInstance
}

// DefineSystemPrompts defines one prompt per kind in set. Each prompt takes
// a single "prompt" input rendered verbatim as the user turn.
func (r *Registry) DefineSystemPrompts(set Set, opts ...ai.PromptOption) error {
	for kind, system := range set {
		all := append([]ai.PromptOption{
			ai.WithSystem(system),
			ai.WithPrompt("{{{prompt}}}"),
		}, opts...)
		if _, err := r.DefinePrompt(Name(kind), all...); err != nil {
			return err
		}
	}
	return nil
}

// GetPrompt retrieves a defined prompt by its name using Genkit's lookup.
func (r *Registry) GetPrompt(name string) (*ai.Prompt, error) {
	p := genkit.LookupPrompt(r.genkitInstance, name)
	if p == nil {
		return nil, fmt.Errorf("prompt '%s' not found", name)
	}
	return p, nil
}

// ExecutePrompt retrieves a prompt by name, renders it with the given input,
// and executes it using the Genkit instance.
func (r *Registry) ExecutePrompt(ctx context.Context, promptName string, input map[string]any, execOpts ...ai.PromptExecuteOption) (*ai.ModelResponse, error) {
	p, err := r.GetPrompt(promptName)
	if err != nil {
		return nil, err
	}

	allOpts := append([]ai.PromptExecuteOption{ai.WithInput(input)}, execOpts...)

	resp, err := p.Execute(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute prompt '%s': %w", promptName, err)
	}
	return resp, nil
}

// Execute runs the prompt defined for kind with text as the user turn and
// returns the response text.
func (r *Registry) Execute(ctx context.Context, kind ds.InferenceKind, text string) (string, error) {
	resp, err := r.ExecutePrompt(ctx, Name(kind), map[string]any{"prompt": text})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// DefinePrompt allows defining prompts programmatically via the registry.
func (r *Registry) DefinePrompt(name string, opts ...ai.PromptOption) (*ai.Prompt, error) {
	p, err := genkit.DefinePrompt(r.genkitInstance, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}
	return p, nil
}
