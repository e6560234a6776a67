package fuzzy

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/prompt"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// Model asks the inference adapter for a reading. Answers are cached by
// descriptor so the same descriptor always normalizes the same way.
type Model struct {
	adapter ds.InferenceAdapter
	cache   ds.Cache
	system  string
}

// NewModel creates a model-backed normalizer. cache may be nil.
func NewModel(adapter ds.InferenceAdapter, cache ds.Cache, prompts prompt.Set) *Model {
	return &Model{adapter: adapter, cache: cache, system: prompts.System(ds.KindNormalize)}
}

func cacheKey(descriptor string) string {
	sum := sha1.Sum([]byte(canonical(descriptor)))
	return "normalize:" + hex.EncodeToString(sum[:])
}

// Normalize implements dragonscale.Normalizer.
func (m *Model) Normalize(ctx context.Context, descriptor string) (any, error) {
	key := cacheKey(descriptor)
	if m.cache != nil {
		if cached, err := m.cache.Get(ctx, key); err == nil {
			return m.interpret(descriptor, cached)
		}
	}
	answer, err := m.adapter.Infer(ctx, ds.InferenceRequest{
		Kind:         ds.KindNormalize,
		SystemPrompt: m.system,
		Prompt:       descriptor,
	})
	if err != nil {
		return nil, err
	}
	v, err := m.interpret(descriptor, answer)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, key, answer); err != nil {
			log.Printf("Failed to cache normalization (descriptor: %s, error: %v)", descriptor, err)
		}
	}
	return v, nil
}

func (m *Model) interpret(descriptor, answer string) (any, error) {
	v := dsl.ParseLiteral(strings.TrimSpace(answer))
	switch x := v.V.(type) {
	case int64, float64:
		return x, nil
	}
	return nil, fmt.Errorf("%w: model answered %q for %q", ErrUnrecognized, answer, descriptor)
}

// Chain tries each normalizer in order and returns the first reading.
type Chain []ds.Normalizer

// Normalize implements dragonscale.Normalizer. Errors other than
// ErrUnrecognized stop the chain.
func (c Chain) Normalize(ctx context.Context, descriptor string) (any, error) {
	var errs []error
	for _, n := range c {
		v, err := n.Normalize(ctx, descriptor)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrUnrecognized) {
			return nil, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnrecognized, descriptor)
	}
	return nil, errors.Join(errs...)
}

// Default is the table followed by the expression normalizer.
func Default() Chain {
	t := NewTable(nil)
	return Chain{t, NewExpression(nil, t)}
}
