package adapters

import (
	"context"
	"fmt"
	"sync"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// ScriptedAdapter replays canned answers per inference kind. It backs
// offline demos, scripted sessions and tests.
type ScriptedAdapter struct {
	mu       sync.Mutex
	replies  map[ds.InferenceKind][]string
	fallback map[ds.InferenceKind]string
	errs     map[ds.InferenceKind]error
	requests []ds.InferenceRequest
}

// NewScriptedAdapter creates an adapter with no replies queued.
func NewScriptedAdapter() *ScriptedAdapter {
	return &ScriptedAdapter{
		replies:  make(map[ds.InferenceKind][]string),
		fallback: make(map[ds.InferenceKind]string),
		errs:     make(map[ds.InferenceKind]error),
	}
}

// Reply queues answers for kind, returned in order.
func (a *ScriptedAdapter) Reply(kind ds.InferenceKind, answers ...string) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies[kind] = append(a.replies[kind], answers...)
	return a
}

// Always answers every call of kind with answer once the queue is empty.
func (a *ScriptedAdapter) Always(kind ds.InferenceKind, answer string) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallback[kind] = answer
	return a
}

// Fail makes every call of kind return err.
func (a *ScriptedAdapter) Fail(kind ds.InferenceKind, err error) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs[kind] = err
	return a
}

// Requests returns the requests received so far.
func (a *ScriptedAdapter) Requests() []ds.InferenceRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ds.InferenceRequest, len(a.requests))
	copy(out, a.requests)
	return out
}

// Calls counts the requests of kind.
func (a *ScriptedAdapter) Calls(kind ds.InferenceKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.requests {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// Infer implements dragonscale.InferenceAdapter.
func (a *ScriptedAdapter) Infer(ctx context.Context, req ds.InferenceRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	if err := a.errs[req.Kind]; err != nil {
		return "", err
	}
	if queue := a.replies[req.Kind]; len(queue) > 0 {
		a.replies[req.Kind] = queue[1:]
		return queue[0], nil
	}
	if answer, ok := a.fallback[req.Kind]; ok {
		return answer, nil
	}
	return "", fmt.Errorf("no scripted reply for %s", req.Kind)
}
