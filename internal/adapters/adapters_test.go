package adapters

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/trace/noop"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

type mapCache struct {
	mu sync.Mutex
	m  map[string]string
}

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	if !ok {
		return "", errors.New("miss")
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]string)
	}
	c.m[key] = value
	return nil
}

type memRecorder struct {
	logs []ds.CallLog
}

func (r *memRecorder) Record(_ context.Context, l ds.CallLog) error {
	r.logs = append(r.logs, l)
	return nil
}

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestScriptedAdapter(t *testing.T) {
	a := NewScriptedAdapter().
		Reply(ds.KindQueryFill, "first", "second").
		Always(ds.KindQueryUser, "always")
	ctx := context.Background()

	for _, want := range []string{"first", "second"} {
		got, err := a.Infer(ctx, ds.InferenceRequest{Kind: ds.KindQueryFill})
		if err != nil || got != want {
			t.Errorf("Infer = %q, %v; want %q", got, err, want)
		}
	}
	if _, err := a.Infer(ctx, ds.InferenceRequest{Kind: ds.KindQueryFill}); err == nil {
		t.Error("expected error once the queue is drained")
	}
	if got, _ := a.Infer(ctx, ds.InferenceRequest{Kind: ds.KindQueryUser}); got != "always" {
		t.Errorf("fallback = %q", got)
	}
	boom := errors.New("boom")
	a.Fail(ds.KindSequence, boom)
	if _, err := a.Infer(ctx, ds.InferenceRequest{Kind: ds.KindSequence}); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if a.Calls(ds.KindQueryFill) != 3 || len(a.Requests()) != 5 {
		t.Errorf("unexpected request count: %d / %d", a.Calls(ds.KindQueryFill), len(a.Requests()))
	}
}

func TestCachedAdapter(t *testing.T) {
	inner := NewScriptedAdapter().Reply(ds.KindQueryFill, "reasoning: r\nvalue: 12\nabort:")
	cached := NewCachedAdapter(inner, &mapCache{})
	req := ds.InferenceRequest{Kind: ds.KindQueryFill, SystemPrompt: "s", Prompt: "p"}
	for i := 0; i < 3; i++ {
		out, err := cached.Infer(context.Background(), req)
		if err != nil || out != "reasoning: r\nvalue: 12\nabort:" {
			t.Fatalf("Infer = %q, %v", out, err)
		}
	}
	if inner.Calls(ds.KindQueryFill) != 1 {
		t.Errorf("inner adapter called %d times, want 1", inner.Calls(ds.KindQueryFill))
	}
	other := ds.InferenceRequest{Kind: ds.KindQueryFill, SystemPrompt: "s", Prompt: "different"}
	if _, err := cached.Infer(context.Background(), other); err == nil {
		t.Error("expected a miss for a different prompt")
	}
}

func TestTracedAdapter_PassesThrough(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	boom := errors.New("boom")
	inner := NewScriptedAdapter().Reply(ds.KindSequence, "[organize()]").Fail(ds.KindQueryUser, boom)
	traced := NewTracedAdapter(inner, tracer)
	out, err := traced.Infer(context.Background(), ds.InferenceRequest{Kind: ds.KindSequence})
	if err != nil || out != "[organize()]" {
		t.Errorf("Infer = %q, %v", out, err)
	}
	if _, err := traced.Infer(context.Background(), ds.InferenceRequest{Kind: ds.KindQueryUser}); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestRateLimitedAdapter_HonorsCancellation(t *testing.T) {
	inner := NewScriptedAdapter().Always(ds.KindQueryFill, "ok")
	limited := NewRateLimitedAdapter(inner, 0.001, 1)
	if _, err := limited.Infer(context.Background(), ds.InferenceRequest{Kind: ds.KindQueryFill}); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := limited.Infer(ctx, ds.InferenceRequest{Kind: ds.KindQueryFill}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRecordingAdapter(t *testing.T) {
	rec := &memRecorder{}
	inner := NewScriptedAdapter().Reply(ds.KindQueryFill, "answer")
	recording := NewRecordingAdapter(inner, rec)
	ctx := ds.WithSessionID(context.Background(), "s-1")
	_, _ = recording.Infer(ctx, ds.InferenceRequest{
		Kind:     ds.KindQueryFill,
		Prompt:   "p",
		Metadata: map[string]string{MetaDescription: "QueryFill[length]"},
	})
	_, _ = recording.Infer(ctx, ds.InferenceRequest{Kind: ds.KindQueryFill})
	if len(rec.logs) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(rec.logs))
	}
	first := rec.logs[0]
	if first.SessionID != "s-1" || first.Description != "QueryFill[length]" || first.Answer != "answer" || first.Error != "" {
		t.Errorf("unexpected first log: %+v", first)
	}
	if rec.logs[1].Error == "" {
		t.Error("expected the failed call to carry its error")
	}
}

func TestAnthropicAdapter(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "[organize()]"},
		},
	}}
	a, err := NewAnthropicAdapter(stub, "claude-test", WithMaxTokens(256))
	if err != nil {
		t.Fatalf("NewAnthropicAdapter: %v", err)
	}
	out, err := a.Infer(context.Background(), ds.InferenceRequest{Kind: ds.KindSequence, SystemPrompt: "sys", Prompt: "tidy up"})
	if err != nil || out != "[organize()]" {
		t.Fatalf("Infer = %q, %v", out, err)
	}
	if stub.lastParams.MaxTokens != 256 || string(stub.lastParams.Model) != "claude-test" {
		t.Errorf("unexpected params: %+v", stub.lastParams)
	}
	if len(stub.lastParams.System) != 1 || stub.lastParams.System[0].Text != "sys" {
		t.Errorf("system prompt not forwarded: %+v", stub.lastParams.System)
	}

	stub.resp = &sdk.Message{}
	if _, err := a.Infer(context.Background(), ds.InferenceRequest{Prompt: "x"}); err == nil {
		t.Error("expected error for a response without text")
	}
	if _, err := NewAnthropicAdapter(nil, "m"); err == nil {
		t.Error("expected error for nil client")
	}
}
