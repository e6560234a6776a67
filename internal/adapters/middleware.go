package adapters

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// MetaDescription is the request metadata key naming the resolution step
// that issued a call.
const MetaDescription = "description"

// CachedAdapter serves repeated requests from a cache. Requests are keyed
// by kind, system prompt and prompt.
type CachedAdapter struct {
	next  ds.InferenceAdapter
	cache ds.Cache
}

// NewCachedAdapter wraps next with cache.
func NewCachedAdapter(next ds.InferenceAdapter, cache ds.Cache) *CachedAdapter {
	return &CachedAdapter{next: next, cache: cache}
}

// generateCacheKey creates a unique key for caching inference answers.
func (a *CachedAdapter) generateCacheKey(req ds.InferenceRequest) string {
	cacheable := struct {
		Kind   ds.InferenceKind `json:"kind"`
		System string           `json:"system"`
		Prompt string           `json:"prompt"`
	}{req.Kind, req.SystemPrompt, req.Prompt}

	inputBytes, err := json.Marshal(cacheable)
	if err != nil {
		log.Printf("Failed to marshal inference request for cache key: %v", err)
		return "inference:" + string(req.Kind) + ":" + req.Prompt
	}
	hasher := sha1.New()
	hasher.Write(inputBytes)
	return "inference:" + hex.EncodeToString(hasher.Sum(nil))
}

// Infer implements dragonscale.InferenceAdapter.
func (a *CachedAdapter) Infer(ctx context.Context, req ds.InferenceRequest) (string, error) {
	key := a.generateCacheKey(req)
	if cached, err := a.cache.Get(ctx, key); err == nil {
		return cached, nil
	}
	out, err := a.next.Infer(ctx, req)
	if err != nil {
		return "", err
	}
	if err := a.cache.Set(ctx, key, out); err != nil {
		log.Printf("Failed to cache inference answer (kind: %s, error: %v)", req.Kind, err)
	}
	return out, nil
}

// TracedAdapter records one client span per inference call.
type TracedAdapter struct {
	next   ds.InferenceAdapter
	tracer trace.Tracer
}

// NewTracedAdapter wraps next with tracer.
func NewTracedAdapter(next ds.InferenceAdapter, tracer trace.Tracer) *TracedAdapter {
	return &TracedAdapter{next: next, tracer: tracer}
}

// Infer implements dragonscale.InferenceAdapter.
func (a *TracedAdapter) Infer(ctx context.Context, req ds.InferenceRequest) (string, error) {
	ctx, span := a.tracer.Start(ctx, "inference.infer",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("dragonscale.kind", string(req.Kind)),
			attribute.String("dragonscale.session_id", ds.SessionIDFrom(ctx)),
			attribute.Int("dragonscale.prompt_bytes", len(req.Prompt)),
		),
	)
	defer span.End()

	out, err := a.next.Infer(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference failed")
		return "", err
	}
	span.SetAttributes(attribute.Int("dragonscale.answer_bytes", len(out)))
	span.SetStatus(codes.Ok, "ok")
	return out, nil
}

// RateLimitedAdapter blocks until the limiter admits the call.
type RateLimitedAdapter struct {
	next    ds.InferenceAdapter
	limiter *rate.Limiter
}

// NewRateLimitedAdapter allows perSecond calls with the given burst.
func NewRateLimitedAdapter(next ds.InferenceAdapter, perSecond float64, burst int) *RateLimitedAdapter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedAdapter{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Infer implements dragonscale.InferenceAdapter.
func (a *RateLimitedAdapter) Infer(ctx context.Context, req ds.InferenceRequest) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return a.next.Infer(ctx, req)
}

// RecordingAdapter stores a CallLog for every call.
type RecordingAdapter struct {
	next     ds.InferenceAdapter
	recorder ds.CallRecorder
}

// NewRecordingAdapter wraps next with recorder.
func NewRecordingAdapter(next ds.InferenceAdapter, recorder ds.CallRecorder) *RecordingAdapter {
	return &RecordingAdapter{next: next, recorder: recorder}
}

// Infer implements dragonscale.InferenceAdapter.
func (a *RecordingAdapter) Infer(ctx context.Context, req ds.InferenceRequest) (string, error) {
	start := time.Now()
	out, err := a.next.Infer(ctx, req)
	entry := ds.CallLog{
		SessionID:    ds.SessionIDFrom(ctx),
		Kind:         req.Kind,
		Description:  req.Metadata[MetaDescription],
		SystemPrompt: req.SystemPrompt,
		Prompt:       req.Prompt,
		Answer:       out,
		Duration:     time.Since(start),
		CreatedAt:    start,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if recErr := a.recorder.Record(context.WithoutCancel(ctx), entry); recErr != nil {
		log.Printf("Failed to record inference call (kind: %s, error: %v)", req.Kind, recErr)
	}
	return out, err
}
