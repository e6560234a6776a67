package dragonscale

import (
	"context"
	"time"
)

// InferenceKind says what an inference request is for. Adapters may route
// kinds to different prompts or models.
type InferenceKind string

const (
	KindSequence     InferenceKind = "sequence"
	KindQueryFill    InferenceKind = "query_fill"
	KindQueryGather  InferenceKind = "query_gather"
	KindQueryUser    InferenceKind = "query_user"
	KindSlotResolve  InferenceKind = "slot_resolve"
	KindErrorResolve InferenceKind = "error_resolve"
	KindNormalize    InferenceKind = "normalize"
	KindGatherSlots  InferenceKind = "gather_slots"
)

// Kinds lists every inference kind.
func Kinds() []InferenceKind {
	return []InferenceKind{
		KindSequence, KindQueryFill, KindQueryGather, KindQueryUser,
		KindSlotResolve, KindErrorResolve, KindNormalize, KindGatherSlots,
	}
}

// InferenceRequest is one call to the inference adapter.
type InferenceRequest struct {
	Kind         InferenceKind     `json:"kind"`
	SystemPrompt string            `json:"system_prompt"`
	Prompt       string            `json:"prompt"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// InteractionRequest describes a question put to the user.
type InteractionRequest struct {
	Message      string `json:"message"`
	ExpectedType string `json:"expected_type,omitempty"`
	Intent       string `json:"intent,omitempty"`
	Slot         string `json:"slot,omitempty"`
	Requester    string `json:"requester"`
}

// Requesters of interaction requests.
const (
	RequesterAsk           = "ask"
	RequesterQueryUser     = "query_user"
	RequesterErrorResolver = "error_resolver"
)

// CallLog records one inference call.
type CallLog struct {
	SessionID    string        `json:"session_id"`
	Kind         InferenceKind `json:"kind"`
	Description  string        `json:"description"`
	SystemPrompt string        `json:"system_prompt"`
	Prompt       string        `json:"prompt"`
	Answer       string        `json:"answer"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"created_at"`
}

type sessionKey struct{}

// WithSessionID tags ctx with the session it belongs to.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionIDFrom returns the session id carried by ctx, if any.
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
