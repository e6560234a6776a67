package dragonscale

import "context"

// InferenceAdapter is the narrow request/response boundary to a language
// model. Implementations return the raw answer text; interpreting it is the
// caller's job.
type InferenceAdapter interface {
	Infer(ctx context.Context, req InferenceRequest) (string, error)
}

// InferenceFunc adapts a plain function to the InferenceAdapter interface.
type InferenceFunc func(ctx context.Context, req InferenceRequest) (string, error)

// Infer implements InferenceAdapter.
func (f InferenceFunc) Infer(ctx context.Context, req InferenceRequest) (string, error) {
	return f(ctx, req)
}

// Channel is the duplex text channel to the user: a question goes out, a
// single reply comes back. Notify is one-way output (QUERY_USER answers,
// status lines).
type Channel interface {
	Ask(ctx context.Context, req InteractionRequest) (string, error)
	Notify(ctx context.Context, message string) error
}

// Normalizer turns a fuzzy descriptor ("a few", "a dozen") into a concrete
// Go value. Implementations must be pure functions of the descriptor.
type Normalizer interface {
	Normalize(ctx context.Context, descriptor string) (any, error)
}

// Cache stores text answers (model replies, normalizations) by key.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
}

// CallRecorder persists one record per inference call.
type CallRecorder interface {
	Record(ctx context.Context, log CallLog) error
}
