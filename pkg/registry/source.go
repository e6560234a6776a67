package registry

import "context"

// Source is a named, read-only data provider the inference adapter may
// consult when answering query nodes (for example the current inventory).
type Source interface {
	Name() string
	Description() string
	Query(ctx context.Context, question string) (string, error)
}

// QueryFunc answers a question from a source.
type QueryFunc func(ctx context.Context, question string) (string, error)

type funcSource struct {
	name        string
	description string
	fn          QueryFunc
}

// NewQuerySource wraps a plain function as a Source.
func NewQuerySource(name, description string, fn QueryFunc) Source {
	return &funcSource{name: name, description: description, fn: fn}
}

func (s *funcSource) Name() string        { return s.name }
func (s *funcSource) Description() string { return s.description }

func (s *funcSource) Query(ctx context.Context, question string) (string, error) {
	return s.fn(ctx, question)
}
