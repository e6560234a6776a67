package adapters

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// RetrieverSource is a query source backed by a Genkit retriever, typically
// a vector store of manuals or catalogue entries.
type RetrieverSource struct {
	name            string
	description     string
	genkitRetriever ai.Retriever
	maxResults      int
	minScore        float64
	contextWindow   int
}

// RetrieverSourceOption is a function that configures a RetrieverSource.
type RetrieverSourceOption func(*RetrieverSource)

// WithMaxResults sets the maximum number of results to return.
func WithMaxResults(max int) RetrieverSourceOption {
	return func(r *RetrieverSource) {
		r.maxResults = max
	}
}

// WithMinScore sets the minimum similarity score for results.
func WithMinScore(min float64) RetrieverSourceOption {
	return func(r *RetrieverSource) {
		r.minScore = min
	}
}

// WithContextWindow sets the maximum tokens to include in the answer.
func WithContextWindow(windowSize int) RetrieverSourceOption {
	return func(r *RetrieverSource) {
		r.contextWindow = windowSize
	}
}

// NewRetrieverSource creates a query source over a Genkit retriever.
func NewRetrieverSource(name, description string, genkitRetriever ai.Retriever, options ...RetrieverSourceOption) *RetrieverSource {
	source := &RetrieverSource{
		name:            name,
		description:     description,
		genkitRetriever: genkitRetriever,
		maxResults:      5,
		minScore:        0.7,
		contextWindow:   2048,
	}
	for _, option := range options {
		option(source)
	}
	return source
}

func (r *RetrieverSource) Name() string        { return r.name }
func (r *RetrieverSource) Description() string { return r.description }

// Query implements registry.Source.
func (r *RetrieverSource) Query(ctx context.Context, question string) (string, error) {
	startTime := time.Now()

	resp, err := ai.Retrieve(ctx, r.genkitRetriever,
		ai.WithTextDocs(question),
		ai.WithConfig(map[string]interface{}{
			"k":            r.maxResults,
			"minScore":     r.minScore,
			"returnScores": true,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("retrieval failed: %w", err)
	}

	totalTokens := 0
	used := 0
	var b strings.Builder
	for i, doc := range resp.Documents {
		if used == r.maxResults {
			break
		}
		score, scored := documentScore(doc)
		if scored && score < r.minScore {
			continue
		}
		var text strings.Builder
		for _, part := range doc.Content {
			text.WriteString(part.Text)
		}

		// ~4 chars per token
		estTokens := text.Len() / 4
		if totalTokens+estTokens > r.contextWindow {
			log.Printf("Context window limit reached (source: %s, docs_included: %d, total_docs: %d, estimated_tokens: %d)",
				r.name, used, len(resp.Documents), totalTokens)
			break
		}
		fmt.Fprintf(&b, "- document: %d\n  score: %.4f\n  text: %q\n", i+1, score, text.String())
		totalTokens += estTokens
		used++
	}

	log.Printf("Retrieval complete (source: %s, documents_retrieved: %d, documents_used: %d, duration_ms: %d)",
		r.name, len(resp.Documents), used, time.Since(startTime).Milliseconds())

	if used == 0 {
		return "No relevant documents found.", nil
	}
	return b.String(), nil
}

// documentScore reads the retriever's similarity score. Retrievers that do
// not score their documents are not filtered.
func documentScore(doc *ai.Document) (float64, bool) {
	switch v := doc.Metadata["score"].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
