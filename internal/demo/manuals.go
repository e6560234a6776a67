package demo

import (
	"context"
	"sort"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Manuals are the maintenance notes of the robot arm, served by the
// "manuals" query source.
var Manuals = []string{
	"Screws of length 8 and 10 fit the gripper housing; use length 12 for the camera mount.",
	"The table must be organized before a shutdown, otherwise loose screws jam the arm.",
	"Initialize the camera before the arm: the arm calibrates against the camera image.",
	"Screws of length 16 are reserved for the base plate and are restocked weekly.",
	"The gripper holds at most a dozen screws per retrieval.",
}

// DefineManualRetriever registers a keyword retriever over Manuals with g.
// Documents are scored by the share of query words they contain and carry
// the score in their "score" metadata, best first.
func DefineManualRetriever(g *genkit.Genkit) ai.Retriever {
	return genkit.DefineRetriever(g, "demo", "manuals", func(_ context.Context, req *ai.RetrieverRequest) (*ai.RetrieverResponse, error) {
		var query strings.Builder
		if req.Query != nil {
			for _, p := range req.Query.Content {
				query.WriteString(p.Text)
				query.WriteByte(' ')
			}
		}
		words := keywords(query.String())

		resp := &ai.RetrieverResponse{}
		for _, text := range Manuals {
			score := overlap(words, keywords(text))
			if score == 0 {
				continue
			}
			resp.Documents = append(resp.Documents, ai.DocumentFromText(text, map[string]any{"score": score}))
		}
		sort.SliceStable(resp.Documents, func(i, j int) bool {
			return resp.Documents[i].Metadata["score"].(float64) > resp.Documents[j].Metadata["score"].(float64)
		})
		return resp, nil
	})
}

// keywords lower-cases text and keeps words longer than two letters.
func keywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(w) > 2 || w[0] >= '0' && w[0] <= '9' {
			out[w] = struct{}{}
		}
	}
	return out
}

func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for w := range query {
		if _, ok := doc[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
