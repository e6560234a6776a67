package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// ErrMalformedAnswer is returned when an adapter answer does not follow the
// requested format.
var ErrMalformedAnswer = errors.New("malformed answer")

var (
	fillPattern = regexp.MustCompile(`(?s)reasoning:\s*(.*?)\nvalue:\s*(.*?)\nabort:\s*(.*)`)
	userPattern = regexp.MustCompile(`(?s)reasoning:\s*(.*?)\nuser friendly answer:(.*)`)
)

// FillAnswer is a parsed QUERY_FILL answer.
type FillAnswer struct {
	Reasoning string
	Value     string
	Abort     string
}

// Refused reports whether the adapter declined to supply a value.
func (a FillAnswer) Refused() bool {
	v := strings.ToLower(strings.TrimSpace(a.Value))
	return a.Abort != "" || v == "" || v == "unknown"
}

// Reason is the refusal message.
func (a FillAnswer) Reason() string {
	if a.Abort != "" {
		return a.Abort
	}
	return "no value could be deduced"
}

// Node converts the answer value to a value node.
func (a FillAnswer) Node() dsl.Node {
	return ValueNode(a.Value)
}

// ParseFill parses the three-line QUERY_FILL answer.
func ParseFill(answer string) (FillAnswer, error) {
	m := fillPattern.FindStringSubmatch(strings.TrimSpace(answer))
	if m == nil {
		return FillAnswer{}, fmt.Errorf("%w: expected reasoning/value/abort lines", ErrMalformedAnswer)
	}
	abort := strings.TrimSpace(m[3])
	if strings.EqualFold(abort, "none") || abort == `""` {
		abort = ""
	}
	return FillAnswer{
		Reasoning: strings.TrimSpace(m[1]),
		Value:     strings.TrimSpace(m[2]),
		Abort:     abort,
	}, nil
}

// ParseUserAnswer extracts the user friendly answer, or "unknown".
func ParseUserAnswer(answer string) string {
	m := userPattern.FindStringSubmatch(strings.TrimSpace(answer))
	if m == nil {
		return "unknown"
	}
	if v := strings.TrimSpace(m[2]); v != "" {
		return v
	}
	return "unknown"
}

// GatherAnswer is a parsed slot-mode QUERY_GATHER answer.
type GatherAnswer struct {
	Reasoning string         `yaml:"reasoning"`
	Values    map[string]any `yaml:"values"`
	Abort     string         `yaml:"abort"`
}

// ParseGather parses the YAML gather answer. Code fences are tolerated.
func ParseGather(answer string) (GatherAnswer, error) {
	text := strings.TrimSpace(answer)
	text = strings.TrimPrefix(text, "```yaml")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	var g GatherAnswer
	if err := yaml.Unmarshal([]byte(text), &g); err != nil {
		return GatherAnswer{}, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	return g, nil
}

// Nodes converts the gathered values for targets. It returns the targets
// that are missing or unusable.
func (g GatherAnswer) Nodes(targets []string) (map[string]dsl.Node, []string) {
	out := make(map[string]dsl.Node, len(targets))
	var missing []string
	for _, name := range targets {
		raw, ok := g.Values[name]
		if !ok || raw == nil {
			missing = append(missing, name)
			continue
		}
		if s, isStr := raw.(string); isStr {
			if strings.EqualFold(strings.TrimSpace(s), "unknown") || strings.TrimSpace(s) == "" {
				missing = append(missing, name)
				continue
			}
			out[name] = ValueNode(s)
			continue
		}
		n, err := dsl.FromGo(raw)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		out[name] = n
	}
	return out, missing
}

// ValueNode interprets an answer value: DSL values and lists are parsed,
// anything else is kept as a literal.
func ValueNode(s string) dsl.Node {
	s = strings.TrimSpace(s)
	if n, err := dsl.ParseValue(s); err == nil {
		switch x := n.(type) {
		case *dsl.ListValue:
			return x
		case *dsl.Value:
			if sym, ok := x.V.(dsl.Symbol); ok {
				return &dsl.Value{V: string(sym)}
			}
			return x
		}
	}
	return dsl.ParseLiteral(s)
}
