// Package prompt builds the system prompts, query blocks and follow-up
// texts sent to the inference adapter, and parses the adapter's answers.
package prompt

import (
	"fmt"
	"strings"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/registry"
)

const reasoningLine = "reasoning: your reasoning to answer the question. Clearly investigate each item that is provided in the 'query context' section with a special attention to the 'runtime_information' section. Pay special attention to the type you return. If the user asks for a single value, and multiple ones can be returned, only return one."

// Set holds one system prompt per inference kind.
type Set map[ds.InferenceKind]string

// System returns the system prompt for kind.
func (s Set) System(kind ds.InferenceKind) string {
	return s[kind]
}

// Build renders every system prompt from the registry's tool schema and
// query-source descriptions.
func Build(reg *registry.Registry) (Set, error) {
	tools, err := reg.SchemaYAML()
	if err != nil {
		return nil, err
	}
	tools = strings.TrimRight(tools, "\n")
	sources := sourcesBlock(reg.Sources())

	return Set{
		ds.KindSequence: fmt.Sprintf(`You are a precise intent sequencer. You parse the user's prompt and split it into atomic intents that match one of the defined intents below:

%s

%s

Answer with DSL only, for example: [tool_a(slot=1), tool_b(other=ASK("which one?"))]`, tools, sources),

		ds.KindQueryFill: fmt.Sprintf(`You are a precise agent that answers user questions according to the scope defined by the intents below:

%s

answer on three lines as follows:
%s
value: the value of the requested slot. Only include the value, no explanation. When returning a list use [...].
abort: if the answer to the question cannot be deduced, include the error message here`, tools, reasoningLine),

		ds.KindQueryUser: fmt.Sprintf(`You are a precise agent that answers user questions according to the scope defined by the intents below:

%s

answer on two lines as follows:
%s
user friendly answer: the answer. Include the value, and just enough explanation as if you were talking to a colleague in a hurry. If the answer to the question cannot be deduced, include the error message here`, tools, reasoningLine),

		ds.KindQueryGather: fmt.Sprintf(`You are a precise agent that answers questions according to the scope defined by the intents below:

%s

answer on two lines as follows:
%s
user friendly answer: the detailed answer to the question. If the answer to the question cannot be deduced, include the error message here`, tools, reasoningLine),

		ds.KindGatherSlots: fmt.Sprintf(`You are a precise agent that fills several slots at once according to the scope defined by the intents below:

%s

answer in YAML as follows:
reasoning: your reasoning. Clearly investigate the 'runtime_information' section.
values:
  <slot name>: <value for that slot>
abort: if any requested slot cannot be deduced, the error message, otherwise leave empty
Every slot listed under 'targets' must appear under 'values'.`, tools),

		ds.KindSlotResolve: fmt.Sprintf(`You are a precise slot resolver. You resolve one slot at a time based on the current resolution context, but the user may change or override the task. Here are the available intents:

%s

If the user's answer does not directly resolve to a value, return a QUERY_FILL(...), QUERY_USER(...) or a follow-up ASK(...).

%s`, tools, sources),

		ds.KindErrorResolve: fmt.Sprintf(`You are a precise error resolver. You resolve one error at a time based on the current resolution context, but the user may change or override the task. Here are the available intents:

%s

If the user's answer does not directly resolve to a value, return a QUERY_FILL(...), QUERY_USER(...) or a follow-up ASK(...).

%s`, tools, sources),

		ds.KindNormalize: `You convert a vague quantity descriptor such as "a few" or "a dozen" into one concrete number.
Answer with the number only. If the descriptor has no sensible numeric reading, answer: unknown`,
	}, nil
}

func sourcesBlock(sources []registry.Source) string {
	if len(sources) == 0 {
		return "QUERY_FILL cannot be used as no information can be retrieved at runtime."
	}
	var b strings.Builder
	b.WriteString("You have access to the following sources that can be queried to fill in missing information using QUERY_FILL:")
	for _, s := range sources {
		fmt.Fprintf(&b, "\n- %s: %s", s.Name(), s.Description())
	}
	return b.String()
}
