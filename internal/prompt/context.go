package prompt

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SlotValue is one other slot of the intent being resolved, rendered as DSL.
type SlotValue struct {
	Name  string
	Value string
}

// SourceData is the output of one query source.
type SourceData struct {
	Name string
	Data string
}

// QueryContext is the structured context sent with QUERY_FILL, QUERY_USER
// and QUERY_GATHER requests.
type QueryContext struct {
	Intent     string
	Slot       string
	OtherSlots []SlotValue
	Targets    []string
	Question   string
	Runtime    []SourceData
}

// QnA is one clarification question and the answer it received.
type QnA struct {
	Question string
	Answer   string
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// otherSlotsYAML renders the other slots as an ordered YAML mapping.
func otherSlotsYAML(slots []SlotValue) string {
	if len(slots) == 0 {
		return "  other_slots: {}"
	}
	m := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range slots {
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: s.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s.Value},
		)
	}
	out, err := yaml.Marshal(m)
	if err != nil {
		lines := make([]string, len(slots))
		for i, s := range slots {
			lines[i] = fmt.Sprintf("    %s: %s", s.Name, s.Value)
		}
		return "  other_slots:\n" + strings.Join(lines, "\n")
	}
	return "  other_slots:\n" + indent(string(out), "    ")
}

// FormatQuery renders the query context block.
func FormatQuery(qc QueryContext) string {
	var b strings.Builder
	b.WriteString("query context:\n")
	fmt.Fprintf(&b, "  intent: %s\n", orNone(qc.Intent))
	fmt.Fprintf(&b, "  slot: %s\n", orNone(qc.Slot))
	b.WriteString(otherSlotsYAML(qc.OtherSlots))
	b.WriteString("\n")
	if len(qc.Targets) > 0 {
		fmt.Fprintf(&b, "  targets: [%s]\n", strings.Join(qc.Targets, ", "))
	}
	fmt.Fprintf(&b, "  question: %s\n", qc.Question)
	b.WriteString("  runtime_information:\n")
	for _, src := range qc.Runtime {
		fmt.Fprintf(&b, "    %s:\n", src.Name)
		b.WriteString(indent(src.Data, "      "))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatQnA renders the previous questions and answers of a resolution pass.
func FormatQnA(items []QnA) string {
	if len(items) == 0 {
		return "  previous_questions_and_answers: []"
	}
	var b strings.Builder
	b.WriteString("  previous_questions_and_answers:")
	for _, q := range items {
		fmt.Fprintf(&b, "\n    - question: %s\n      answer: %s", q.Question, q.Answer)
	}
	return b.String()
}

// AskResolution is the slot-resolver input for a user's reply to an ASK.
func AskResolution(intent, slot string, qna []QnA, question, answer string) string {
	return fmt.Sprintf("resolution_context:\n  intent: %s\n  slot: %s\n%s\n  current_question: %s\n  current_user_answer: %s",
		orNone(intent), orNone(slot), FormatQnA(qna), question, answer)
}

// ErrorResolution is the error-resolver input for a user's reply to a
// runtime error. intentDSL is the failing intent rendered as DSL.
func ErrorResolution(intentDSL string, qna []QnA, message, answer string) string {
	return fmt.Sprintf("resolution_context:\n  intent: %s\n%s\n  error: %s\n  current_user_answer: %s",
		intentDSL, FormatQnA(qna), message, answer)
}

// FollowUpResolution is the input for a user's follow-up after a QUERY_USER
// answer. Intent and slot are omitted when the question was asked outside any
// intent.
func FollowUpResolution(intent, slot string, qna []QnA, question, answer string) string {
	var b strings.Builder
	b.WriteString("resolution_context:")
	if intent != "" && slot != "" {
		fmt.Fprintf(&b, "\n  intent: %s\n  slot: %s", intent, slot)
	}
	fmt.Fprintf(&b, "\n%s\n  current_question: %s\n  current_user_answer: %s", FormatQnA(qna), question, answer)
	return b.String()
}

// GatherSequence is the sequencer input that regenerates intents from the
// original request and the gathered data.
func GatherSequence(original, data string) string {
	return fmt.Sprintf("%s\n\nHere is the data you should use to generate the intents:\n%s", original, data)
}
