package dsl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const maxDepth = 64

var (
	intPattern   = regexp.MustCompile(`^[+-]?[0-9]+$`)
	floatPattern = regexp.MustCompile(`^[+-]?([0-9]+\.[0-9]*|\.[0-9]+|[0-9]+)([eE][+-]?[0-9]+)?$`)
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

// ParseError reports malformed DSL text.
type ParseError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dsl: %s at offset %d", e.Msg, e.Pos)
}

type position int

const (
	topLevel position = iota
	argument
)

type parser struct {
	input string
}

type part struct {
	text string
	pos  int
}

// Parse parses DSL text into its top-level list. The text is either a
// comma-separated sequence of elements or the same sequence wrapped in one
// pair of brackets.
func Parse(text string) (*ListElement, error) {
	p := &parser{input: text}
	body, pos := trim(text, 0)
	if body == "" {
		return nil, p.errorf(0, "empty input")
	}
	if body[0] == '[' {
		end, err := p.matching(body, 0, pos)
		if err != nil {
			return nil, err
		}
		if end == len(body)-1 {
			return p.list(body[1:end], pos+1, 0)
		}
	}
	return p.list(body, pos, 0)
}

// ParseNode parses a single top-level element.
func ParseNode(text string) (Node, error) {
	p := &parser{input: text}
	body, pos := trim(text, 0)
	return p.element(body, pos, topLevel, 0)
}

// ParseValue parses text in argument position: a literal, a list value, a
// nested call or a slot placeholder.
func ParseValue(text string) (Node, error) {
	p := &parser{input: text}
	body, pos := trim(text, 0)
	return p.element(body, pos, argument, 0)
}

// ParseLiteral interprets a free-text reply as a value: a quoted string,
// a number, a boolean or a date. Anything else is kept as plain text.
func ParseLiteral(text string) *Value {
	s := strings.TrimSpace(text)
	if s == "" {
		return &Value{V: ""}
	}
	if s[0] == '"' {
		if v, end, err := unquote(s, 0); err == nil && end == len(s)-1 {
			return &Value{V: v}
		}
	}
	if v, ok := scalar(s); ok {
		if _, isSym := v.(Symbol); !isSym {
			return &Value{V: v}
		}
	}
	return &Value{V: s}
}

func (p *parser) errorf(pos int, format string, args ...any) *ParseError {
	return &ParseError{Input: p.input, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func trim(s string, pos int) (string, int) {
	lead := len(s) - len(strings.TrimLeft(s, " \t\r\n"))
	return strings.TrimSpace(s), pos + lead
}

func (p *parser) list(body string, pos, depth int) (*ListElement, error) {
	parts, err := p.split(body, pos)
	if err != nil {
		return nil, err
	}
	items := make([]Node, 0, len(parts))
	for _, pt := range parts {
		n, err := p.element(pt.text, pt.pos, topLevel, depth+1)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return &ListElement{Items: items}, nil
}

// split breaks s on commas that are outside quotes and brackets.
func (p *parser) split(s string, pos int) ([]part, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var (
		parts []part
		stack []byte
		start int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			_, end, err := unquote(s, i)
			if err != nil {
				return nil, p.errorf(pos+i, "unterminated string")
			}
			i = end
		case '(', '[':
			stack = append(stack, c)
		case ')', ']':
			if len(stack) == 0 || !pairs(stack[len(stack)-1], c) {
				return nil, p.errorf(pos+i, "mismatched %q", c)
			}
			stack = stack[:len(stack)-1]
		case ',':
			if len(stack) > 0 {
				continue
			}
			text, at := trim(s[start:i], pos+start)
			if text == "" {
				return nil, p.errorf(pos+i, "empty argument")
			}
			parts = append(parts, part{text: text, pos: at})
			start = i + 1
		}
	}
	if len(stack) > 0 {
		return nil, p.errorf(pos+len(s), "unclosed %q", stack[len(stack)-1])
	}
	text, at := trim(s[start:], pos+start)
	if text == "" {
		return nil, p.errorf(pos+len(s), "trailing comma")
	}
	return append(parts, part{text: text, pos: at}), nil
}

func pairs(open, close byte) bool {
	return (open == '(' && close == ')') || (open == '[' && close == ']')
}

// matching returns the index of the bracket closing s[open].
func (p *parser) matching(s string, open, pos int) (int, error) {
	var stack []byte
	for i := open; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			_, end, err := unquote(s, i)
			if err != nil {
				return 0, p.errorf(pos+i, "unterminated string")
			}
			i = end
		case '(', '[':
			stack = append(stack, c)
		case ')', ']':
			if len(stack) == 0 || !pairs(stack[len(stack)-1], c) {
				return 0, p.errorf(pos+i, "mismatched %q", c)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, nil
			}
		}
	}
	return 0, p.errorf(pos+open, "unclosed %q", s[open])
}

// unquote decodes the string literal starting at s[start] and returns the
// index of its closing quote.
func unquote(s string, start int) (string, int, error) {
	var b strings.Builder
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("dangling escape")
			}
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
		case '"':
			return b.String(), i, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

func (p *parser) element(text string, pos int, where position, depth int) (Node, error) {
	if depth > maxDepth {
		return nil, p.errorf(pos, "nesting too deep")
	}
	if text == "" {
		return nil, p.errorf(pos, "empty element")
	}
	switch text[0] {
	case '"':
		v, end, err := unquote(text, 0)
		if err != nil {
			return nil, p.errorf(pos, "%v", err)
		}
		if end != len(text)-1 {
			return nil, p.errorf(pos+end+1, "unexpected text after string")
		}
		return &Value{V: v}, nil
	case '[':
		end, err := p.matching(text, 0, pos)
		if err != nil {
			return nil, err
		}
		if end != len(text)-1 {
			return nil, p.errorf(pos+end+1, "unexpected text after list")
		}
		if where == topLevel {
			return p.list(text[1:end], pos+1, depth)
		}
		return p.values(text[1:end], pos+1, depth)
	}
	if open := strings.IndexByte(text, '('); open > 0 {
		name := strings.TrimSpace(text[:open])
		if identPattern.MatchString(name) {
			end, err := p.matching(text, open, pos)
			if err != nil {
				return nil, err
			}
			if end != len(text)-1 {
				return nil, p.errorf(pos+end+1, "unexpected text after call")
			}
			return p.call(name, text[open+1:end], pos+open+1, where, depth)
		}
	}
	v, ok := scalar(text)
	if !ok {
		return nil, p.errorf(pos, "invalid literal %q", text)
	}
	return &Value{V: v}, nil
}

func (p *parser) values(body string, pos, depth int) (*ListValue, error) {
	parts, err := p.split(body, pos)
	if err != nil {
		return nil, err
	}
	items := make([]Node, 0, len(parts))
	for _, pt := range parts {
		n, err := p.element(pt.text, pt.pos, argument, depth+1)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return &ListValue{Items: items}, nil
}

func (p *parser) call(name, body string, pos int, where position, depth int) (Node, error) {
	topOnly := func() error {
		if where != topLevel {
			return p.errorf(pos, "%s is not allowed as an argument", name)
		}
		return nil
	}
	switch name {
	case KwAsk:
		s, err := p.strings(name, body, pos, 1, 1)
		if err != nil {
			return nil, err
		}
		return &Ask{Question: s[0]}, nil
	case KwQueryFill:
		s, err := p.strings(name, body, pos, 1, 1)
		if err != nil {
			return nil, err
		}
		return &QueryFill{Query: s[0]}, nil
	case KwQueryGather:
		s, err := p.strings(name, body, pos, 1, 2)
		if err != nil {
			return nil, err
		}
		if len(s) == 1 {
			return &QueryGather{Query: s[0]}, nil
		}
		return &QueryGather{Original: s[0], Query: s[1]}, nil
	case KwQueryUser:
		if err := topOnly(); err != nil {
			return nil, err
		}
		s, err := p.strings(name, body, pos, 1, 1)
		if err != nil {
			return nil, err
		}
		return &QueryUser{Query: s[0]}, nil
	case KwFuzzy, KwFuzzyShort:
		s, err := p.strings(name, body, pos, 1, 1)
		if err != nil {
			return nil, err
		}
		return &FuzzyValue{Descriptor: s[0]}, nil
	case KwSameAsPrevious:
		s, err := p.strings(name, body, pos, 0, 1)
		if err != nil {
			return nil, err
		}
		if len(s) == 0 {
			return &SameAsPreviousIntent{}, nil
		}
		return &SameAsPreviousIntent{Slot: s[0]}, nil
	case KwAbort:
		if err := topOnly(); err != nil {
			return nil, err
		}
		s, err := p.strings(name, body, pos, 0, 1)
		if err != nil {
			return nil, err
		}
		if len(s) == 0 {
			return &Abort{}, nil
		}
		return &Abort{Reason: s[0]}, nil
	case KwAbortWithNew:
		if err := topOnly(); err != nil {
			return nil, err
		}
		inner, at := trim(body, pos)
		if inner == "" || inner[0] != '[' {
			return nil, p.errorf(at, "%s expects a list of intents", name)
		}
		end, err := p.matching(inner, 0, at)
		if err != nil {
			return nil, err
		}
		if end != len(inner)-1 {
			return nil, p.errorf(at+end+1, "%s takes a single list", name)
		}
		repl, err := p.list(inner[1:end], at+1, depth)
		if err != nil {
			return nil, err
		}
		return &AbortWithNewDsl{Replacement: repl}, nil
	case KwPropagate:
		if err := topOnly(); err != nil {
			return nil, err
		}
		slots, err := p.slots(name, body, pos, depth)
		if err != nil {
			return nil, err
		}
		if len(slots) == 0 {
			return nil, p.errorf(pos, "%s needs at least one slot", name)
		}
		return &PropagateSlots{Slots: slots}, nil
	case KwPropagateFrom:
		if err := topOnly(); err != nil {
			return nil, err
		}
		s, err := p.strings(name, body, pos, 1, 1)
		if err != nil {
			return nil, err
		}
		return &PropagateSlots{Source: s[0]}, nil
	}

	slots, err := p.slots(name, body, pos, depth)
	if err != nil {
		return nil, err
	}
	intent := &Intent{Name: name, Slots: slots}
	if where == argument {
		return &ReturnValue{Call: intent}, nil
	}
	return intent, nil
}

func (p *parser) strings(name, body string, pos, min, max int) ([]string, error) {
	parts, err := p.split(body, pos)
	if err != nil {
		return nil, err
	}
	if len(parts) < min || len(parts) > max {
		if min == max {
			return nil, p.errorf(pos, "%s takes %d argument(s), got %d", name, min, len(parts))
		}
		return nil, p.errorf(pos, "%s takes %d to %d arguments, got %d", name, min, max, len(parts))
	}
	out := make([]string, 0, len(parts))
	for _, pt := range parts {
		if pt.text[0] != '"' {
			return nil, p.errorf(pt.pos, "%s expects quoted strings", name)
		}
		v, end, err := unquote(pt.text, 0)
		if err != nil || end != len(pt.text)-1 {
			return nil, p.errorf(pt.pos, "malformed string argument")
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *parser) slots(name, body string, pos, depth int) ([]*Slot, error) {
	parts, err := p.split(body, pos)
	if err != nil {
		return nil, err
	}
	slots := make([]*Slot, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, pt := range parts {
		eq := assignIndex(pt.text)
		if eq <= 0 {
			return nil, p.errorf(pt.pos, "argument of %s must be named (name=value)", name)
		}
		key := strings.TrimSpace(pt.text[:eq])
		if !identPattern.MatchString(key) {
			return nil, p.errorf(pt.pos, "invalid slot name %q", key)
		}
		if seen[key] {
			return nil, p.errorf(pt.pos, "duplicate slot %q in %s", key, name)
		}
		seen[key] = true
		valText, at := trim(pt.text[eq+1:], pt.pos+eq+1)
		val, err := p.element(valText, at, argument, depth+1)
		if err != nil {
			return nil, err
		}
		slots = append(slots, &Slot{Name: key, Value: val})
	}
	return slots, nil
}

// assignIndex finds the first '=' outside quotes and brackets.
func assignIndex(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			_, end, err := unquote(s, i)
			if err != nil {
				return -1
			}
			i = end
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '=':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// scalar interprets a bare token.
func scalar(s string) (any, bool) {
	switch s {
	case "true", "True":
		return true, true
	case "false", "False":
		return false, true
	}
	if intPattern.MatchString(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	if floatPattern.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if strings.ContainsAny(s, " \t\r\n\"()[],=") {
		return nil, false
	}
	return Symbol(s), true
}
