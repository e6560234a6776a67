package dsl

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Keywords of the surface syntax.
const (
	KwAsk            = "ASK"
	KwQueryFill      = "QUERY_FILL"
	KwQueryGather    = "QUERY_GATHER"
	KwQueryUser      = "QUERY_USER"
	KwAbort          = "ABORT"
	KwAbortWithNew   = "ABORT_WITH_NEW_INTENTS"
	KwPropagate      = "PROPAGATE_SLOT"
	KwPropagateFrom  = "PROPAGATE_SLOTS_FROM"
	KwSameAsPrevious = "SAME_AS_PREVIOUS_INTENT"
	KwFuzzy          = "FuzzyValue"
	KwFuzzyShort     = "F"
)

const dateLayout = "2006-01-02"

// Quote renders s as a DSL string literal.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// FormatScalar renders a Value payload.
func FormatScalar(v any) string {
	switch x := v.(type) {
	case string:
		return Quote(x)
	case Symbol:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 && x.Location() == time.UTC {
			return x.Format(dateLayout)
		}
		return x.Format(time.RFC3339Nano)
	}
	return Quote("")
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return Quote(strconv.FormatFloat(f, 'g', -1, 64))
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func joinNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ", ")
}

func joinSlots(slots []*Slot) string {
	parts := make([]string, len(slots))
	for i, s := range slots {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

func (i *Intent) String() string { return i.Name + "(" + joinSlots(i.Slots) + ")" }

func (s *Slot) String() string {
	if s.Value == nil {
		return s.Name + "="
	}
	return s.Name + "=" + s.Value.String()
}

func (v *Value) String() string { return FormatScalar(v.V) }

func (f *FuzzyValue) String() string {
	if f.Resolved != nil {
		return f.Resolved.String()
	}
	return KwFuzzy + "(" + Quote(f.Descriptor) + ")"
}

func (s *SameAsPreviousIntent) String() string {
	if s.Slot == "" {
		return KwSameAsPrevious + "()"
	}
	return KwSameAsPrevious + "(" + Quote(s.Slot) + ")"
}

func (r *ReturnValue) String() string {
	if r.Call == nil {
		return ""
	}
	return r.Call.String()
}

func (l *ListValue) String() string { return "[" + joinNodes(l.Items) + "]" }

func (a *Ask) String() string { return KwAsk + "(" + Quote(a.Question) + ")" }

func (q *QueryFill) String() string { return KwQueryFill + "(" + Quote(q.Query) + ")" }

func (q *QueryGather) String() string {
	if q.Original == "" {
		return KwQueryGather + "(" + Quote(q.Query) + ")"
	}
	return KwQueryGather + "(" + Quote(q.Original) + ", " + Quote(q.Query) + ")"
}

func (q *QueryUser) String() string { return KwQueryUser + "(" + Quote(q.Query) + ")" }

func (a *Abort) String() string {
	if a.Reason == "" {
		return KwAbort + "()"
	}
	return KwAbort + "(" + Quote(a.Reason) + ")"
}

func (a *AbortWithNewDsl) String() string {
	if a.Replacement == nil {
		return KwAbortWithNew + "([])"
	}
	return KwAbortWithNew + "(" + a.Replacement.String() + ")"
}

func (p *PropagateSlots) String() string {
	if len(p.Slots) == 0 && p.Source != "" {
		return KwPropagateFrom + "(" + Quote(p.Source) + ")"
	}
	return KwPropagate + "(" + joinSlots(p.Slots) + ")"
}

func (l *ListElement) String() string { return "[" + joinNodes(l.Items) + "]" }

func (e *IntentEvaluatedSuccess) String() string { return e.Intent.String() }

func (e *IntentRuntimeErrorResolver) String() string { return e.Intent.String() }
