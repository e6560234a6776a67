package dsl

import (
	"strings"
	"time"
)

// Children returns the direct children of n in evaluation order.
func Children(n Node) []Node {
	switch x := n.(type) {
	case *Intent:
		out := make([]Node, len(x.Slots))
		for i, s := range x.Slots {
			out[i] = s
		}
		return out
	case *Slot:
		if x.Value == nil {
			return nil
		}
		return []Node{x.Value}
	case *ReturnValue:
		if x.Call == nil {
			return nil
		}
		return []Node{x.Call}
	case *ListValue:
		return x.Items
	case *ListElement:
		return x.Items
	case *FuzzyValue:
		if x.Resolved != nil {
			return []Node{x.Resolved}
		}
	case *AbortWithNewDsl:
		if x.Replacement != nil {
			return []Node{x.Replacement}
		}
	case *PropagateSlots:
		out := make([]Node, len(x.Slots))
		for i, s := range x.Slots {
			out[i] = s
		}
		return out
	case *IntentEvaluatedSuccess:
		return []Node{x.Intent}
	case *IntentRuntimeErrorResolver:
		return []Node{x.Intent}
	}
	return nil
}

// Walk visits n and its descendants depth first, left to right. Returning
// false from fn skips the children of the visited node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// IsPlaceholder reports whether n still needs resolution.
func IsPlaceholder(n Node) bool {
	switch x := n.(type) {
	case *Ask, *QueryFill, *QueryGather, *QueryUser, *SameAsPreviousIntent, *PropagateSlots, *IntentRuntimeErrorResolver:
		return true
	case *FuzzyValue:
		return x.Resolved == nil
	}
	return false
}

// Placeholders lists every unresolved node of the tree. Nodes below an
// AbortWithNewDsl are not counted: the replacement is resolved only if the
// redirect is taken. Evaluated intents are opaque.
func Placeholders(n Node) []Node {
	var out []Node
	Walk(n, func(c Node) bool {
		switch c.(type) {
		case *AbortWithNewDsl, *IntentEvaluatedSuccess:
			return false
		}
		if IsPlaceholder(c) {
			out = append(out, c)
			return false
		}
		return true
	})
	return out
}

// IsResolved reports whether the tree holds no placeholder nodes.
func IsResolved(n Node) bool {
	return len(Placeholders(n)) == 0
}

// Unwrap strips execution-state wrappers and resolved fuzzy values.
func Unwrap(n Node) Node {
	switch x := n.(type) {
	case *IntentEvaluatedSuccess:
		return x.Intent
	case *IntentRuntimeErrorResolver:
		return x.Intent
	case *FuzzyValue:
		if x.Resolved != nil {
			return x.Resolved
		}
	}
	return n
}

// Equal compares two trees structurally, ignoring execution-state wrappers.
func Equal(a, b Node) bool {
	a, b = Unwrap(a), Unwrap(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Intent:
		y, ok := b.(*Intent)
		return ok && x.Name == y.Name && equalSlots(x.Slots, y.Slots)
	case *Slot:
		y, ok := b.(*Slot)
		return ok && x.Name == y.Name && Equal(x.Value, y.Value)
	case *Value:
		y, ok := b.(*Value)
		return ok && equalScalar(x.V, y.V)
	case *FuzzyValue:
		y, ok := b.(*FuzzyValue)
		return ok && x.Descriptor == y.Descriptor
	case *SameAsPreviousIntent:
		y, ok := b.(*SameAsPreviousIntent)
		return ok && x.Slot == y.Slot
	case *ReturnValue:
		y, ok := b.(*ReturnValue)
		return ok && Equal(x.Call, y.Call)
	case *ListValue:
		y, ok := b.(*ListValue)
		return ok && equalNodes(x.Items, y.Items)
	case *ListElement:
		y, ok := b.(*ListElement)
		return ok && equalNodes(x.Items, y.Items)
	case *Ask:
		y, ok := b.(*Ask)
		return ok && x.Question == y.Question
	case *QueryFill:
		y, ok := b.(*QueryFill)
		return ok && x.Query == y.Query
	case *QueryGather:
		y, ok := b.(*QueryGather)
		return ok && x.Query == y.Query && x.Original == y.Original
	case *QueryUser:
		y, ok := b.(*QueryUser)
		return ok && x.Query == y.Query
	case *Abort:
		y, ok := b.(*Abort)
		return ok && x.Reason == y.Reason
	case *AbortWithNewDsl:
		y, ok := b.(*AbortWithNewDsl)
		return ok && Equal(x.Replacement, y.Replacement)
	case *PropagateSlots:
		y, ok := b.(*PropagateSlots)
		return ok && x.Source == y.Source && equalSlots(x.Slots, y.Slots)
	}
	return false
}

func equalNodes(a, b []Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalSlots(a, b []*Slot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalScalar(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// Pretty renders the tree one intent per line, indenting nested lists.
func Pretty(n Node) string {
	var b strings.Builder
	pretty(&b, n, 0)
	return b.String()
}

func pretty(b *strings.Builder, n Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch x := n.(type) {
	case *ListElement:
		b.WriteString(indent + "[\n")
		for _, item := range x.Items {
			pretty(b, item, depth+1)
		}
		b.WriteString(indent + "]\n")
	case *IntentEvaluatedSuccess:
		b.WriteString(indent + x.Intent.String() + "  # " + Succeeded.String() + "\n")
	case *IntentRuntimeErrorResolver:
		b.WriteString(indent + x.Intent.String() + "  # " + Failed.String() + ": " + x.Message + "\n")
	default:
		b.WriteString(indent + n.String() + "\n")
	}
}

// InlineResults returns a copy of in where every nested call that already
// ran is replaced by its result literal. Calls whose result has no value
// representation are kept. in itself is not modified.
func InlineResults(in *Intent) *Intent {
	slots := make([]*Slot, len(in.Slots))
	for i, s := range in.Slots {
		slots[i] = &Slot{Name: s.Name, Value: inlineValue(s.Value)}
	}
	return in.WithSlots(slots)
}

func inlineValue(n Node) Node {
	switch x := n.(type) {
	case *ReturnValue:
		switch call := x.Call.(type) {
		case *IntentEvaluatedSuccess:
			if v, err := FromGo(call.Result); err == nil {
				return v
			}
		case *Intent:
			return &ReturnValue{Call: InlineResults(call)}
		}
	case *ListValue:
		items := make([]Node, len(x.Items))
		for i, item := range x.Items {
			items[i] = inlineValue(item)
		}
		return &ListValue{Items: items}
	}
	return n
}
