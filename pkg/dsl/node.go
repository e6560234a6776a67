// Package dsl defines the intent tree: the node vocabulary produced by the
// inference adapter, rewritten by the resolver and consumed by the evaluator.
//
// Nodes are immutable once built. Every rewrite constructs new nodes and
// shares unchanged subtrees, so a tree in flight can be inspected (or
// rendered back into a prompt) at any time without copying.
package dsl

import (
	"fmt"
	"time"
)

// Node is one element of an intent tree. The set of implementations is
// closed; callers switch over the concrete pointer types.
type Node interface {
	// String renders the node in DSL surface syntax.
	String() string
	node()
}

// Symbol is a bare, unquoted token such as an enum-like identifier.
type Symbol string

// ExecState is the execution state of an intent.
type ExecState int

const (
	Unevaluated ExecState = iota
	Succeeded
	Failed
)

func (s ExecState) String() string {
	switch s {
	case Succeeded:
		return "success"
	case Failed:
		return "error"
	default:
		return "unevaluated"
	}
}

// Intent is a tool invocation.
type Intent struct {
	Name  string
	Slots []*Slot
}

// Slot is one named argument of an intent.
type Slot struct {
	Name  string
	Value Node
}

// Value is a resolved literal. V holds a string, int64, float64, bool,
// time.Time or Symbol.
type Value struct {
	V any
}

// FuzzyValue is a vague quantity such as "a few". Resolved is set once the
// descriptor has been normalized.
type FuzzyValue struct {
	Descriptor string
	Resolved   *Value
}

// SameAsPreviousIntent refers to a slot value bound by an earlier, successfully
// evaluated intent. An empty Slot means "the slot this node sits in".
type SameAsPreviousIntent struct {
	Slot string
}

// ReturnValue uses the result of a nested call as an argument. Call is an
// *Intent before evaluation and an *IntentEvaluatedSuccess afterwards.
type ReturnValue struct {
	Call Node
}

// ListValue is an ordered sequence of value nodes.
type ListValue struct {
	Items []Node
}

// Ask is a question for the user whose reply fills the slot.
type Ask struct {
	Question string
}

// QueryFill asks the inference adapter for a single slot value.
type QueryFill struct {
	Query string
}

// QueryGather fills several sibling slots from one adapter call. At top level
// Original carries the request the gathered data should be applied to.
type QueryGather struct {
	Original string
	Query    string
}

// QueryUser is a question from the user; its answer goes to the side channel.
type QueryUser struct {
	Query string
}

// Abort halts the enclosing subtree.
type Abort struct {
	Reason string
}

// AbortWithNewDsl discards the enclosing subtree and continues with Replacement.
type AbortWithNewDsl struct {
	Replacement *ListElement
}

// PropagateSlots forwards slot values into the next intent. With Slots set it
// is explicit (PROPAGATE_SLOT(a=1)); otherwise values are copied from the
// latest intent named Source.
type PropagateSlots struct {
	Source string
	Slots  []*Slot
}

// ListElement is an ordered group of sibling nodes.
type ListElement struct {
	Items []Node
}

// IntentEvaluatedSuccess marks an intent that already ran.
type IntentEvaluatedSuccess struct {
	Intent *Intent
	Result any
}

// IntentRuntimeErrorResolver marks an intent whose tool reported a
// recoverable failure.
type IntentRuntimeErrorResolver struct {
	Intent  *Intent
	Message string
}

func (*Intent) node()                     {}
func (*Slot) node()                       {}
func (*Value) node()                      {}
func (*FuzzyValue) node()                 {}
func (*SameAsPreviousIntent) node()       {}
func (*ReturnValue) node()                {}
func (*ListValue) node()                  {}
func (*Ask) node()                        {}
func (*QueryFill) node()                  {}
func (*QueryGather) node()                {}
func (*QueryUser) node()                  {}
func (*Abort) node()                      {}
func (*AbortWithNewDsl) node()            {}
func (*PropagateSlots) node()             {}
func (*ListElement) node()                {}
func (*IntentEvaluatedSuccess) node()     {}
func (*IntentRuntimeErrorResolver) node() {}

// NewIntent builds an intent.
func NewIntent(name string, slots ...*Slot) *Intent {
	return &Intent{Name: name, Slots: slots}
}

// NewSlot builds a slot.
func NewSlot(name string, value Node) *Slot {
	return &Slot{Name: name, Value: value}
}

// NewList builds a ListElement.
func NewList(items ...Node) *ListElement {
	return &ListElement{Items: items}
}

// V builds a Value from a Go value. It panics on unsupported types and is
// meant for literals in code and tests; use FromGo for runtime data.
func V(v any) *Value {
	n, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	val, ok := n.(*Value)
	if !ok {
		panic(fmt.Sprintf("dsl: %T is not a scalar", v))
	}
	return val
}

// Slot returns the named slot and whether it exists.
func (i *Intent) Slot(name string) (*Slot, bool) {
	for _, s := range i.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// WithSlots returns a copy of the intent carrying slots.
func (i *Intent) WithSlots(slots []*Slot) *Intent {
	return &Intent{Name: i.Name, Slots: slots}
}

// StateOf reports the execution state of an intent-like node.
func StateOf(n Node) ExecState {
	switch n.(type) {
	case *IntentEvaluatedSuccess:
		return Succeeded
	case *IntentRuntimeErrorResolver:
		return Failed
	default:
		return Unevaluated
	}
}

// FromGo converts a Go value (tool result, history argument, model answer)
// into a value node.
func FromGo(v any) (Node, error) {
	switch x := v.(type) {
	case nil:
		return nil, fmt.Errorf("dsl: nil has no value representation")
	case Node:
		return x, nil
	case string:
		return &Value{V: x}, nil
	case Symbol:
		return &Value{V: x}, nil
	case bool:
		return &Value{V: x}, nil
	case int:
		return &Value{V: int64(x)}, nil
	case int32:
		return &Value{V: int64(x)}, nil
	case int64:
		return &Value{V: x}, nil
	case uint:
		return &Value{V: int64(x)}, nil
	case uint64:
		return &Value{V: int64(x)}, nil
	case float32:
		return &Value{V: float64(x)}, nil
	case float64:
		return &Value{V: x}, nil
	case time.Time:
		return &Value{V: x}, nil
	case []any:
		items := make([]Node, 0, len(x))
		for _, item := range x {
			n, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			items = append(items, n)
		}
		return &ListValue{Items: items}, nil
	case []string:
		items := make([]Node, 0, len(x))
		for _, item := range x {
			items = append(items, &Value{V: item})
		}
		return &ListValue{Items: items}, nil
	case []int64:
		items := make([]Node, 0, len(x))
		for _, item := range x {
			items = append(items, &Value{V: item})
		}
		return &ListValue{Items: items}, nil
	}
	return nil, fmt.Errorf("dsl: unsupported value type %T", v)
}
