package registry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// Kind is the base kind of a parameter type.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindDate
	KindList
)

// Type is a declared parameter or return type. Elem is set for lists.
type Type struct {
	Kind Kind
	Elem *Type
}

var (
	Any    = Type{Kind: KindAny}
	String = Type{Kind: KindString}
	Int    = Type{Kind: KindInt}
	Float  = Type{Kind: KindFloat}
	Bool   = Type{Kind: KindBool}
	Date   = Type{Kind: KindDate}
)

// ListOf returns the list type with element type elem.
func ListOf(elem Type) Type {
	return Type{Kind: KindList, Elem: &elem}
}

func (t Type) String() string {
	switch t.Kind {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindList:
		if t.Elem == nil {
			return "list[any]"
		}
		return "list[" + t.Elem.String() + "]"
	default:
		return "any"
	}
}

// TypeError reports a value that cannot be converted to a declared type.
type TypeError struct {
	Want  Type
	Value any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("cannot use %v (%T) as %s", e.Value, e.Value, e.Want)
}

// Cast converts v to t using only the explicit conversions a tool may rely
// on. The result is one of string, int64, float64, bool, time.Time or []any.
// With allowScalarToList a scalar becomes a one-element list.
func (t Type) Cast(v any, allowScalarToList bool) (any, error) {
	if sym, ok := v.(dsl.Symbol); ok {
		v = string(sym)
	}
	v = widen(v)
	fail := &TypeError{Want: t, Value: v}

	switch t.Kind {
	case KindAny:
		return v, nil

	case KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case int64, float64, bool:
			return dsl.FormatScalar(x), nil
		case time.Time:
			return dsl.FormatScalar(x), nil
		}

	case KindInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			if x == math.Trunc(x) && !math.IsInf(x, 0) && math.Abs(x) < 1<<62 {
				return int64(x), nil
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n, nil
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<62 {
				return int64(f), nil
			}
		}

	case KindFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, nil
			}
		}

	case KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "true", "yes":
				return true, nil
			case "false", "no":
				return false, nil
			}
		}

	case KindDate:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			s := strings.TrimSpace(x)
			if d, err := time.Parse("2006-01-02", s); err == nil {
				return d, nil
			}
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				return ts, nil
			}
		}

	case KindList:
		elem := Any
		if t.Elem != nil {
			elem = *t.Elem
		}
		if items, ok := v.([]any); ok {
			out := make([]any, len(items))
			for i, item := range items {
				c, err := elem.Cast(item, false)
				if err != nil {
					return nil, fail
				}
				out[i] = c
			}
			return out, nil
		}
		if allowScalarToList && v != nil {
			c, err := elem.Cast(v, false)
			if err != nil {
				return nil, fail
			}
			return []any{c}, nil
		}
	}
	return nil, fail
}

// widen maps the Go numeric and slice types tools commonly return onto the
// canonical value set.
func widen(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = int64(n)
		}
		return out
	case []int64:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	}
	return v
}

// ValueOf converts a resolved value node to its Go value.
func ValueOf(n dsl.Node) (any, error) {
	switch x := dsl.Unwrap(n).(type) {
	case *dsl.Value:
		return x.V, nil
	case *dsl.ListValue:
		out := make([]any, 0, len(x.Items))
		for _, item := range x.Items {
			v, err := ValueOf(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("missing value")
	default:
		return nil, fmt.Errorf("%s is not a resolved value", x)
	}
}
