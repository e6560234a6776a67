package fuzzy

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/Knetic/govaluate"
)

// ExpressionFunctionRegistry holds the functions an expression may call.
// Only registered functions are reachable from descriptor text.
type ExpressionFunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]govaluate.ExpressionFunction
}

// NewExpressionFunctionRegistry creates a registry preloaded with safe math
// helpers.
func NewExpressionFunctionRegistry() *ExpressionFunctionRegistry {
	r := &ExpressionFunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}
	r.Register("min", numeric2(math.Min))
	r.Register("max", numeric2(math.Max))
	r.Register("round", numeric1(math.Round))
	r.Register("floor", numeric1(math.Floor))
	r.Register("ceil", numeric1(math.Ceil))
	r.Register("half", numeric1(func(x float64) float64 { return x / 2 }))
	return r
}

// Register allows users to register a custom function for expressions.
func (r *ExpressionFunctionRegistry) Register(name string, fn govaluate.ExpressionFunction) {
	r.mu.Lock()
	r.functions[name] = fn
	r.mu.Unlock()
}

// whitelisted returns a copy of the registered functions.
func (r *ExpressionFunctionRegistry) whitelisted() map[string]govaluate.ExpressionFunction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	whitelist := make(map[string]govaluate.ExpressionFunction, len(r.functions))
	for k, v := range r.functions {
		whitelist[k] = v
	}
	return whitelist
}

func numeric1(f func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		x, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %T", args[0])
		}
		return f(x), nil
	}
}

func numeric2(f func(float64, float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
		}
		x, ok1 := args[0].(float64)
		y, ok2 := args[1].(float64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("expected numbers, got %T and %T", args[0], args[1])
		}
		return f(x, y), nil
	}
}

// Expression evaluates arithmetic descriptors such as "dozen + 2" or
// "max(3, few)". Single-word table entries are available as variables.
type Expression struct {
	functions *ExpressionFunctionRegistry
	vars      map[string]any
}

// NewExpression creates an expression normalizer. A nil registry gets the
// default functions; a nil table gets the default quantities.
func NewExpression(functions *ExpressionFunctionRegistry, table *Table) *Expression {
	if functions == nil {
		functions = NewExpressionFunctionRegistry()
	}
	if table == nil {
		table = NewTable(nil)
	}
	return &Expression{functions: functions, vars: table.Vars()}
}

// Validate checks that expr parses with the registered functions.
func (e *Expression) Validate(expr string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expr, e.functions.whitelisted())
	return err
}

// Normalize implements dragonscale.Normalizer.
func (e *Expression) Normalize(_ context.Context, descriptor string) (any, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(canonical(descriptor), e.functions.whitelisted())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	for _, v := range expr.Vars() {
		if _, ok := e.vars[v]; !ok {
			return nil, fmt.Errorf("%w: unknown word %q", ErrUnrecognized, v)
		}
	}
	res, err := expr.Evaluate(e.vars)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	switch x := res.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: %q is not finite", ErrUnrecognized, descriptor)
		}
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), nil
		}
		return x, nil
	case bool:
		return x, nil
	}
	return nil, fmt.Errorf("%w: %q evaluates to %T", ErrUnrecognized, descriptor, res)
}
