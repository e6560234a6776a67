package registry

import (
	"context"
	"fmt"
)

// Args are the validated, type-cast arguments passed to a tool.
type Args map[string]any

// Int returns the named int argument.
func (a Args) Int(name string) int64 {
	n, _ := a[name].(int64)
	return n
}

// Float returns the named float argument.
func (a Args) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

// String returns the named string argument.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Bool returns the named bool argument.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Strings returns the named list argument as strings. Non-string items are
// skipped.
func (a Args) Strings(name string) []string {
	items, _ := a[name].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ToolFunc is the Go function behind a tool.
type ToolFunc func(ctx context.Context, args Args) (any, error)

// Param is one declared tool parameter.
type Param struct {
	Name        string
	Type        Type
	Description string
	Optional    bool
	Default     any
}

// Tool is a registered, explicitly typed function.
type Tool struct {
	name        string
	fn          ToolFunc
	params      []Param
	description string
	category    string
	returns     Type
	returnsDoc  string
	examples    []string
	validator   func(Args) error
	scalarLists bool
}

// ToolOption represents an option for configuring a Tool.
type ToolOption func(*Tool)

// WithDescription sets a detailed description for the tool.
func WithDescription(description string) ToolOption {
	return func(t *Tool) {
		t.description = description
	}
}

// WithCategory sets the tool's category.
func WithCategory(category string) ToolOption {
	return func(t *Tool) {
		t.category = category
	}
}

// WithParam declares a required parameter.
func WithParam(name string, typ Type, description string) ToolOption {
	return func(t *Tool) {
		t.params = append(t.params, Param{Name: name, Type: typ, Description: description})
	}
}

// WithOptionalParam declares a parameter that falls back to def when the
// intent does not bind it.
func WithOptionalParam(name string, typ Type, description string, def any) ToolOption {
	return func(t *Tool) {
		t.params = append(t.params, Param{Name: name, Type: typ, Description: description, Optional: true, Default: def})
	}
}

// WithReturns sets the return type and its description.
func WithReturns(typ Type, description string) ToolOption {
	return func(t *Tool) {
		t.returns = typ
		t.returnsDoc = description
	}
}

// WithExamples adds usage examples to the schema.
func WithExamples(examples ...string) ToolOption {
	return func(t *Tool) {
		t.examples = append(t.examples, examples...)
	}
}

// WithValidator sets a custom validator run on bound arguments before the
// call.
func WithValidator(validator func(Args) error) ToolOption {
	return func(t *Tool) {
		t.validator = validator
	}
}

// WithScalarToList lets a scalar bind to a list parameter as a one-element
// list.
func WithScalarToList() ToolOption {
	return func(t *Tool) {
		t.scalarLists = true
	}
}

// NewTool creates a tool backed by fn.
func NewTool(name string, fn ToolFunc, options ...ToolOption) *Tool {
	t := &Tool{
		name:    name,
		fn:      fn,
		returns: Any,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

func (t *Tool) Name() string        { return t.name }
func (t *Tool) Description() string { return t.description }
func (t *Tool) Category() string    { return t.category }
func (t *Tool) Returns() Type       { return t.returns }

// Params returns a copy of the declared parameters in declaration order.
func (t *Tool) Params() []Param {
	out := make([]Param, len(t.params))
	copy(out, t.params)
	return out
}

// Param returns the named parameter declaration.
func (t *Tool) Param(name string) (Param, bool) {
	for _, p := range t.params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// BindingError reports an argument that cannot be bound to the tool's
// declared parameters. The tool is never invoked when binding fails.
type BindingError struct {
	Tool  string
	Param string
	Err   error
}

func (e *BindingError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("tool '%s': %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool '%s', parameter '%s': %v", e.Tool, e.Param, e.Err)
}

func (e *BindingError) Unwrap() error { return e.Err }

var (
	errUnknownParam   = fmt.Errorf("no such parameter")
	errMissingParam   = fmt.Errorf("required parameter not bound")
	errMissingDefault = fmt.Errorf("optional parameter has no default")
)

// Bind validates raw slot values against the declared parameters, casts
// each to its declared type and runs the tool's validator. Every failure is
// a *BindingError; a validator rejection has no Param.
func (t *Tool) Bind(raw map[string]any) (Args, error) {
	for name := range raw {
		if _, ok := t.Param(name); !ok {
			return nil, &BindingError{Tool: t.name, Param: name, Err: errUnknownParam}
		}
	}
	args := make(Args, len(t.params))
	for _, p := range t.params {
		v, ok := raw[p.Name]
		if !ok {
			if !p.Optional {
				return nil, &BindingError{Tool: t.name, Param: p.Name, Err: errMissingParam}
			}
			if p.Default == nil {
				continue
			}
			v = p.Default
		}
		cast, err := p.Type.Cast(v, t.scalarLists)
		if err != nil {
			return nil, &BindingError{Tool: t.name, Param: p.Name, Err: err}
		}
		args[p.Name] = cast
	}
	if t.validator != nil {
		if err := t.validator(args); err != nil {
			return nil, &BindingError{Tool: t.name, Err: fmt.Errorf("input validation failed: %w", err)}
		}
	}
	return args, nil
}

// Call runs the tool function on bound arguments, then casts the result to
// the declared return type.
func (t *Tool) Call(ctx context.Context, args Args) (any, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("tool function is nil")
	}
	out, err := t.fn(ctx, args)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	cast, err := t.returns.Cast(out, false)
	if err != nil {
		return nil, fmt.Errorf("tool %s returned an undeclared type: %w", t.name, err)
	}
	return cast, nil
}

// ParamSchema is the prompt-facing description of a parameter.
type ParamSchema struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
	Optional    bool   `yaml:"optional,omitempty"`
	Default     any    `yaml:"default,omitempty"`
}

// ToolSchema is the prompt-facing description of a tool.
type ToolSchema struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Category    string        `yaml:"category,omitempty"`
	Parameters  []ParamSchema `yaml:"parameters"`
	Returns     string        `yaml:"returns,omitempty"`
	Examples    []string      `yaml:"examples,omitempty"`
}

// Schema describes the tool for system prompts.
func (t *Tool) Schema() ToolSchema {
	s := ToolSchema{
		Name:        t.name,
		Description: t.description,
		Category:    t.category,
		Parameters:  make([]ParamSchema, 0, len(t.params)),
		Examples:    t.examples,
	}
	for _, p := range t.params {
		s.Parameters = append(s.Parameters, ParamSchema{
			Name:        p.Name,
			Type:        p.Type.String(),
			Description: p.Description,
			Optional:    p.Optional,
			Default:     p.Default,
		})
	}
	if t.returns.Kind != KindAny || t.returnsDoc != "" {
		s.Returns = t.returns.String()
		if t.returnsDoc != "" {
			s.Returns += ": " + t.returnsDoc
		}
	}
	return s
}
