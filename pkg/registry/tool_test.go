package registry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func screwTool(fail bool) *Tool {
	return NewTool("retrieve_screw",
		func(ctx context.Context, args Args) (any, error) {
			if fail {
				return nil, errors.New("fail")
			}
			return args.Int("count") * 10, nil
		},
		WithDescription("Retrieve screws from the inventory"),
		WithCategory("robot"),
		WithParam("count", Int, "how many screws"),
		WithParam("length", Int, "screw length in mm"),
		WithOptionalParam("finish", String, "surface finish", "zinc"),
		WithReturns(Int, "grams picked"),
		WithValidator(func(args Args) error {
			if args.Int("count") < 0 {
				return errors.New("count must not be negative")
			}
			return nil
		}),
	)
}

func TestTool_Call_SuccessAndFailure(t *testing.T) {
	tool := screwTool(false)
	res, err := tool.Call(context.Background(), Args{"count": int64(3), "length": int64(12)})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if res != int64(30) {
		t.Errorf("expected 30, got %v", res)
	}

	failing := screwTool(true)
	if _, err := failing.Call(context.Background(), Args{"count": int64(3), "length": int64(12)}); err == nil {
		t.Error("expected error for failing tool, got nil")
	}
}

func TestTool_Bind_RunsValidator(t *testing.T) {
	tool := screwTool(false)
	_, err := tool.Bind(map[string]any{"count": int64(-1), "length": int64(12)})
	var be *BindingError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BindingError, got %v", err)
	}
	if be.Param != "" || !strings.Contains(be.Error(), "count must not be negative") {
		t.Errorf("unexpected binding error %q (param %q)", be.Error(), be.Param)
	}
}

func TestTool_Call_CastsReturnValue(t *testing.T) {
	tool := NewTool("count", func(ctx context.Context, args Args) (any, error) {
		return 7, nil
	}, WithReturns(Int, ""))
	res, err := tool.Call(context.Background(), Args{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != int64(7) {
		t.Errorf("expected int64(7), got %#v", res)
	}

	bad := NewTool("bad", func(ctx context.Context, args Args) (any, error) {
		return "seven", nil
	}, WithReturns(Int, ""))
	if _, err := bad.Call(context.Background(), Args{}); err == nil {
		t.Error("expected error for undeclared return type, got nil")
	}
}

func TestTool_Bind(t *testing.T) {
	tool := screwTool(false)
	tests := []struct {
		name    string
		raw     map[string]any
		want    Args
		wantErr bool
	}{
		{"exact types", map[string]any{"count": int64(3), "length": int64(12)},
			Args{"count": int64(3), "length": int64(12), "finish": "zinc"}, false},
		{"numeric string", map[string]any{"count": "3", "length": int64(12)},
			Args{"count": int64(3), "length": int64(12), "finish": "zinc"}, false},
		{"integral float", map[string]any{"count": 3.0, "length": int64(12), "finish": "black"},
			Args{"count": int64(3), "length": int64(12), "finish": "black"}, false},
		{"fractional float", map[string]any{"count": 2.5, "length": int64(12)}, nil, true},
		{"word", map[string]any{"count": "a few", "length": int64(12)}, nil, true},
		{"missing required", map[string]any{"count": int64(3)}, nil, true},
		{"unknown slot", map[string]any{"count": int64(3), "length": int64(12), "colour": "red"}, nil, true},
		{"bool for int", map[string]any{"count": true, "length": int64(12)}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tool.Bind(tt.raw)
			if tt.wantErr {
				var be *BindingError
				if !errors.As(err, &be) {
					t.Fatalf("expected *BindingError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %#v, want %#v", k, got[k], v)
				}
			}
		})
	}
}

func TestTool_Bind_Lists(t *testing.T) {
	strict := NewTool("initialize_components", nil, WithParam("components", ListOf(String), ""))
	if _, err := strict.Bind(map[string]any{"components": "arm"}); err == nil {
		t.Error("expected scalar-to-list to fail without WithScalarToList")
	}
	args, err := strict.Bind(map[string]any{"components": []any{"arm", "gripper"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := args.Strings("components"); len(got) != 2 || got[1] != "gripper" {
		t.Errorf("components = %v", got)
	}

	lenient := NewTool("initialize_components", nil, WithParam("components", ListOf(String), ""), WithScalarToList())
	args, err = lenient.Bind(map[string]any{"components": "arm"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := args.Strings("components"); len(got) != 1 || got[0] != "arm" {
		t.Errorf("components = %v", got)
	}

	ints := NewTool("sum", nil, WithParam("xs", ListOf(Int), ""))
	if _, err := ints.Bind(map[string]any{"xs": []any{int64(1), "two"}}); err == nil {
		t.Error("expected element cast failure")
	}
}

func TestType_Cast(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		typ     Type
		in      any
		want    any
		wantErr bool
	}{
		{Int, int64(4), int64(4), false},
		{Int, 4, int64(4), false},
		{Int, " 12 ", int64(12), false},
		{Int, 4.0, int64(4), false},
		{Int, 4.5, nil, true},
		{Float, int64(4), 4.0, false},
		{Float, "2.5", 2.5, false},
		{Float, true, nil, true},
		{Bool, "yes", true, false},
		{Bool, "No", false, false},
		{Bool, "maybe", nil, true},
		{Bool, int64(1), nil, true},
		{String, int64(12), "12", false},
		{String, true, "true", false},
		{String, "x", "x", false},
		{Date, "2024-05-01", day, false},
		{Date, day, day, false},
		{Date, "tomorrow", nil, true},
		{Any, "x", "x", false},
	}
	for _, tt := range tests {
		got, err := tt.typ.Cast(tt.in, false)
		if tt.wantErr {
			var te *TypeError
			if !errors.As(err, &te) {
				t.Errorf("%s.Cast(%#v) expected *TypeError, got %v", tt.typ, tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s.Cast(%#v) unexpected error: %v", tt.typ, tt.in, err)
			continue
		}
		if gt, ok := got.(time.Time); ok {
			if !gt.Equal(tt.want.(time.Time)) {
				t.Errorf("%s.Cast(%#v) = %v, want %v", tt.typ, tt.in, got, tt.want)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("%s.Cast(%#v) = %#v, want %#v", tt.typ, tt.in, got, tt.want)
		}
	}
}

func TestTool_Schema(t *testing.T) {
	s := screwTool(false).Schema()
	if s.Name != "retrieve_screw" || s.Category != "robot" {
		t.Errorf("unexpected schema header: %+v", s)
	}
	if len(s.Parameters) != 3 || s.Parameters[0].Type != "int" || !s.Parameters[2].Optional {
		t.Errorf("unexpected parameters: %+v", s.Parameters)
	}
	if !strings.HasPrefix(s.Returns, "int") {
		t.Errorf("unexpected returns: %q", s.Returns)
	}
	if got := ListOf(ListOf(Int)).String(); got != "list[list[int]]" {
		t.Errorf("nested list type renders %q", got)
	}
}
