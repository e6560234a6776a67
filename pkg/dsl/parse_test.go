package dsl

import (
	"errors"
	"testing"
	"time"
)

func TestParse_RendersCanonically(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"single intent", `retrieve_screw(count=3, length=12)`, `[retrieve_screw(count=3, length=12)]`},
		{"bracketed list", `[organize(), shutdown()]`, `[organize(), shutdown()]`},
		{"fuzzy and ask", `retrieve_screw(count=F("a few"), length=ASK("what length?"))`,
			`[retrieve_screw(count=FuzzyValue("a few"), length=ASK("what length?"))]`},
		{"nested call", `move(to=locate(name="bin"))`, `[move(to=locate(name="bin"))]`},
		{"list value", `initialize_components(components=["arm", "gripper"])`, `[initialize_components(components=["arm", "gripper"])]`},
		{"floats keep a point", `scale(factor=2.0, offset=-0.5)`, `[scale(factor=2.0, offset=-0.5)]`},
		{"dates", `book(day=2024-05-01)`, `[book(day=2024-05-01)]`},
		{"symbols", `paint(color=red)`, `[paint(color=red)]`},
		{"booleans", `toggle(on=True)`, `[toggle(on=true)]`},
		{"escapes", `say(text="a \"quoted\" \\ word")`, `[say(text="a \"quoted\" \\ word")]`},
		{"commas in strings", `say(text="a, b")`, `[say(text="a, b")]`},
		{"same as previous", `retrieve_screw(count=2, length=SAME_AS_PREVIOUS_INTENT())`,
			`[retrieve_screw(count=2, length=SAME_AS_PREVIOUS_INTENT())]`},
		{"query nodes", `QUERY_USER("how many?"), f(a=QUERY_FILL("a?"), b=QUERY_GATHER("b?"))`,
			`[QUERY_USER("how many?"), f(a=QUERY_FILL("a?"), b=QUERY_GATHER("b?"))]`},
		{"top level gather", `QUERY_GATHER("get screws", "which lengths are stocked?")`,
			`[QUERY_GATHER("get screws", "which lengths are stocked?")]`},
		{"abort", `ABORT(), ABORT("no")`, `[ABORT(), ABORT("no")]`},
		{"redirect", `ABORT_WITH_NEW_INTENTS([organize(), shutdown()])`, `[ABORT_WITH_NEW_INTENTS([organize(), shutdown()])]`},
		{"propagate", `PROPAGATE_SLOT(length=12), PROPAGATE_SLOTS_FROM("retrieve_screw")`,
			`[PROPAGATE_SLOT(length=12), PROPAGATE_SLOTS_FROM("retrieve_screw")]`},
		{"nested list element", `[[organize()], shutdown()]`, `[[organize()], shutdown()]`},
		{"whitespace", "  [ organize( ) ,\n shutdown() ]  ", `[organize(), shutdown()]`},
		{"empty list", `[]`, `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if got := tree.String(); got != tt.want {
				t.Errorf("rendered %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	inputs := []string{
		``,
		`f(a=1,)`,
		`f(a=1,,b=2)`,
		`f(a=1`,
		`f(a=[1, 2)`,
		`f(a=1))`,
		`f(1)`,
		`f(a=1, a=2)`,
		`f(a="unterminated)`,
		`ASK(1)`,
		`ASK("a", "b")`,
		`f(a=QUERY_USER("x"))`,
		`f(a=ABORT())`,
		`f(a=PROPAGATE_SLOT(b=1))`,
		`ABORT_WITH_NEW_INTENTS(organize())`,
		`PROPAGATE_SLOT()`,
		`f(a=b c)`,
	}
	for _, in := range inputs {
		_, err := Parse(in)
		if err == nil {
			t.Errorf("Parse(%q) expected error, got nil", in)
			continue
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("Parse(%q) error %T is not a *ParseError", in, err)
		}
	}
}

func TestParse_NodeTypes(t *testing.T) {
	tree, err := Parse(`retrieve_screw(count=F("a few"), length=ASK("what length?")), move(to=locate(name="bin"))`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(tree.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(tree.Items))
	}
	first, ok := tree.Items[0].(*Intent)
	if !ok {
		t.Fatalf("expected *Intent, got %T", tree.Items[0])
	}
	count, _ := first.Slot("count")
	if f, ok := count.Value.(*FuzzyValue); !ok || f.Descriptor != "a few" {
		t.Errorf("count slot = %#v, want FuzzyValue(a few)", count.Value)
	}
	length, _ := first.Slot("length")
	if a, ok := length.Value.(*Ask); !ok || a.Question != "what length?" {
		t.Errorf("length slot = %#v, want ASK", length.Value)
	}
	second := tree.Items[1].(*Intent)
	rv, ok := second.Slots[0].Value.(*ReturnValue)
	if !ok {
		t.Fatalf("expected *ReturnValue, got %T", second.Slots[0].Value)
	}
	if inner, ok := rv.Call.(*Intent); !ok || inner.Name != "locate" {
		t.Errorf("return value wraps %#v, want locate intent", rv.Call)
	}
}

func TestParseLiteral(t *testing.T) {
	day, _ := time.Parse("2006-01-02", "2024-05-01")
	tests := []struct {
		in   string
		want any
	}{
		{"12", int64(12)},
		{" 12 ", int64(12)},
		{"2.5", 2.5},
		{"true", true},
		{"2024-05-01", day},
		{`"12"`, "12"},
		{"twelve please", "twelve please"},
		{"m3", "m3"},
		{"", ""},
	}
	for _, tt := range tests {
		got := ParseLiteral(tt.in)
		if !equalScalar(got.V, tt.want) {
			t.Errorf("ParseLiteral(%q) = %#v, want %#v", tt.in, got.V, tt.want)
		}
	}
}

func TestParseValue(t *testing.T) {
	n, err := ParseValue("[8, 10]")
	if err != nil {
		t.Fatalf("ParseValue failed: %v", err)
	}
	if lv, ok := n.(*ListValue); !ok || len(lv.Items) != 2 {
		t.Errorf("ParseValue = %#v, want a two-item ListValue", n)
	}
	if _, err := ParseValue(`QUERY_USER("x")`); err == nil {
		t.Error("expected QUERY_USER to be rejected in value position")
	}
}
