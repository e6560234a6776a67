package evaluator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/history"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/registry"
)

// callLog remembers which tools ran, in order.
type callLog struct {
	calls []string
}

func (c *callLog) count(name string) int {
	n := 0
	for _, call := range c.calls {
		if call == name {
			n++
		}
	}
	return n
}

func testRegistry(t *testing.T, calls *callLog) *registry.Registry {
	t.Helper()
	stock := map[int64]int64{12: 14}
	reg := registry.New()
	err := reg.Register(
		registry.NewTool("retrieve_screw", func(ctx context.Context, args registry.Args) (any, error) {
			calls.calls = append(calls.calls, "retrieve_screw")
			length, count := args.Int("length"), args.Int("count")
			available, ok := stock[length]
			if !ok {
				return nil, registry.AbortAndResolve("No screws of length %d found in inventory.", length)
			}
			if count > available {
				return nil, registry.AbortAndResolve("Not enough screws of length %d. Requested %d, available %d.", length, count, available)
			}
			return count, nil
		},
			registry.WithParam("count", registry.Int, "how many"),
			registry.WithParam("length", registry.Int, "length in mm"),
			registry.WithReturns(registry.Int, "screws retrieved"),
			registry.WithValidator(func(args registry.Args) error {
				if args.Int("count") <= 0 {
					return fmt.Errorf("count must be positive, got %d", args.Int("count"))
				}
				return nil
			})),
		registry.NewTool("organize", func(ctx context.Context, args registry.Args) (any, error) {
			calls.calls = append(calls.calls, "organize")
			return "organized", nil
		}),
		registry.NewTool("crash", func(ctx context.Context, args registry.Args) (any, error) {
			calls.calls = append(calls.calls, "crash")
			return nil, errors.New("gripper jammed")
		}),
		registry.NewTool("stock", func(ctx context.Context, args registry.Args) (any, error) {
			calls.calls = append(calls.calls, "stock")
			return int64(3), nil
		}, registry.WithReturns(registry.Int, "a count")),
		registry.NewTool("slow", func(ctx context.Context, args registry.Args) (any, error) {
			calls.calls = append(calls.calls, "slow")
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return reg.Freeze()
}

func mustParse(t *testing.T, text string) *dsl.ListElement {
	t.Helper()
	tree, err := dsl.Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", text, err)
	}
	return tree
}

func evaluate(t *testing.T, e *Evaluator, hist *history.History, tree *dsl.ListElement) *Outcome {
	t.Helper()
	o, err := e.Evaluate(context.Background(), hist, tree)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	return o
}

func TestEvaluate_Success(t *testing.T) {
	calls := &callLog{}
	e := New(testRegistry(t, calls))
	hist := history.New()

	o := evaluate(t, e, hist, mustParse(t, `[organize(), retrieve_screw(count=3, length=12)]`))
	if o.Status != StatusSuccess || !o.Terminal() {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	if len(o.Results) != 2 || o.Results[0] != "organized" || o.Results[1] != int64(3) {
		t.Errorf("unexpected results: %v", o.Results)
	}
	for i, item := range o.Tree.Items {
		if dsl.StateOf(item) != dsl.Succeeded {
			t.Errorf("item %d not marked as evaluated: %T", i, item)
		}
	}
	last, ok := hist.Last()
	if hist.Len() != 2 || !ok || last.Args["count"] != int64(3) {
		t.Errorf("history not recorded with bound arguments: %+v", hist.Records())
	}
	if m := e.Metrics(); m.IntentsExecuted != 2 || m.IntentsSuccessful != 2 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestEvaluate_RecoverableStopsSiblings(t *testing.T) {
	calls := &callLog{}
	e := New(testRegistry(t, calls))

	o := evaluate(t, e, history.New(), mustParse(t,
		`[organize(), retrieve_screw(count=20, length=12), organize()]`))
	if o.Status != StatusAbortedRecoverable || o.Terminal() {
		t.Fatalf("unexpected status %s", o.Status)
	}
	if o.Message != "Not enough screws of length 12. Requested 20, available 14." {
		t.Errorf("unexpected message %q", o.Message)
	}
	if calls.count("organize") != 1 {
		t.Errorf("siblings after a recoverable failure must not run: %v", calls.calls)
	}
	failed, ok := o.Tree.Items[1].(*dsl.IntentRuntimeErrorResolver)
	if !ok || failed.Message != o.Message {
		t.Fatalf("failing intent not wrapped: %s", o.Tree.Items[1])
	}
	if _, ok := o.Tree.Items[2].(*dsl.Intent); !ok {
		t.Errorf("unexecuted sibling must be kept unevaluated: %T", o.Tree.Items[2])
	}
	if e.Metrics().IntentsRecoverable != 1 {
		t.Errorf("unexpected metrics: %+v", e.Metrics())
	}

	// Simulate the resolver replacing the failed intent; the evaluated
	// sibling must not run again.
	fixed := dsl.NewList(o.Tree.Items[0], mustParse(t, `retrieve_screw(count=14, length=12)`).Items[0], o.Tree.Items[2])
	o = evaluate(t, e, history.New(), fixed)
	if o.Status != StatusSuccess || calls.count("organize") != 2 || len(o.Results) != 3 {
		t.Errorf("unexpected second pass: %+v, calls %v", o, calls.calls)
	}
}

func TestEvaluate_HistoryKeepsDefaultsApart(t *testing.T) {
	noop := func(context.Context, registry.Args) (any, error) { return "tight", nil }
	reg := registry.New()
	if err := reg.Register(registry.NewTool("tighten", noop,
		registry.WithParam("length", registry.Int, "screw length in mm"),
		registry.WithOptionalParam("torque", registry.Int, "torque in Nm", int64(5)))); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	e := New(reg.Freeze())
	hist := history.New()

	evaluate(t, e, hist, mustParse(t, `[tighten(length=8, torque=9), tighten(length=12)]`))
	last, _ := hist.Last()
	if last.Args["torque"] != int64(5) || len(last.Defaulted) != 1 || last.Defaulted[0] != "torque" {
		t.Errorf("default not recorded as such: %+v", last)
	}
	v, err := hist.LookupSlot("torque")
	if err != nil || v != int64(9) {
		t.Errorf("LookupSlot(torque) = %v, %v; want the explicitly bound 9", v, err)
	}
	if v, _ := hist.LookupSlot("length"); v != int64(12) {
		t.Errorf("LookupSlot(length) = %v, want 12", v)
	}
}

func TestEvaluate_UnrecoverableFailures(t *testing.T) {
	tests := []struct {
		name string
		dsl  string
		code string
	}{
		{"tool crash", `[organize(), crash(), organize()]`, ds.ErrCodeToolExecution},
		{"unknown tool", `[organize(), fly(), organize()]`, ds.ErrCodeToolNotFound},
		{"type mismatch", `[organize(), retrieve_screw(count="many", length=12), organize()]`, ds.ErrCodeBinding},
		{"missing parameter", `[organize(), retrieve_screw(count=1), organize()]`, ds.ErrCodeBinding},
		{"validator rejection", `[organize(), retrieve_screw(count=0, length=12), organize()]`, ds.ErrCodeBinding},
		{"unknown parameter", `[organize(), organize(force=true), organize()]`, ds.ErrCodeBinding},
		{"abort", `[organize(), ABORT("changed my mind"), organize()]`, ds.ErrCodeAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := &callLog{}
			e := New(testRegistry(t, calls))
			o := evaluate(t, e, history.New(), mustParse(t, tt.dsl))
			if o.Status != StatusAbortedUnrecoverable || !o.Terminal() {
				t.Fatalf("unexpected status %s", o.Status)
			}
			if !ds.HasCode(o.Err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, o.Err)
			}
			if calls.count("organize") != 1 {
				t.Errorf("nothing after the failure may run: %v", calls.calls)
			}
			if calls.count("retrieve_screw") != 0 {
				t.Error("a tool must never run with arguments that do not bind")
			}
			if len(o.Results) != 1 || o.Results[0] != "organized" {
				t.Errorf("results of prior intents must be surfaced: %v", o.Results)
			}
		})
	}
}

func TestEvaluate_RecoverableBindingErrors(t *testing.T) {
	for _, text := range []string{
		`retrieve_screw(count="many", length=12)`,
		`retrieve_screw(count=0, length=12)`,
	} {
		calls := &callLog{}
		e := New(testRegistry(t, calls), WithRecoverableBindingErrors(true))
		o := evaluate(t, e, history.New(), mustParse(t, text))
		if o.Status != StatusAbortedRecoverable {
			t.Fatalf("%s: unexpected status %s", text, o.Status)
		}
		if _, ok := o.Tree.Items[0].(*dsl.IntentRuntimeErrorResolver); !ok {
			t.Errorf("%s: binding failure must be wrapped for the resolver: %T", text, o.Tree.Items[0])
		}
		if len(calls.calls) != 0 {
			t.Errorf("%s: tool must not run: %v", text, calls.calls)
		}
		if m := e.Metrics(); m.IntentsFailed != 0 {
			t.Errorf("%s: a binding failure is not a tool failure: %+v", text, m)
		}
	}
}

func TestEvaluate_Redirect(t *testing.T) {
	calls := &callLog{}
	e := New(testRegistry(t, calls))
	o := evaluate(t, e, history.New(), mustParse(t,
		`[organize(), ABORT_WITH_NEW_INTENTS([retrieve_screw(count=1, length=12)]), crash()]`))
	if o.Status != StatusRedirected || o.Terminal() {
		t.Fatalf("unexpected status %s", o.Status)
	}
	if !dsl.Equal(o.Redirect, mustParse(t, `retrieve_screw(count=1, length=12)`)) {
		t.Errorf("unexpected redirect %s", o.Redirect)
	}
	if calls.count("crash") != 0 || calls.count("retrieve_screw") != 0 {
		t.Errorf("redirected work must not run here: %v", calls.calls)
	}
}

func TestEvaluate_ReturnValueRunsFirstAndOnce(t *testing.T) {
	calls := &callLog{}
	e := New(testRegistry(t, calls))

	o := evaluate(t, e, history.New(), mustParse(t, `retrieve_screw(count=stock(), length=10)`))
	if o.Status != StatusAbortedRecoverable {
		t.Fatalf("unexpected status %s", o.Status)
	}
	if len(calls.calls) != 2 || calls.calls[0] != "stock" {
		t.Fatalf("nested call must run before its consumer: %v", calls.calls)
	}
	failed := o.Tree.Items[0].(*dsl.IntentRuntimeErrorResolver)
	count, _ := failed.Intent.Slot("count")
	rv, ok := count.Value.(*dsl.ReturnValue)
	if !ok {
		t.Fatalf("nested call must stay a ReturnValue: %T", count.Value)
	}
	if done, ok := rv.Call.(*dsl.IntentEvaluatedSuccess); !ok || done.Result != int64(3) {
		t.Fatalf("nested call must be marked evaluated: %s", rv.Call)
	}

	// The corrected consumer keeps the evaluated nested call.
	corrected := failed.Intent.WithSlots([]*dsl.Slot{count, dsl.NewSlot("length", dsl.V(12))})
	o = evaluate(t, e, history.New(), dsl.NewList(corrected))
	if o.Status != StatusSuccess || o.Results[0] != int64(3) {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if calls.count("stock") != 1 {
		t.Errorf("nested call ran again: %v", calls.calls)
	}
}

func TestEvaluate_AlreadyEvaluatedIsSkipped(t *testing.T) {
	calls := &callLog{}
	e := New(testRegistry(t, calls))
	done := &dsl.IntentEvaluatedSuccess{Intent: dsl.NewIntent("organize"), Result: "organized"}
	o := evaluate(t, e, history.New(), dsl.NewList(done))
	if o.Tree.Items[0] != done || len(calls.calls) != 0 || o.Results[0] != "organized" {
		t.Errorf("evaluated intents must not run again: %v", calls.calls)
	}
}

func TestEvaluate_Retry(t *testing.T) {
	attempts := 0
	reg := registry.New()
	_ = reg.Register(registry.NewTool("flaky", func(ctx context.Context, args registry.Args) (any, error) {
		attempts++
		if attempts < 2 {
			return nil, registry.Retry("arm still moving")
		}
		return "ok", nil
	}))
	e := New(reg.Freeze())
	tree := mustParse(t, `flaky()`)

	o := evaluate(t, e, history.New(), tree)
	if o.Status != StatusAbortedRecoverable || !o.Retry {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if _, ok := o.Tree.Items[0].(*dsl.Intent); !ok {
		t.Fatalf("retried intent must stay unevaluated: %T", o.Tree.Items[0])
	}
	o = evaluate(t, e, history.New(), o.Tree)
	if o.Status != StatusSuccess || attempts != 2 {
		t.Errorf("unexpected retry outcome %+v after %d attempts", o, attempts)
	}
}

func TestEvaluate_ContractViolation(t *testing.T) {
	e := New(testRegistry(t, &callLog{}))
	for _, text := range []string{`retrieve_screw(count=ASK("how many?"), length=12)`, `retrieve_screw(count=F("a few"), length=12)`} {
		if _, err := e.Evaluate(context.Background(), history.New(), mustParse(t, text)); !ds.HasCode(err, ds.ErrCodeContract) {
			t.Errorf("%s: expected a contract violation, got %v", text, err)
		}
	}
	if _, err := e.Evaluate(context.Background(), nil, nil); !ds.HasCode(err, ds.ErrCodeContract) {
		t.Errorf("nil tree: expected a contract violation, got %v", err)
	}
}

func TestEvaluate_Cancellation(t *testing.T) {
	calls := &callLog{}
	e := New(testRegistry(t, calls))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := e.Evaluate(ctx, history.New(), mustParse(t, `organize()`))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if o.Status != StatusAbortedUnrecoverable || !ds.HasCode(o.Err, ds.ErrCodeCancelled) {
		t.Errorf("unexpected outcome %+v", o)
	}
	if len(calls.calls) != 0 {
		t.Errorf("no tool may start after cancellation: %v", calls.calls)
	}
}

func TestEvaluate_ExecTimeout(t *testing.T) {
	e := New(testRegistry(t, &callLog{}), WithExecTimeout(10*time.Millisecond))
	o := evaluate(t, e, history.New(), mustParse(t, `slow()`))
	if o.Status != StatusAbortedUnrecoverable || !ds.HasCode(o.Err, ds.ErrCodeToolExecution) {
		t.Errorf("unexpected outcome %+v", o)
	}
	if !errors.Is(o.Err, context.DeadlineExceeded) {
		t.Errorf("timeout cause lost: %v", o.Err)
	}
}

func TestEvaluate_BindingIsTypeSafe(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("tools only see values of their declared type", prop.ForAll(
		func(v interface{}) bool {
			var seen []any
			reg := registry.New()
			_ = reg.Register(registry.NewTool("take", func(ctx context.Context, args registry.Args) (any, error) {
				seen = append(seen, args["n"], args["when"])
				return nil, nil
			},
				registry.WithParam("n", registry.Int, "an integer"),
				registry.WithOptionalParam("when", registry.Date, "a date", "2024-01-02")))

			node, err := dsl.FromGo(v)
			if err != nil {
				return false
			}
			tree := dsl.NewList(dsl.NewIntent("take", dsl.NewSlot("n", node)))
			o, err := New(reg.Freeze()).Evaluate(context.Background(), history.New(), tree)
			if err != nil {
				return false
			}
			if o.Status == StatusSuccess {
				_, isInt := seen[0].(int64)
				_, isDate := seen[1].(time.Time)
				return len(seen) == 2 && isInt && isDate
			}
			return len(seen) == 0 && ds.HasCode(o.Err, ds.ErrCodeBinding)
		},
		gen.OneGenOf(
			gen.Int64(),
			gen.Float64Range(-1e6, 1e6),
			gen.AlphaString(),
			gen.NumString(),
			gen.Bool(),
		),
	))

	properties.TestingRun(t)
}
