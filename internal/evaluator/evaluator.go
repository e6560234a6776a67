// Package evaluator executes fully resolved intent trees against the tools
// of a registry. Intents run strictly left to right; a tool's recoverable
// failure hands the tree back to the resolver instead of ending the session.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/history"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/registry"
)

const tracerName = "github.com/ZanzyTHEbar/dragonscale-intents/internal/evaluator"

// Evaluator runs resolved trees. It keeps no per-session state besides its
// metrics and can be shared by concurrent sessions.
type Evaluator struct {
	registry           *registry.Registry
	bus                eventbus.EventBus
	tracer             trace.Tracer
	execTimeout        time.Duration // Per-intent execution timeout
	recoverableBinding bool

	metrics Metrics
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithEventBus publishes execution events on bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Evaluator) {
		e.bus = bus
	}
}

// WithTracer sets the tracer for evaluation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Evaluator) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithExecTimeout bounds each tool call. Zero means no bound.
func WithExecTimeout(timeout time.Duration) Option {
	return func(e *Evaluator) {
		e.execTimeout = timeout
	}
}

// WithRecoverableBindingErrors reports binding failures as recoverable so
// the user can correct the arguments.
func WithRecoverableBindingErrors(enabled bool) Option {
	return func(e *Evaluator) {
		e.recoverableBinding = enabled
	}
}

// New creates an evaluator over a (preferably frozen) registry.
func New(reg *registry.Registry, options ...Option) *Evaluator {
	if reg == nil {
		reg = registry.New().Freeze()
	}
	e := &Evaluator{
		registry: reg,
		tracer:   otel.Tracer(tracerName),
	}
	for _, option := range options {
		option(e)
	}
	if len(reg.Tools()) == 0 {
		log.Println("Warning: evaluator initialized with an empty tool registry.")
	}
	return e
}

// Metrics returns a copy of the execution metrics.
func (e *Evaluator) Metrics() Metrics {
	return e.metrics.Copy()
}

// Evaluate executes tree. Domain outcomes, cancellation included, are
// reported in the Outcome; the error is reserved for contract violations.
func (e *Evaluator) Evaluate(ctx context.Context, hist *history.History, tree *dsl.ListElement) (*Outcome, error) {
	if tree == nil {
		return nil, ds.NewContractError(ds.StageEvaluation, "nil tree")
	}
	if pending := dsl.Placeholders(tree); len(pending) > 0 {
		return nil, ds.NewContractError(ds.StageEvaluation,
			fmt.Sprintf("tree has %d unresolved placeholder(s), first %s", len(pending), pending[0]))
	}
	if hist == nil {
		hist = history.New()
	}

	ctx, span := e.tracer.Start(ctx, "evaluator.evaluate")
	defer span.End()

	e.metrics.started()
	start := time.Now()
	e.emit(ctx, eventbus.EventEvaluationStarted, tree.String(), nil)
	log.Printf("Starting evaluation (session: %s, items: %d)", ds.SessionIDFrom(ctx), len(tree.Items))

	r := &run{e: e, hist: hist}
	out, st := r.list(ctx, tree, true)

	o := &Outcome{Status: StatusSuccess, Tree: out, Results: r.results}
	if st != nil {
		o.Status = st.status
		o.Err = st.err
		o.Message = st.message
		o.Redirect = st.redirect
		o.Retry = st.retry
	}

	meta := map[string]interface{}{
		eventbus.MetaStatus:   string(o.Status),
		eventbus.MetaDuration: time.Since(start).Milliseconds(),
	}
	switch o.Status {
	case StatusAbortedUnrecoverable:
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, o.Err.Error())
		meta[eventbus.MetaError] = o.Err.Error()
		meta[eventbus.MetaErrorCode] = ds.CodeOf(o.Err)
	case StatusAbortedRecoverable:
		meta[eventbus.MetaError] = o.Message
	case StatusRedirected:
		e.emit(ctx, eventbus.EventRedirected, o.Redirect.String(), nil)
	}
	span.SetAttributes(attribute.String("dragonscale.status", string(o.Status)))
	e.emit(ctx, eventbus.EventEvaluationCompleted, out.String(), meta)
	log.Printf("Evaluation finished (session: %s, status: %s, results: %d, duration: %v)",
		ds.SessionIDFrom(ctx), o.Status, len(o.Results), time.Since(start))
	return o, nil
}

func (e *Evaluator) emit(ctx context.Context, typ eventbus.EventType, payload interface{}, meta map[string]interface{}) {
	if e.bus == nil {
		return
	}
	if meta == nil {
		meta = make(map[string]interface{})
	}
	if id := ds.SessionIDFrom(ctx); id != "" {
		meta[eventbus.MetaSessionID] = id
	}
	eventbus.Emit(ctx, e.bus, typ, "evaluator", payload, meta)
}

// run is the state of one Evaluate call.
type run struct {
	e       *Evaluator
	hist    *history.History
	results []any
}

// list evaluates the items of l in order. On a stop, the unevaluated
// siblings are kept unchanged after the item that stopped.
func (r *run) list(ctx context.Context, l *dsl.ListElement, top bool) (*dsl.ListElement, *stop) {
	out := make([]dsl.Node, 0, len(l.Items))
	changed := false
	for i, item := range l.Items {
		node, st := r.item(ctx, item, top)
		if node != item {
			changed = true
		}
		out = append(out, node)
		if st != nil {
			out = append(out, l.Items[i+1:]...)
			return &dsl.ListElement{Items: out}, st
		}
	}
	if !changed {
		return l, nil
	}
	return &dsl.ListElement{Items: out}, nil
}

func (r *run) item(ctx context.Context, n dsl.Node, top bool) (dsl.Node, *stop) {
	switch x := n.(type) {
	case *dsl.Intent:
		next, result, st := r.intent(ctx, x)
		if st == nil {
			if top {
				r.results = append(r.results, result)
			}
			return &dsl.IntentEvaluatedSuccess{Intent: next, Result: result}, nil
		}
		if st.status == StatusAbortedRecoverable && !st.retry {
			return &dsl.IntentRuntimeErrorResolver{Intent: next, Message: st.message}, st
		}
		return next, st

	case *dsl.IntentEvaluatedSuccess:
		if top {
			r.results = append(r.results, x.Result)
		}
		return x, nil

	case *dsl.ListElement:
		return r.list(ctx, x, top)

	case *dsl.Abort:
		log.Printf("Evaluation aborted (session: %s, reason: %s)", ds.SessionIDFrom(ctx), x.Reason)
		return x, unrecoverable(ds.NewAbortedError(x.Reason))

	case *dsl.AbortWithNewDsl:
		return x, &stop{status: StatusRedirected, redirect: x.Replacement}
	}
	return n, nil
}

// intent executes in after its nested calls. It returns in with its nested
// calls updated, and the tool result on success.
func (r *run) intent(ctx context.Context, in *dsl.Intent) (*dsl.Intent, any, *stop) {
	ctx, span := r.e.tracer.Start(ctx, "evaluator.intent",
		trace.WithAttributes(attribute.String("dragonscale.tool", in.Name)))
	defer span.End()

	cur := in
	for i, s := range in.Slots {
		v, st := r.dependencies(ctx, s.Value)
		if v != s.Value {
			cur = replaceSlot(cur, i, v)
		}
		if st != nil {
			return cur, nil, st
		}
	}

	tool, err := r.e.registry.Tool(cur.Name)
	if err != nil {
		err := ds.NewToolNotFoundError(ds.StageEvaluation, cur.Name)
		r.failed(ctx, cur, err)
		return cur, nil, unrecoverable(err)
	}

	raw := make(map[string]any, len(cur.Slots))
	for _, s := range cur.Slots {
		v, err := argument(s.Value)
		if err != nil {
			return cur, nil, r.bindingFailure(ctx, cur, s.Name, err)
		}
		raw[s.Name] = v
	}
	args, err := tool.Bind(raw)
	if err != nil {
		param := ""
		var be *registry.BindingError
		if errors.As(err, &be) {
			param = be.Param
		}
		return cur, nil, r.bindingFailure(ctx, cur, param, err)
	}

	if err := ctx.Err(); err != nil {
		return cur, nil, unrecoverable(ds.NewCancelledError(ds.StageEvaluation, err))
	}

	r.e.emit(ctx, eventbus.EventIntentExecutionStarted, cur.String(), map[string]interface{}{
		eventbus.MetaIntent: cur.Name,
	})
	log.Printf("Starting intent execution (session: %s, tool: %s)", ds.SessionIDFrom(ctx), cur.Name)

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.e.execTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.e.execTimeout)
	}
	start := time.Now()
	result, err := tool.Call(callCtx, args)
	cancel()
	duration := time.Since(start)

	if err == nil {
		r.e.metrics.record(outcomeSuccess, duration)
		r.hist.Append(history.Record{Intent: cur, Args: args, Defaulted: defaulted(raw, args), Result: result})
		r.e.emit(ctx, eventbus.EventIntentExecutionSuccess, cur.String(), map[string]interface{}{
			eventbus.MetaIntent:   cur.Name,
			eventbus.MetaDuration: duration.Milliseconds(),
		})
		log.Printf("Intent execution completed successfully (tool: %s, duration: %v)", cur.Name, duration)
		return cur, result, nil
	}
	span.RecordError(err)

	if rec, ok := registry.IsRecoverable(err); ok {
		r.e.metrics.record(outcomeRecoverable, duration)
		r.e.emit(ctx, eventbus.EventIntentExecutionRecoverable, cur.String(), map[string]interface{}{
			eventbus.MetaIntent: cur.Name,
			eventbus.MetaError:  rec.Message,
		})
		log.Printf("Intent execution needs more information (tool: %s, error: %s)", cur.Name, rec.Message)
		return cur, nil, recoverable(rec.Message)
	}
	if retry, ok := registry.IsRetry(err); ok {
		r.e.metrics.record(outcomeRetry, duration)
		r.e.emit(ctx, eventbus.EventIntentExecutionRetry, cur.String(), map[string]interface{}{
			eventbus.MetaIntent: cur.Name,
			eventbus.MetaError:  retry.Message,
		})
		st := recoverable(retry.Message)
		st.retry = true
		return cur, nil, st
	}

	r.e.metrics.record(outcomeFailed, duration)
	var failure error
	switch {
	case ctx.Err() != nil:
		failure = ds.NewCancelledError(ds.StageEvaluation, ctx.Err())
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		failure = ds.NewToolExecutionError(cur.Name, fmt.Errorf("tool execution timed out after %v: %w", r.e.execTimeout, err))
	default:
		failure = ds.NewToolExecutionError(cur.Name, err)
	}
	r.failed(ctx, cur, failure)
	span.SetStatus(codes.Error, failure.Error())
	return cur, nil, unrecoverable(failure)
}

func (r *run) failed(ctx context.Context, in *dsl.Intent, err error) {
	r.e.emit(ctx, eventbus.EventIntentExecutionFailure, in.String(), map[string]interface{}{
		eventbus.MetaIntent:    in.Name,
		eventbus.MetaError:     err.Error(),
		eventbus.MetaErrorCode: ds.CodeOf(err),
	})
	log.Printf("Intent execution failed (tool: %s, error: %v)", in.Name, err)
}

// bindingFailure reports arguments that do not fit the tool. The tool is not
// invoked.
func (r *run) bindingFailure(ctx context.Context, in *dsl.Intent, param string, err error) *stop {
	if r.e.recoverableBinding {
		r.e.emit(ctx, eventbus.EventIntentExecutionRecoverable, in.String(), map[string]interface{}{
			eventbus.MetaIntent: in.Name,
			eventbus.MetaSlot:   param,
			eventbus.MetaError:  err.Error(),
		})
		return recoverable(err.Error())
	}
	failure := ds.NewBindingError(in.Name, param, err)
	r.failed(ctx, in, failure)
	return unrecoverable(failure)
}

// dependencies executes the nested calls of a slot value. Executed calls are
// kept as ReturnValue(IntentEvaluatedSuccess) and never run again.
func (r *run) dependencies(ctx context.Context, n dsl.Node) (dsl.Node, *stop) {
	switch x := n.(type) {
	case *dsl.ReturnValue:
		in, ok := x.Call.(*dsl.Intent)
		if !ok {
			return x, nil
		}
		next, result, st := r.intent(ctx, in)
		if st != nil {
			if next == in {
				return x, st
			}
			return &dsl.ReturnValue{Call: next}, st
		}
		return &dsl.ReturnValue{Call: &dsl.IntentEvaluatedSuccess{Intent: next, Result: result}}, nil

	case *dsl.ListValue:
		var items []dsl.Node
		for i, item := range x.Items {
			v, st := r.dependencies(ctx, item)
			if v != item && items == nil {
				items = make([]dsl.Node, len(x.Items))
				copy(items, x.Items)
			}
			if items != nil {
				items[i] = v
			}
			if st != nil {
				if items == nil {
					return x, st
				}
				return &dsl.ListValue{Items: items}, st
			}
		}
		if items == nil {
			return x, nil
		}
		return &dsl.ListValue{Items: items}, nil
	}
	return n, nil
}

// argument converts a resolved slot value to the Go value handed to Bind.
func argument(n dsl.Node) (any, error) {
	switch x := n.(type) {
	case *dsl.ReturnValue:
		if done, ok := x.Call.(*dsl.IntentEvaluatedSuccess); ok {
			return done.Result, nil
		}
		return nil, fmt.Errorf("nested call %s was not evaluated", x.Call)
	case *dsl.ListValue:
		out := make([]any, 0, len(x.Items))
		for _, item := range x.Items {
			v, err := argument(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return registry.ValueOf(n)
}

func replaceSlot(in *dsl.Intent, i int, v dsl.Node) *dsl.Intent {
	slots := make([]*dsl.Slot, len(in.Slots))
	copy(slots, in.Slots)
	slots[i] = dsl.NewSlot(in.Slots[i].Name, v)
	return in.WithSlots(slots)
}

// defaulted lists the bound arguments the intent did not supply itself.
func defaulted(raw map[string]any, args registry.Args) []string {
	var out []string
	for name := range args {
		if _, ok := raw[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
