package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/prompt"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

var (
	errNoAdapter = errors.New("no inference adapter configured")
	errNoChannel = errors.New("no interactive channel configured")
)

// infer sends one request to the adapter, bounded by the adapter timeout.
// A timeout and a cancelled session are reported distinctly.
func (p *pass) infer(ctx context.Context, stage string, kind ds.InferenceKind, text, description string) (string, error) {
	if p.r.adapter == nil {
		return "", ds.NewAdapterError(stage, kind, errNoAdapter)
	}
	ctx, span := p.r.tracer.Start(ctx, "resolver.infer", trace.WithAttributes(
		attribute.String("dragonscale.kind", string(kind)),
		attribute.String("dragonscale.description", description),
	))
	defer span.End()

	callCtx := ctx
	if p.r.adapterTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.r.adapterTimeout)
		defer cancel()
	}

	start := time.Now()
	answer, err := p.r.adapter.Infer(callCtx, ds.InferenceRequest{
		Kind:         kind,
		SystemPrompt: p.r.prompts.System(kind),
		Prompt:       text,
		Metadata:     map[string]string{adapters.MetaDescription: description},
	})
	meta := map[string]interface{}{
		eventbus.MetaKind:     string(kind),
		eventbus.MetaStatus:   "ok",
		eventbus.MetaDuration: time.Since(start).Milliseconds(),
	}
	if err != nil {
		meta[eventbus.MetaStatus] = "error"
		meta[eventbus.MetaError] = err.Error()
	}
	p.r.emit(ctx, eventbus.EventInferenceCall, description, meta)
	if err == nil {
		return answer, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	switch {
	case ctx.Err() != nil:
		return "", ds.NewCancelledError(stage, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return "", ds.NewAdapterTimeoutError(stage, kind, err)
	default:
		return "", ds.NewAdapterError(stage, kind, err)
	}
}

// interact asks the user one question, bounded by the interaction timeout.
func (p *pass) interact(ctx context.Context, req ds.InteractionRequest) (string, error) {
	if p.r.channel == nil {
		return "", ds.NewInteractionError(errNoChannel)
	}
	p.r.emit(ctx, eventbus.EventInteractionRequested, req.Message, map[string]interface{}{
		eventbus.MetaIntent: req.Intent,
		eventbus.MetaSlot:   req.Slot,
		eventbus.MetaKind:   req.Requester,
	})

	askCtx := ctx
	if p.r.interactionTimeout > 0 {
		var cancel context.CancelFunc
		askCtx, cancel = context.WithTimeout(ctx, p.r.interactionTimeout)
		defer cancel()
	}
	reply, err := p.r.channel.Ask(askCtx, req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", ds.NewCancelledError(ds.StageResolution, ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			return "", ds.NewInteractionTimeoutError(err)
		default:
			return "", ds.NewInteractionError(err)
		}
	}
	p.r.emit(ctx, eventbus.EventInteractionAnswered, reply, map[string]interface{}{
		eventbus.MetaIntent: req.Intent,
		eventbus.MetaSlot:   req.Slot,
	})
	return reply, nil
}

// runtimeData consults every query source concurrently. A failing source
// reports its error as data instead of failing the query.
func (p *pass) runtimeData(ctx context.Context, question string) []prompt.SourceData {
	sources := p.r.registry.Sources()
	if len(sources) == 0 {
		return nil
	}
	workers := pool.NewWithResults[prompt.SourceData]().
		WithContext(ctx).
		WithMaxGoroutines(p.r.sourceConcurrency)
	for _, src := range sources {
		src := src
		workers.Go(func(ctx context.Context) (prompt.SourceData, error) {
			data, err := src.Query(ctx, question)
			if err != nil {
				data = "error: " + err.Error()
			}
			return prompt.SourceData{Name: src.Name(), Data: data}, nil
		})
	}
	results, _ := workers.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

func (p *pass) queryContext(ctx context.Context, sc scope, question string, targets []string) string {
	qc := prompt.QueryContext{
		Intent:   sc.intentName(),
		Slot:     sc.slot,
		Targets:  targets,
		Question: question,
		Runtime:  p.runtimeData(ctx, question),
	}
	if sc.intent != nil {
		skip := make(map[string]bool, len(targets)+1)
		skip[sc.slot] = true
		for _, t := range targets {
			skip[t] = true
		}
		for _, s := range sc.intent.Slots {
			if !skip[s.Name] {
				qc.OtherSlots = append(qc.OtherSlots, prompt.SlotValue{Name: s.Name, Value: s.Value.String()})
			}
		}
	}
	return prompt.FormatQuery(qc)
}

func (p *pass) expectedType(sc scope) string {
	if sc.intent == nil || sc.slot == "" {
		return ""
	}
	tool, err := p.r.registry.Tool(sc.intent.Name)
	if err != nil {
		return ""
	}
	param, ok := tool.Param(sc.slot)
	if !ok {
		return ""
	}
	return param.Type.String()
}

func (p *pass) queryFill(ctx context.Context, sc scope, q *dsl.QueryFill) (dsl.Node, error) {
	text := p.queryContext(ctx, sc, q.Query, nil)
	answer, err := p.infer(ctx, ds.StageResolution, ds.KindQueryFill, text, fmt.Sprintf("QueryFill[%s]", sc.slot))
	if err != nil {
		return nil, err
	}
	fill, err := prompt.ParseFill(answer)
	if err != nil {
		return nil, ds.NewResolutionError("QUERY_FILL answer did not follow the expected format", err)
	}
	if fill.Refused() {
		return nil, ds.NewAdapterRefusedError(ds.KindQueryFill, fill.Reason())
	}
	return fill.Node(), nil
}

// gatherSlots fills every slot of cur holding a QUERY_GATHER equal to g from
// one adapter call. Either all targets are filled or none is.
func (p *pass) gatherSlots(ctx context.Context, cur *dsl.Intent, g *dsl.QueryGather) (*dsl.Intent, []*dsl.Slot, error) {
	var targetSlots []*dsl.Slot
	var targets []string
	for _, s := range cur.Slots {
		if dsl.Equal(s.Value, g) {
			targetSlots = append(targetSlots, s)
			targets = append(targets, s.Name)
		}
	}
	sc := scope{intent: cur, slot: targets[0]}
	text := p.queryContext(ctx, sc, g.Query, targets)
	answer, err := p.infer(ctx, ds.StageResolution, ds.KindGatherSlots, text, fmt.Sprintf("QueryGather%v", targets))
	if err != nil {
		return nil, targetSlots, err
	}
	gathered, err := prompt.ParseGather(answer)
	if err != nil {
		return nil, targetSlots, ds.NewResolutionError("QUERY_GATHER answer did not follow the expected format", err)
	}
	if gathered.Abort != "" {
		return nil, targetSlots, ds.NewAdapterRefusedError(ds.KindGatherSlots, gathered.Abort)
	}
	values, missing := gathered.Nodes(targets)
	if len(missing) > 0 {
		return nil, targetSlots, ds.NewGatherIncompleteError(missing)
	}

	slots := make([]*dsl.Slot, len(cur.Slots))
	for i, s := range cur.Slots {
		if v, ok := values[s.Name]; ok && dsl.Equal(s.Value, g) {
			slots[i] = dsl.NewSlot(s.Name, v)
			continue
		}
		slots[i] = s
	}
	return cur.WithSlots(slots), targetSlots, nil
}

func (p *pass) ask(ctx context.Context, sc scope, a *dsl.Ask) (dsl.Node, error) {
	reply, err := p.interact(ctx, ds.InteractionRequest{
		Message:      a.Question,
		ExpectedType: p.expectedType(sc),
		Intent:       sc.intentName(),
		Slot:         sc.slot,
		Requester:    ds.RequesterAsk,
	})
	if err != nil {
		return nil, err
	}
	previous := p.qna
	p.qna = append(p.qna, prompt.QnA{Question: a.Question, Answer: reply})

	if !p.r.interpretAnswers || p.r.adapter == nil {
		return dsl.ParseLiteral(reply), nil
	}
	text := prompt.AskResolution(sc.intentName(), sc.slot, previous, a.Question, reply)
	answer, err := p.infer(ctx, ds.StageResolution, ds.KindSlotResolve, text, fmt.Sprintf("Ask[%s]", sc.slot))
	if err != nil {
		return nil, err
	}
	return p.slotAnswer(answer)
}

// answerQuestion runs a QUERY_USER question through the adapter and surfaces
// the answer on the channel.
func (p *pass) answerQuestion(ctx context.Context, sc scope, q *dsl.QueryUser) (string, error) {
	text := p.queryContext(ctx, sc, q.Query, nil)
	raw, err := p.infer(ctx, ds.StageResolution, ds.KindQueryUser, text, "QueryUser")
	if err != nil {
		return "", err
	}
	answer := prompt.ParseUserAnswer(raw)
	p.answers = append(p.answers, answer)
	if p.r.channel != nil {
		if err := p.r.channel.Notify(ctx, answer); err != nil && ctx.Err() != nil {
			return "", ds.NewCancelledError(ds.StageResolution, ctx.Err())
		}
	}
	p.r.emit(ctx, eventbus.EventQueryUserAnswered, answer, map[string]interface{}{
		eventbus.MetaIntent: sc.intentName(),
		eventbus.MetaSlot:   sc.slot,
	})
	return answer, nil
}

// topQueryUser answers a top-level question. With interpreted answers the
// user's follow-up is sequenced into new intents.
func (p *pass) topQueryUser(ctx context.Context, q *dsl.QueryUser) (step, error) {
	answer, err := p.answerQuestion(ctx, scope{}, q)
	if err != nil {
		if fatal(err) {
			return step{}, err
		}
		p.fail(ctx, scope{}, q, err)
		return keep(q), nil
	}
	if !p.r.interpretAnswers || p.r.channel == nil || p.r.adapter == nil {
		return step{}, nil
	}

	reply, err := p.interact(ctx, ds.InteractionRequest{Message: answer, Requester: ds.RequesterQueryUser})
	if err != nil {
		if fatal(err) {
			return step{}, err
		}
		// The answer was delivered; a missing follow-up just ends the exchange.
		return step{}, nil
	}
	if strings.TrimSpace(reply) == "" {
		return step{}, nil
	}
	previous := p.qna
	p.qna = append(p.qna, prompt.QnA{Question: answer, Answer: reply})
	text := prompt.FollowUpResolution("", "", previous, answer, reply)
	out, err := p.infer(ctx, ds.StageResolution, ds.KindSequence, text, "QueryUser[follow-up]")
	if err != nil {
		if fatal(err) {
			return step{}, err
		}
		p.fail(ctx, scope{}, q, err)
		return step{}, nil
	}
	return p.spliced(ctx, q, out)
}

// slotQueryUser answers a question raised while resolving a slot, then
// asks for the slot value again.
func (p *pass) slotQueryUser(ctx context.Context, sc scope, q *dsl.QueryUser) (dsl.Node, error) {
	answer, err := p.answerQuestion(ctx, sc, q)
	if err != nil {
		return nil, err
	}
	if !p.r.interpretAnswers || p.r.adapter == nil {
		return &dsl.Ask{Question: fmt.Sprintf("%s\nWhich value should '%s' take?", answer, sc.slot)}, nil
	}
	reply, err := p.interact(ctx, ds.InteractionRequest{
		Message:      answer,
		ExpectedType: p.expectedType(sc),
		Intent:       sc.intentName(),
		Slot:         sc.slot,
		Requester:    ds.RequesterQueryUser,
	})
	if err != nil {
		return nil, err
	}
	previous := p.qna
	p.qna = append(p.qna, prompt.QnA{Question: answer, Answer: reply})
	text := prompt.FollowUpResolution(sc.intentName(), sc.slot, previous, answer, reply)
	out, err := p.infer(ctx, ds.StageResolution, ds.KindSlotResolve, text, fmt.Sprintf("QueryUser[%s]", sc.slot))
	if err != nil {
		return nil, err
	}
	return p.slotAnswer(out)
}

// topQueryGather gathers data for the original request, then asks the
// sequencer for intents that use it.
func (p *pass) topQueryGather(ctx context.Context, g *dsl.QueryGather) (step, error) {
	text := p.queryContext(ctx, scope{}, g.Query, nil)
	raw, err := p.infer(ctx, ds.StageResolution, ds.KindQueryGather, text, "QueryGather[data]")
	if err != nil {
		if fatal(err) {
			return step{}, err
		}
		p.fail(ctx, scope{}, g, err)
		return keep(g), nil
	}
	data := prompt.ParseUserAnswer(raw)
	if data == "unknown" {
		p.fail(ctx, scope{}, g, ds.NewAdapterRefusedError(ds.KindQueryGather, "no data could be gathered"))
		return keep(g), nil
	}
	original := g.Original
	if original == "" {
		original = g.Query
	}
	out, err := p.infer(ctx, ds.StageResolution, ds.KindSequence, prompt.GatherSequence(original, data), "QueryGather[sequence]")
	if err != nil {
		if fatal(err) {
			return step{}, err
		}
		p.fail(ctx, scope{}, g, err)
		return keep(g), nil
	}
	return p.spliced(ctx, g, out)
}

// runtimeError asks the user how to recover from a tool's recoverable
// failure and splices the corrected intents in place of the failed one.
func (p *pass) runtimeError(ctx context.Context, e *dsl.IntentRuntimeErrorResolver) (step, error) {
	sc := scope{intent: e.Intent}
	reply, err := p.interact(ctx, ds.InteractionRequest{
		Message:   e.Message,
		Intent:    e.Intent.Name,
		Requester: ds.RequesterErrorResolver,
	})
	if err != nil {
		if fatal(err) {
			return step{}, err
		}
		p.fail(ctx, sc, e, err)
		return keep(e), nil
	}
	previous := p.qna
	p.qna = append(p.qna, prompt.QnA{Question: e.Message, Answer: reply})

	replacement := reply
	if p.r.adapter != nil {
		// Nested calls that already ran are shown as their results so that an
		// echoed intent does not run them again.
		text := prompt.ErrorResolution(dsl.InlineResults(e.Intent).String(), previous, e.Message, reply)
		replacement, err = p.infer(ctx, ds.StageResolution, ds.KindErrorResolve, text, "IntentRuntimeErrorResolver")
		if err != nil {
			if fatal(err) {
				return step{}, err
			}
			p.fail(ctx, sc, e, err)
			return keep(e), nil
		}
	}
	return p.spliced(ctx, e, replacement)
}

// spliced parses adapter or user DSL that replaces the list item origin.
func (p *pass) spliced(ctx context.Context, origin dsl.Node, text string) (step, error) {
	nodes, err := p.interpret(text)
	if err != nil {
		if fatal(err) {
			return step{}, err
		}
		p.fail(ctx, scope{}, origin, err)
		return keep(origin), nil
	}
	return step{nodes: nodes, fresh: true}, nil
}

// interpret parses follow-up DSL. PropagateSlots are queued for the current
// intent and an abort becomes a signal.
func (p *pass) interpret(text string) ([]dsl.Node, error) {
	list, err := dsl.Parse(text)
	if err != nil {
		return nil, ds.NewParseError(ds.StageResolution, err)
	}
	var out []dsl.Node
	for _, n := range list.Items {
		switch x := n.(type) {
		case *dsl.Abort, *dsl.AbortWithNewDsl:
			return nil, &abortSignal{node: n}
		case *dsl.PropagateSlots:
			p.pending = append(p.pending, x)
		default:
			out = append(out, n)
		}
	}
	return out, nil
}

// slotAnswer turns a slot-resolver answer into the slot's next value.
func (p *pass) slotAnswer(text string) (dsl.Node, error) {
	if n, err := dsl.ParseValue(text); err == nil {
		return n, nil
	}
	nodes, err := p.interpret(text)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ds.NewResolutionError("slot resolver returned no value", nil)
	}
	switch x := nodes[0].(type) {
	case *dsl.Intent:
		return &dsl.ReturnValue{Call: x}, nil
	case *dsl.ListElement:
		return &dsl.ListValue{Items: x.Items}, nil
	}
	return nodes[0], nil
}
