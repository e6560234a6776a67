package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/history"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/prompt"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// abortSignal carries an Abort or AbortWithNewDsl up to the nearest list.
type abortSignal struct {
	node dsl.Node
}

func (s *abortSignal) Error() string { return "abort: " + s.node.String() }

func (s *abortSignal) redirect() *dsl.ListElement {
	if a, ok := s.node.(*dsl.AbortWithNewDsl); ok {
		return a.Replacement
	}
	return nil
}

func fatal(err error) bool {
	var sig *abortSignal
	return errors.As(err, &sig) || ds.HasCode(err, ds.ErrCodeCancelled)
}

// pass is the mutable state of one Resolve call.
type pass struct {
	r    *Resolver
	hist *history.History

	qna           []prompt.QnA
	pending       []*dsl.PropagateSlots
	errors        []*SlotError
	answers       []string
	failedGathers map[*dsl.Slot]bool
}

// scope locates the slot being resolved.
type scope struct {
	intent *dsl.Intent
	slot   string
}

func (s scope) intentName() string {
	if s.intent == nil {
		return ""
	}
	return s.intent.Name
}

func (p *pass) fail(ctx context.Context, sc scope, node dsl.Node, err error) {
	se := &SlotError{Intent: sc.intentName(), Slot: sc.slot, Node: node, Err: err}
	p.errors = append(p.errors, se)
	p.r.emit(ctx, eventbus.EventSlotFailed, node.String(), map[string]interface{}{
		eventbus.MetaIntent:    se.Intent,
		eventbus.MetaSlot:      se.Slot,
		eventbus.MetaError:     err.Error(),
		eventbus.MetaErrorCode: ds.CodeOf(err),
	})
}

type queued struct {
	node  dsl.Node
	depth int
}

// list resolves the items of l left to right. It reports whether an abort
// halted the list.
func (p *pass) list(ctx context.Context, l *dsl.ListElement, depth int) (*dsl.ListElement, bool, error) {
	queue := make([]queued, len(l.Items))
	for i, item := range l.Items {
		queue[i] = queued{node: item, depth: depth}
	}
	out := make([]dsl.Node, 0, len(l.Items))
	changed := false

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, false, ds.NewCancelledError(ds.StageResolution, err)
		}
		cur := queue[0]
		queue = queue[1:]

		st, err := p.item(ctx, cur.node, out, cur.depth)
		var sig *abortSignal
		if errors.As(err, &sig) {
			changed = true
			p.qna = nil
			p.pending = nil
			if p.r.abortBehavior == AbortDrop {
				if repl := sig.redirect(); repl != nil {
					queue = prepend(queue, repl.Items, cur.depth+1)
				}
				continue
			}
			out = append(out, sig.node)
			return &dsl.ListElement{Items: out}, true, nil
		}
		if err != nil {
			return nil, false, err
		}

		if st.fresh {
			changed = true
			if cur.depth+1 > p.r.maxFollowUps {
				p.fail(ctx, scope{}, cur.node, ds.NewResolutionError("follow-up intents nest too deep", nil))
				out = append(out, cur.node)
				continue
			}
			queue = prepend(queue, st.nodes, cur.depth+1)
			continue
		}
		if len(st.nodes) != 1 || st.nodes[0] != cur.node {
			changed = true
		}
		out = append(out, st.nodes...)
		if st.halted {
			return &dsl.ListElement{Items: out}, true, nil
		}
	}
	if !changed {
		return l, false, nil
	}
	return &dsl.ListElement{Items: out}, false, nil
}

func prepend(queue []queued, nodes []dsl.Node, depth int) []queued {
	head := make([]queued, 0, len(nodes)+len(queue))
	for _, n := range nodes {
		head = append(head, queued{node: n, depth: depth})
	}
	return append(head, queue...)
}

// step is the result of resolving one list item. Fresh nodes still need
// resolution and go back to the front of the queue.
type step struct {
	nodes  []dsl.Node
	fresh  bool
	halted bool
}

func keep(n dsl.Node) step { return step{nodes: []dsl.Node{n}} }

func (p *pass) item(ctx context.Context, n dsl.Node, preceding []dsl.Node, depth int) (step, error) {
	switch x := n.(type) {
	case *dsl.Intent:
		in, err := p.intent(ctx, x, preceding)
		if err != nil {
			return step{}, err
		}
		return keep(in), nil

	case *dsl.ListElement:
		l, halted, err := p.list(ctx, x, depth)
		if err != nil {
			return step{}, err
		}
		return step{nodes: []dsl.Node{l}, halted: halted}, nil

	case *dsl.PropagateSlots:
		p.pending = append(p.pending, x)
		return step{}, nil

	case *dsl.Abort, *dsl.AbortWithNewDsl:
		return step{}, &abortSignal{node: n}

	case *dsl.QueryUser:
		return p.topQueryUser(ctx, x)

	case *dsl.QueryGather:
		return p.topQueryGather(ctx, x)

	case *dsl.IntentRuntimeErrorResolver:
		return p.runtimeError(ctx, x)

	default:
		// Evaluated intents and stray values are left for the evaluator.
		return keep(n), nil
	}
}

// intent resolves every slot of in, applying queued slot propagations first.
func (p *pass) intent(ctx context.Context, in *dsl.Intent, preceding []dsl.Node) (*dsl.Intent, error) {
	cur := p.applyPending(in, preceding)
	for i := 0; i < len(cur.Slots); i++ {
		next, err := p.slot(ctx, cur, i, preceding)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// slot rewrites slot i of cur until its value is resolved, a failure is
// recorded or the follow-up budget runs out.
func (p *pass) slot(ctx context.Context, cur *dsl.Intent, i int, preceding []dsl.Node) (*dsl.Intent, error) {
	for round := 0; ; round++ {
		s := cur.Slots[i]
		sc := scope{intent: cur, slot: s.Name}

		switch s.Value.(type) {
		case *dsl.Abort, *dsl.AbortWithNewDsl:
			return nil, &abortSignal{node: s.Value}
		}
		if dsl.IsResolved(s.Value) {
			if round > 0 {
				p.r.emit(ctx, eventbus.EventSlotResolved, s.Value.String(), map[string]interface{}{
					eventbus.MetaIntent: cur.Name,
					eventbus.MetaSlot:   s.Name,
				})
			}
			return cur, nil
		}
		if round >= p.r.maxFollowUps {
			p.fail(ctx, sc, s.Value, ds.NewResolutionError(fmt.Sprintf("slot still unresolved after %d follow-ups", round), nil))
			return cur, nil
		}

		// A nested call records its own slot failures; resolve it once.
		if _, ok := s.Value.(*dsl.ReturnValue); ok {
			v, err := p.value(ctx, sc, s.Value)
			if err != nil {
				return nil, err
			}
			if v != s.Value {
				cur = p.applyPending(replaceSlot(cur, i, v), preceding)
			}
			return cur, nil
		}

		if g, ok := s.Value.(*dsl.QueryGather); ok {
			if p.failedGathers[s] {
				return cur, nil
			}
			next, targets, err := p.gatherSlots(ctx, cur, g)
			if err != nil {
				if fatal(err) {
					return nil, err
				}
				for _, t := range targets {
					p.failedGathers[t] = true
					p.fail(ctx, scope{intent: cur, slot: t.Name}, t.Value, err)
				}
				return cur, nil
			}
			cur = p.applyPending(next, preceding)
			continue
		}

		v, err := p.value(ctx, sc, s.Value)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			p.fail(ctx, sc, s.Value, err)
			return cur, nil
		}
		if v == s.Value {
			return cur, nil
		}
		cur = p.applyPending(replaceSlot(cur, i, v), preceding)
	}
}

func replaceSlot(in *dsl.Intent, i int, v dsl.Node) *dsl.Intent {
	slots := make([]*dsl.Slot, len(in.Slots))
	copy(slots, in.Slots)
	slots[i] = dsl.NewSlot(in.Slots[i].Name, v)
	return in.WithSlots(slots)
}

// value performs one rewrite step of a slot value.
func (p *pass) value(ctx context.Context, sc scope, n dsl.Node) (dsl.Node, error) {
	switch x := n.(type) {
	case *dsl.FuzzyValue:
		if x.Resolved != nil {
			return x, nil
		}
		return p.normalize(ctx, x)

	case *dsl.SameAsPreviousIntent:
		name := x.Slot
		if name == "" {
			name = sc.slot
		}
		v, err := p.hist.LookupSlot(name)
		if err != nil {
			return nil, ds.NewLookupError(name)
		}
		node, err := dsl.FromGo(v)
		if err != nil {
			return nil, ds.NewResolutionError(fmt.Sprintf("history value of '%s' is not representable", name), err)
		}
		return node, nil

	case *dsl.ReturnValue:
		in, ok := x.Call.(*dsl.Intent)
		if !ok {
			return x, nil
		}
		resolved, err := p.intent(ctx, in, nil)
		if err != nil {
			return nil, err
		}
		if resolved == in {
			return x, nil
		}
		return &dsl.ReturnValue{Call: resolved}, nil

	case *dsl.ListValue:
		var items []dsl.Node
		for i, item := range x.Items {
			v, err := p.value(ctx, sc, item)
			if err != nil {
				return nil, err
			}
			if v != item && items == nil {
				items = make([]dsl.Node, len(x.Items))
				copy(items, x.Items)
			}
			if items != nil {
				items[i] = v
			}
		}
		if items == nil {
			return x, nil
		}
		return &dsl.ListValue{Items: items}, nil

	case *dsl.Ask:
		return p.ask(ctx, sc, x)

	case *dsl.QueryFill:
		return p.queryFill(ctx, sc, x)

	case *dsl.QueryUser:
		return p.slotQueryUser(ctx, sc, x)

	case *dsl.QueryGather:
		return nil, ds.NewResolutionError("QUERY_GATHER is only valid as a slot value", nil)

	case *dsl.Abort, *dsl.AbortWithNewDsl:
		return nil, &abortSignal{node: n}
	}
	return n, nil
}

func (p *pass) normalize(ctx context.Context, f *dsl.FuzzyValue) (dsl.Node, error) {
	if p.r.normalizer == nil {
		return nil, ds.NewNormalizationError(f.Descriptor, errors.New("no normalizer configured"))
	}
	v, err := p.r.normalizer.Normalize(ctx, f.Descriptor)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ds.NewCancelledError(ds.StageResolution, ctx.Err())
		}
		return nil, ds.NewNormalizationError(f.Descriptor, err)
	}
	node, err := dsl.FromGo(v)
	if err != nil {
		return nil, ds.NewNormalizationError(f.Descriptor, err)
	}
	val, ok := node.(*dsl.Value)
	if !ok {
		return nil, ds.NewNormalizationError(f.Descriptor, fmt.Errorf("normalized to %s, not a scalar", node))
	}
	return &dsl.FuzzyValue{Descriptor: f.Descriptor, Resolved: val}, nil
}
