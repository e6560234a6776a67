package resolver

import (
	"log"
	"sort"

	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// applyPending applies and clears the queued slot propagations.
func (p *pass) applyPending(in *dsl.Intent, preceding []dsl.Node) *dsl.Intent {
	if len(p.pending) == 0 {
		return in
	}
	pending := p.pending
	p.pending = nil
	for _, ps := range pending {
		in = p.propagate(in, ps, preceding)
	}
	return in
}

// propagate copies slots into in. The explicit form overwrites same-named
// slots and appends the rest; the reference form only fills slots that are
// absent or still placeholders.
func (p *pass) propagate(in *dsl.Intent, ps *dsl.PropagateSlots, preceding []dsl.Node) *dsl.Intent {
	if len(ps.Slots) > 0 {
		slots := append([]*dsl.Slot(nil), in.Slots...)
		for _, src := range ps.Slots {
			replaced := false
			for i, s := range slots {
				if s.Name == src.Name {
					slots[i] = dsl.NewSlot(s.Name, src.Value)
					replaced = true
					break
				}
			}
			if !replaced {
				slots = append(slots, dsl.NewSlot(src.Name, src.Value))
			}
		}
		return in.WithSlots(slots)
	}

	source := p.sourceSlots(ps.Source, preceding)
	if len(source) == 0 {
		log.Printf("Nothing to propagate (source: %s, target: %s)", ps.Source, in.Name)
		return in
	}
	byName := make(map[string]dsl.Node, len(source))
	for _, s := range source {
		byName[s.Name] = s.Value
	}

	slots := append([]*dsl.Slot(nil), in.Slots...)
	changed := false
	for i, s := range slots {
		if v, ok := byName[s.Name]; ok && dsl.IsPlaceholder(s.Value) {
			slots[i] = dsl.NewSlot(s.Name, v)
			changed = true
		}
	}
	for _, name := range p.missingParams(in, source) {
		slots = append(slots, dsl.NewSlot(name, byName[name]))
		changed = true
	}
	if !changed {
		return in
	}
	return in.WithSlots(slots)
}

// missingParams lists the source slot names in declares but does not bind.
// For unknown tools every unbound source slot qualifies.
func (p *pass) missingParams(in *dsl.Intent, source []*dsl.Slot) []string {
	var names []string
	tool, err := p.r.registry.Tool(in.Name)
	for _, s := range source {
		if _, bound := in.Slot(s.Name); bound {
			continue
		}
		if err == nil {
			if _, declared := tool.Param(s.Name); !declared {
				continue
			}
		}
		names = append(names, s.Name)
	}
	return names
}

// sourceSlots finds the slots of the nearest preceding sibling intent named
// tool, falling back to the latest history record of that tool.
func (p *pass) sourceSlots(tool string, preceding []dsl.Node) []*dsl.Slot {
	for i := len(preceding) - 1; i >= 0; i-- {
		var in *dsl.Intent
		switch x := preceding[i].(type) {
		case *dsl.Intent:
			in = x
		case *dsl.IntentEvaluatedSuccess:
			in = x.Intent
		}
		if in != nil && in.Name == tool {
			return in.Slots
		}
	}

	rec, ok := p.hist.Latest(tool)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(rec.Args))
	for name := range rec.Args {
		if _, ok := rec.Binds(name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	slots := make([]*dsl.Slot, 0, len(names))
	for _, name := range names {
		v, err := dsl.FromGo(rec.Args[name])
		if err != nil {
			continue
		}
		slots = append(slots, dsl.NewSlot(name, v))
	}
	return slots
}
