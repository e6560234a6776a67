// Package history records the intents a session evaluated successfully.
package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// Record is one successfully evaluated intent with the arguments it was
// actually called with. Defaulted names the Args entries the intent left
// out and the tool filled from parameter defaults.
type Record struct {
	Intent    *dsl.Intent
	Args      map[string]any
	Defaulted []string
	Result    any
	At        time.Time
}

// Binds reports whether the intent itself bound slot, and its value.
func (r Record) Binds(slot string) (any, bool) {
	v, ok := r.Args[slot]
	if !ok {
		return nil, false
	}
	for _, d := range r.Defaulted {
		if d == slot {
			return nil, false
		}
	}
	return v, true
}

// History is append-only and owned by one session.
type History struct {
	mu      sync.RWMutex
	records []Record
}

// New creates an empty history.
func New() *History {
	return &History{}
}

// Append adds a record.
func (h *History) Append(r Record) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
}

// Records returns a copy of all records, oldest first.
func (h *History) Records() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Len returns the number of records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Last returns the most recent record.
func (h *History) Last() (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return Record{}, false
	}
	return h.records[len(h.records)-1], true
}

// Latest returns the most recent record of the named tool.
func (h *History) Latest(tool string) (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].Intent.Name == tool {
			return h.records[i], true
		}
	}
	return Record{}, false
}

// LookupSlot returns the value bound to slot on the nearest preceding
// intent that binds it. Values filled from a parameter default do not count.
func (h *History) LookupSlot(slot string) (any, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.records) - 1; i >= 0; i-- {
		if v, ok := h.records[i].Binds(slot); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no evaluated intent binds slot %q", slot)
}
