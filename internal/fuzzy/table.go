// Package fuzzy normalizes vague quantity descriptors ("a few", "a dozen")
// into concrete values.
package fuzzy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnrecognized is returned when a normalizer has no reading for a
// descriptor. Chain moves on to the next normalizer on this error.
var ErrUnrecognized = errors.New("unrecognized descriptor")

// DefaultQuantities are the built-in readings of common descriptors.
var DefaultQuantities = map[string]int64{
	"a couple":       2,
	"a couple of":    2,
	"couple":         2,
	"a pair":         2,
	"a pair of":      2,
	"pair":           2,
	"a few":          3,
	"few":            3,
	"several":        4,
	"a handful":      5,
	"a handful of":   5,
	"handful":        5,
	"half a dozen":   6,
	"half dozen":     6,
	"a dozen":        12,
	"dozen":          12,
	"a single":       1,
	"single":         1,
	"none":           0,
	"zero":           0,
	"one":            1,
	"two":            2,
	"three":          3,
	"four":           4,
	"five":           5,
	"six":            6,
	"seven":          7,
	"eight":          8,
	"nine":           9,
	"ten":            10,
	"eleven":         11,
	"twelve":         12,
	"thirteen":       13,
	"fourteen":       14,
	"fifteen":        15,
	"sixteen":        16,
	"seventeen":      17,
	"eighteen":       18,
	"nineteen":       19,
	"twenty":         20,
	"a score":        20,
	"two dozen":      24,
	"a couple dozen": 24,
}

// Table reads descriptors from a fixed lookup table, falling back to plain
// numbers.
type Table struct {
	entries map[string]int64
}

// NewTable creates a table normalizer. Entries extend and override
// DefaultQuantities.
func NewTable(entries map[string]int64) *Table {
	t := &Table{entries: make(map[string]int64, len(DefaultQuantities)+len(entries))}
	for k, v := range DefaultQuantities {
		t.entries[k] = v
	}
	for k, v := range entries {
		t.entries[canonical(k)] = v
	}
	return t
}

// canonical lower-cases and collapses whitespace.
func canonical(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Normalize implements dragonscale.Normalizer.
func (t *Table) Normalize(_ context.Context, descriptor string) (any, error) {
	key := canonical(descriptor)
	if v, ok := t.entries[key]; ok {
		return v, nil
	}
	if n, err := strconv.ParseInt(key, 10, 64); err == nil {
		return n, nil
	}
	// ParseFloat also accepts "inf" and "nan"; neither is a quantity.
	if f, err := strconv.ParseFloat(key, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnrecognized, descriptor)
}

// Vars exposes the single-word entries as expression variables.
func (t *Table) Vars() map[string]any {
	vars := make(map[string]any)
	for k, v := range t.entries {
		if !strings.Contains(k, " ") {
			vars[k] = float64(v)
		}
	}
	return vars
}
