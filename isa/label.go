package isa

import (
	"fmt"
	"sync/atomic"
)

var generatorIDs atomic.Uint64

// Label is an opaque jump-target token. The zero Label is not a valid
// target.
type Label struct {
	gen uint64
	id  int
}

// IsZero reports whether the label was never defined.
func (l Label) IsZero() bool {
	return l.gen == 0
}

func (l Label) String() string {
	if l.IsZero() {
		return "L?"
	}

	return fmt.Sprintf("L%d", l.id)
}

// LabelGenerator mints labels for one sequence. Labels from different
// generators never compare equal.
type LabelGenerator struct {
	id   uint64
	next int
}

// NewLabelGenerator creates a generator with a process-unique identity.
func NewLabelGenerator() *LabelGenerator {
	return &LabelGenerator{id: generatorIDs.Add(1)}
}

// Define returns a fresh label.
func (g *LabelGenerator) Define() Label {
	g.next++
	return Label{gen: g.id, id: g.next}
}

// Owns reports whether the label was minted by this generator.
func (g *LabelGenerator) Owns(l Label) bool {
	return l.gen == g.id && l.id > 0 && l.id <= g.next
}
