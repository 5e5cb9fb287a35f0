// Package matcher provides a cursor over a decoded instruction sequence that
// finds regions with composable predicates and edits them in place.
//
// A Replace fragment typically reads like
//
//	m := matcher.New(body)
//	n, err := m.Repeat(func(m *matcher.Matcher) error {
//		return m.SetOperand(isa.IntOperand(2))
//	}, matcher.Op(isa.Ldarg), matcher.OpOperand(isa.LdcI, isa.IntOperand(1)))
//
// so that no caller ever computes instruction indices by hand.
package matcher

import (
	"fmt"
	"strings"

	"github.com/sarchlab/splice/isa"
)

// Match is a predicate over one instruction. The zero Match accepts every
// instruction. When Predicate is set, the other criteria are ignored.
type Match struct {
	Name      string
	Opcodes   []isa.Opcode
	Operands  []isa.Operand
	Labels    []isa.Label
	Blocks    []isa.BlockType
	Predicate func(isa.Instruction) bool
}

// Op accepts any of the given opcodes.
func Op(opcodes ...isa.Opcode) Match {
	return Match{Opcodes: opcodes}
}

// OpOperand accepts one opcode with one operand.
func OpOperand(op isa.Opcode, operand isa.Operand) Match {
	return Match{Opcodes: []isa.Opcode{op}, Operands: []isa.Operand{operand}}
}

// Where accepts instructions for which the predicate holds.
func Where(predicate func(isa.Instruction) bool) Match {
	return Match{Predicate: predicate}
}

// Any accepts every instruction.
func Any() Match {
	return Match{}
}

// Calls accepts a call of the named routine.
func Calls(routine string) Match {
	return OpOperand(isa.Call, isa.RoutineOperand(routine))
}

// Labelled accepts instructions carrying at least one of the labels.
func Labelled(labels ...isa.Label) Match {
	return Match{Labels: labels}
}

// LabelTarget accepts branches that jump to the label.
func LabelTarget(l isa.Label) Match {
	return Where(func(inst isa.Instruction) bool {
		target, ok := inst.BranchTarget()
		return ok && target == l
	})
}

// Named returns a copy of the match that records the instruction it
// matched under the given name.
func (m Match) Named(name string) Match {
	m.Name = name
	return m
}

// Matches reports whether the instruction satisfies the predicate.
func (m Match) Matches(inst isa.Instruction) bool {
	if m.Predicate != nil {
		return m.Predicate(inst)
	}

	if len(m.Opcodes) > 0 && !containsOpcode(m.Opcodes, inst.Opcode) {
		return false
	}

	if len(m.Operands) > 0 && !containsOperand(m.Operands, inst.Operand) {
		return false
	}

	if len(m.Labels) > 0 && !intersectsLabels(m.Labels, inst.Labels) {
		return false
	}

	if len(m.Blocks) > 0 && !intersectsBlocks(m.Blocks, inst.Blocks) {
		return false
	}

	return true
}

func (m Match) String() string {
	var parts []string

	if m.Name != "" {
		parts = append(parts, m.Name+":")
	}

	if len(m.Opcodes) > 0 {
		ops := make([]string, len(m.Opcodes))
		for i, op := range m.Opcodes {
			ops[i] = string(op)
		}
		parts = append(parts, "opcodes="+strings.Join(ops, ","))
	}

	if len(m.Operands) > 0 {
		operands := make([]string, len(m.Operands))
		for i, o := range m.Operands {
			operands[i] = o.String()
		}
		parts = append(parts, "operands="+strings.Join(operands, ","))
	}

	if len(m.Labels) > 0 {
		parts = append(parts, fmt.Sprintf("labels=%v", m.Labels))
	}

	if len(m.Blocks) > 0 {
		parts = append(parts, fmt.Sprintf("blocks=%v", m.Blocks))
	}

	if m.Predicate != nil {
		parts = append(parts, "predicate=yes")
	}

	return "[" + strings.Join(parts, " ") + "]"
}

func describe(matches []Match) string {
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = m.String()
	}

	return strings.Join(parts, ", ")
}

func containsOpcode(ops []isa.Opcode, op isa.Opcode) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}

	return false
}

func containsOperand(operands []isa.Operand, operand isa.Operand) bool {
	for _, o := range operands {
		if o.Equal(operand) {
			return true
		}
	}

	return false
}

func intersectsLabels(want, have []isa.Label) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}

	return false
}

func intersectsBlocks(want []isa.BlockType, have []isa.ExceptionBlock) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h.Type {
				return true
			}
		}
	}

	return false
}
