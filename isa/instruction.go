package isa

import (
	"strings"
)

// BlockType is the kind of an exception-region boundary.
type BlockType int

const (
	BeginTry BlockType = iota
	BeginCatch
	BeginFinally
	EndTry
)

func (t BlockType) String() string {
	switch t {
	case BeginTry:
		return ".try"
	case BeginCatch:
		return ".catch"
	case BeginFinally:
		return ".finally"
	case EndTry:
		return ".end"
	default:
		return ".block?"
	}
}

// ExceptionBlock marks a region boundary at an instruction. Begin markers
// apply before the instruction; EndTry applies after it.
type ExceptionBlock struct {
	Type      BlockType
	CatchType string // only for BeginCatch, empty catches everything
}

// Instruction is one decoded operation.
type Instruction struct {
	Opcode  Opcode
	Operand Operand
	Labels  []Label
	Blocks  []ExceptionBlock
}

// New creates an instruction without labels or region markers.
func New(op Opcode, operand Operand) Instruction {
	return Instruction{Opcode: op, Operand: operand}
}

// Op creates an instruction whose opcode takes no operand.
func Op(op Opcode) Instruction {
	return Instruction{Opcode: op, Operand: NoOperand()}
}

// Clone returns a copy that shares no slices with the receiver.
func (i Instruction) Clone() Instruction {
	c := i
	if i.Labels != nil {
		c.Labels = append([]Label(nil), i.Labels...)
	}

	if i.Blocks != nil {
		c.Blocks = append([]ExceptionBlock(nil), i.Blocks...)
	}

	return c
}

// HasLabel reports whether the label is bound to this instruction.
func (i Instruction) HasLabel(l Label) bool {
	for _, own := range i.Labels {
		if own == l {
			return true
		}
	}

	return false
}

// BranchTarget returns the jump target of a label-taking instruction.
func (i Instruction) BranchTarget() (Label, bool) {
	if i.Operand.Kind != OperandLabel {
		return Label{}, false
	}

	return i.Operand.Label, true
}

// HasBlock reports whether a marker of the given type is attached.
func (i Instruction) HasBlock(t BlockType) bool {
	for _, b := range i.Blocks {
		if b.Type == t {
			return true
		}
	}

	return false
}

func (i Instruction) String() string {
	var sb strings.Builder

	for _, l := range i.Labels {
		sb.WriteString(l.String())
		sb.WriteString(": ")
	}

	sb.WriteString(string(i.Opcode))

	if operand := i.Operand.String(); operand != "" {
		sb.WriteByte(' ')
		sb.WriteString(operand)
	}

	for _, b := range i.Blocks {
		sb.WriteString(" [")
		sb.WriteString(b.Type.String())
		if b.CatchType != "" {
			sb.WriteByte(' ')
			sb.WriteString(b.CatchType)
		}
		sb.WriteByte(']')
	}

	return sb.String()
}
