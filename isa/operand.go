package isa

import (
	"errors"
	"strconv"
)

var (
	// ErrUnknownOpcode is returned for opcodes missing from the table.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrOperandKind is returned when an operand does not fit its opcode.
	ErrOperandKind = errors.New("operand kind mismatch")
)

// Operand is a tagged value. Only the field selected by Kind is meaningful.
type Operand struct {
	Kind  OperandKind
	Int   int64
	Str   string // literal for OperandString, qualified name for type/routine/field
	Label Label
}

// NoOperand is the operand of opcodes that take none.
func NoOperand() Operand {
	return Operand{Kind: OperandNone}
}

// IntOperand wraps an integer (argument/local index or constant).
func IntOperand(v int64) Operand {
	return Operand{Kind: OperandInt, Int: v}
}

// StringOperand wraps a string literal.
func StringOperand(s string) Operand {
	return Operand{Kind: OperandString, Str: s}
}

// TypeOperand references a type by name.
func TypeOperand(name string) Operand {
	return Operand{Kind: OperandType, Str: name}
}

// RoutineOperand references a routine by name.
func RoutineOperand(name string) Operand {
	return Operand{Kind: OperandRoutine, Str: name}
}

// FieldOperand references a field by name.
func FieldOperand(name string) Operand {
	return Operand{Kind: OperandField, Str: name}
}

// LabelOperand references a jump target.
func LabelOperand(l Label) Operand {
	return Operand{Kind: OperandLabel, Label: l}
}

// Equal compares two operands by kind and the value selected by the kind.
func (o Operand) Equal(other Operand) bool {
	if o.Kind != other.Kind {
		return false
	}

	switch o.Kind {
	case OperandNone:
		return true
	case OperandInt:
		return o.Int == other.Int
	case OperandLabel:
		return o.Label == other.Label
	default:
		return o.Str == other.Str
	}
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandNone:
		return ""
	case OperandInt:
		return strconv.FormatInt(o.Int, 10)
	case OperandString:
		return strconv.Quote(o.Str)
	case OperandLabel:
		return o.Label.String()
	default:
		return o.Str
	}
}
