// Package isa defines the decoded instruction model that patches operate on.
//
// A routine body is an ordered Sequence of Instructions. Each Instruction
// carries an Opcode, an Operand whose kind is fixed by the opcode, the Labels
// that branch instructions use to reach it, and the exception-region markers
// that open or close a protected region at that point.
//
//	Sequence
//	  └── Instruction (one or more)
//	      ├── Opcode   ("ldarg", "call", "brfalse", ...)
//	      ├── Operand  (none | int | string | type | routine | field | label)
//	      ├── Labels   (branch targets bound to this instruction)
//	      └── Blocks   (.try / .catch / .finally / .end markers)
//
// Branches never refer to raw indices. They carry a Label operand that must
// resolve to exactly one instruction of the same sequence, so instructions
// can be inserted and removed without rewriting offsets.
package isa

import (
	"fmt"
	"sort"
)

// Opcode names an operation.
type Opcode string

// OperandKind tags the value an opcode takes as its operand.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandInt
	OperandString
	OperandType
	OperandRoutine
	OperandField
	OperandLabel
)

func (k OperandKind) String() string {
	switch k {
	case OperandNone:
		return "none"
	case OperandInt:
		return "int"
	case OperandString:
		return "string"
	case OperandType:
		return "type"
	case OperandRoutine:
		return "routine"
	case OperandField:
		return "field"
	case OperandLabel:
		return "label"
	default:
		return fmt.Sprintf("OperandKind(%d)", int(k))
	}
}

// OpInfo describes how an opcode is shaped.
type OpInfo struct {
	// Operand is the only operand kind the opcode accepts.
	Operand OperandKind
	// Branch is set for opcodes whose operand is a jump target.
	Branch bool
	// Terminal is set when control never falls through to the next
	// instruction (ret, throw, unconditional jumps).
	Terminal bool
}

// ISA is a named opcode table.
type ISA struct {
	name string
	ops  map[Opcode]OpInfo
}

// NewISA creates an empty opcode table.
func NewISA(name string) *ISA {
	return &ISA{
		name: name,
		ops:  make(map[Opcode]OpInfo),
	}
}

// Name returns the name of the table.
func (isa *ISA) Name() string {
	return isa.name
}

// Register adds an opcode to the table. Registering the same opcode twice
// replaces the earlier definition.
func (isa *ISA) Register(op Opcode, info OpInfo) *ISA {
	if info.Branch && info.Operand != OperandLabel {
		panic(fmt.Sprintf("branch opcode %q must take a label operand", op))
	}

	isa.ops[op] = info

	return isa
}

// Lookup returns the definition of an opcode.
func (isa *ISA) Lookup(op Opcode) (OpInfo, bool) {
	info, ok := isa.ops[op]
	return info, ok
}

// Opcodes lists all registered opcodes in lexical order.
func (isa *ISA) Opcodes() []Opcode {
	ops := make([]Opcode, 0, len(isa.ops))
	for op := range isa.ops {
		ops = append(ops, op)
	}

	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

	return ops
}

// CheckOperand reports whether an operand fits the opcode.
func (isa *ISA) CheckOperand(op Opcode, operand Operand) error {
	info, ok := isa.ops[op]
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrUnknownOpcode, op, isa.name)
	}

	if operand.Kind != info.Operand {
		return fmt.Errorf("%w: %s takes a %s operand, got %s",
			ErrOperandKind, op, info.Operand, operand.Kind)
	}

	return nil
}

// Stack-machine opcodes of the default table.
const (
	Nop        Opcode = "nop"
	Ldarg      Opcode = "ldarg"
	Starg      Opcode = "starg"
	Ldloc      Opcode = "ldloc"
	Stloc      Opcode = "stloc"
	LdcI       Opcode = "ldc.i"
	Ldstr      Opcode = "ldstr"
	Ldnull     Opcode = "ldnull"
	Ldfld      Opcode = "ldfld"
	Stfld      Opcode = "stfld"
	Call       Opcode = "call"
	Newobj     Opcode = "newobj"
	Box        Opcode = "box"
	Isinst     Opcode = "isinst"
	Br         Opcode = "br"
	Brtrue     Opcode = "brtrue"
	Brfalse    Opcode = "brfalse"
	Beq        Opcode = "beq"
	Bne        Opcode = "bne"
	Blt        Opcode = "blt"
	Bgt        Opcode = "bgt"
	Leave      Opcode = "leave"
	Ret        Opcode = "ret"
	Throw      Opcode = "throw"
	Rethrow    Opcode = "rethrow"
	Endfinally Opcode = "endfinally"
	Pop        Opcode = "pop"
	Dup        Opcode = "dup"
	Add        Opcode = "add"
	Sub        Opcode = "sub"
	Mul        Opcode = "mul"
	Div        Opcode = "div"
	Rem        Opcode = "rem"
	Ceq        Opcode = "ceq"
	Clt        Opcode = "clt"
	Cgt        Opcode = "cgt"
	Not        Opcode = "not"
)

// Default is the opcode table used when a sequence is created without one.
var Default = newDefaultISA()

func newDefaultISA() *ISA {
	isa := NewISA("splice stack ISA")

	for _, op := range []Opcode{
		Nop, Ldnull, Pop, Dup, Add, Sub, Mul, Div, Rem, Ceq, Clt, Cgt, Not,
	} {
		isa.Register(op, OpInfo{Operand: OperandNone})
	}

	for _, op := range []Opcode{Ret, Throw, Rethrow, Endfinally} {
		isa.Register(op, OpInfo{Operand: OperandNone, Terminal: true})
	}

	for _, op := range []Opcode{Ldarg, Starg, Ldloc, Stloc, LdcI} {
		isa.Register(op, OpInfo{Operand: OperandInt})
	}

	isa.Register(Ldstr, OpInfo{Operand: OperandString})
	isa.Register(Ldfld, OpInfo{Operand: OperandField})
	isa.Register(Stfld, OpInfo{Operand: OperandField})
	isa.Register(Call, OpInfo{Operand: OperandRoutine})
	isa.Register(Newobj, OpInfo{Operand: OperandRoutine})
	isa.Register(Box, OpInfo{Operand: OperandType})
	isa.Register(Isinst, OpInfo{Operand: OperandType})

	for _, op := range []Opcode{Brtrue, Brfalse, Beq, Bne, Blt, Bgt} {
		isa.Register(op, OpInfo{Operand: OperandLabel, Branch: true})
	}

	for _, op := range []Opcode{Br, Leave} {
		isa.Register(op, OpInfo{Operand: OperandLabel, Branch: true, Terminal: true})
	}

	return isa
}
