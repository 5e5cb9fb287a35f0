package isa

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Parse decodes a text listing into a sequence over the given opcode table
// (nil selects Default).
//
//	.try
//	loop: ldarg 0
//	      ldc.i 1
//	      sub
//	      brtrue loop
//	      leave done
//	.catch Error
//	      pop
//	      leave done
//	.end
//	done: ret
//
// Begin markers (.try, .catch [type], .finally) attach to the next
// instruction; .end attaches to the previous one. Lines starting with ";" or
// "//" are comments.
func Parse(text string, set *ISA) (*Sequence, error) {
	seq := NewSequence(set)
	names := make(map[string]Label)

	label := func(name string) Label {
		if l, ok := names[name]; ok {
			return l
		}

		l := seq.DefineLabel()
		names[name] = l

		return l
	}

	var pending []ExceptionBlock

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "//") {
			continue
		}

		if strings.HasPrefix(line, ".") {
			directive, arg := cutField(line)

			switch directive {
			case ".try":
				pending = append(pending, ExceptionBlock{Type: BeginTry})
			case ".catch":
				pending = append(pending, ExceptionBlock{Type: BeginCatch, CatchType: arg})
			case ".finally":
				pending = append(pending, ExceptionBlock{Type: BeginFinally})
			case ".end":
				if seq.Len() == 0 {
					return nil, fmt.Errorf("line %d: .end before any instruction", lineNo)
				}
				seq.insts[seq.Len()-1].Blocks = append(seq.insts[seq.Len()-1].Blocks,
					ExceptionBlock{Type: EndTry})
			default:
				return nil, fmt.Errorf("line %d: unknown directive %q", lineNo, directive)
			}

			continue
		}

		inst, err := parseInstruction(line, seq.set, label)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		inst.Blocks = append(pending, inst.Blocks...)
		pending = nil
		seq.insts = append(seq.insts, inst)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(pending) > 0 {
		return nil, fmt.Errorf("line %d: region marker %s without an instruction",
			lineNo, pending[0].Type)
	}

	return seq, nil
}

// MustParse is Parse for fixtures; it panics on error.
func MustParse(text string) *Sequence {
	seq, err := Parse(text, nil)
	if err != nil {
		panic(err)
	}

	return seq
}

func parseInstruction(line string, set *ISA, label func(string) Label) (Instruction, error) {
	var inst Instruction

	rest := line
	for {
		field, tail := cutField(rest)
		if !strings.HasSuffix(field, ":") {
			break
		}

		inst.Labels = append(inst.Labels, label(strings.TrimSuffix(field, ":")))
		rest = tail
	}

	opText, operandText := cutField(rest)
	inst.Opcode = Opcode(opText)

	info, ok := set.Lookup(inst.Opcode)
	if !ok {
		return inst, fmt.Errorf("%w: %q", ErrUnknownOpcode, opText)
	}

	switch info.Operand {
	case OperandNone:
		if operandText != "" {
			return inst, fmt.Errorf("%s takes no operand, got %q", opText, operandText)
		}
		inst.Operand = NoOperand()
	case OperandInt:
		v, err := strconv.ParseInt(operandText, 10, 64)
		if err != nil {
			return inst, fmt.Errorf("%s: %w", opText, err)
		}
		inst.Operand = IntOperand(v)
	case OperandString:
		s, err := strconv.Unquote(operandText)
		if err != nil {
			return inst, fmt.Errorf("%s: string operand %s: %w", opText, operandText, err)
		}
		inst.Operand = StringOperand(s)
	case OperandLabel:
		if operandText == "" {
			return inst, fmt.Errorf("%s needs a label", opText)
		}
		inst.Operand = LabelOperand(label(operandText))
	default:
		if operandText == "" {
			return inst, fmt.Errorf("%s needs a %s operand", opText, info.Operand)
		}
		inst.Operand = Operand{Kind: info.Operand, Str: operandText}
	}

	return inst, nil
}

// cutField splits off the first whitespace-separated field.
func cutField(s string) (string, string) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}

	return s[:i], strings.TrimSpace(s[i+1:])
}

// Format encodes instructions into the text listing accepted by Parse.
func Format(insts []Instruction) string {
	var sb strings.Builder

	for _, inst := range insts {
		for _, b := range inst.Blocks {
			switch b.Type {
			case BeginTry, BeginFinally:
				fmt.Fprintln(&sb, b.Type)
			case BeginCatch:
				if b.CatchType != "" {
					fmt.Fprintf(&sb, "%s %s\n", b.Type, b.CatchType)
				} else {
					fmt.Fprintln(&sb, b.Type)
				}
			}
		}

		if len(inst.Labels) == 0 {
			sb.WriteString("    ")
		}

		for _, l := range inst.Labels {
			sb.WriteString(l.String())
			sb.WriteString(": ")
		}

		sb.WriteString(string(inst.Opcode))

		if operand := inst.Operand.String(); operand != "" {
			sb.WriteByte(' ')
			sb.WriteString(operand)
		}

		sb.WriteByte('\n')

		for _, b := range inst.Blocks {
			if b.Type == EndTry {
				fmt.Fprintln(&sb, b.Type)
			}
		}
	}

	return sb.String()
}

// Equivalent reports whether two instruction lists are operationally
// identical: same opcodes, same operand values, branches reaching the same
// positions, the same number of labels bound at each position and the same
// region markers. Label identities themselves may differ.
func Equivalent(a, b []Instruction) error {
	if len(a) != len(b) {
		return fmt.Errorf("length differs: %d vs %d", len(a), len(b))
	}

	posA := labelPositions(a)
	posB := labelPositions(b)

	for i := range a {
		x, y := a[i], b[i]

		if x.Opcode != y.Opcode {
			return fmt.Errorf("instruction %d: opcode %s vs %s", i, x.Opcode, y.Opcode)
		}

		if x.Operand.Kind != y.Operand.Kind {
			return fmt.Errorf("instruction %d: operand kind %s vs %s", i, x.Operand.Kind, y.Operand.Kind)
		}

		if x.Operand.Kind == OperandLabel {
			ta, okA := posA[x.Operand.Label]
			tb, okB := posB[y.Operand.Label]
			if okA != okB || ta != tb {
				return fmt.Errorf("instruction %d: branch reaches %d vs %d", i, ta, tb)
			}
		} else if !x.Operand.Equal(y.Operand) {
			return fmt.Errorf("instruction %d: operand %s vs %s", i, x.Operand, y.Operand)
		}

		if len(x.Labels) != len(y.Labels) {
			return fmt.Errorf("instruction %d: %d labels vs %d", i, len(x.Labels), len(y.Labels))
		}

		if len(x.Blocks) != len(y.Blocks) {
			return fmt.Errorf("instruction %d: %d region markers vs %d", i, len(x.Blocks), len(y.Blocks))
		}

		for k := range x.Blocks {
			if x.Blocks[k] != y.Blocks[k] {
				return fmt.Errorf("instruction %d: marker %s vs %s", i, x.Blocks[k].Type, y.Blocks[k].Type)
			}
		}
	}

	return nil
}

func labelPositions(insts []Instruction) map[Label]int {
	pos := make(map[Label]int)
	for i, inst := range insts {
		for _, l := range inst.Labels {
			pos[l] = i
		}
	}

	return pos
}
