package matcher

import (
	"errors"
	"fmt"

	"github.com/sarchlab/splice/isa"
)

// Transpiler is a whole-body rewrite built from matcher edits. It has the
// signature of a Replace fragment's transpiler.
type Transpiler func(m *Matcher) error

// CallReplacer rewrites every call of one routine into a call of another
// routine with the same signature. A body without such a call is left alone.
func CallReplacer(from, to string) Transpiler {
	return func(m *Matcher) error {
		if from == "" || to == "" {
			return errors.New("call replacer: empty routine name")
		}

		m.Start()

		_, err := m.Repeat(func(m *Matcher) error {
			return m.SetOperand(isa.RoutineOperand(to))
		}, Calls(from))

		return err
	}
}

// Manipulator hands a copy of every instruction accepted by match to edit
// and writes the edited opcode and operand back. Labels and region markers
// stay as they were.
func Manipulator(match Match, edit func(inst *isa.Instruction)) Transpiler {
	return func(m *Matcher) error {
		if edit == nil {
			return errors.New("manipulator: nil edit")
		}

		m.Start()

		_, err := m.Repeat(func(m *Matcher) error {
			inst, err := m.Instruction()
			if err != nil {
				return err
			}

			edit(&inst)

			return m.Set(inst.Opcode, inst.Operand)
		}, match)

		return err
	}
}

// Prologue places instructions at the start of the body. Branches to the
// first instruction keep landing on it, so the prologue runs once.
func Prologue(insts ...isa.Instruction) Transpiler {
	return func(m *Matcher) error {
		return m.Start().InsertAndAdvance(insts...)
	}
}

// Chain runs transpilers in order over the same body.
func Chain(transpilers ...Transpiler) Transpiler {
	return func(m *Matcher) error {
		for i, t := range transpilers {
			if err := t(m); err != nil {
				return fmt.Errorf("transpiler %d: %w", i, err)
			}
		}

		return nil
	}
}
