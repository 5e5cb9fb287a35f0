package compose

import (
	"fmt"

	"github.com/sarchlab/splice/fragment"
	"github.com/sarchlab/splice/isa"
	"github.com/sarchlab/splice/matcher"
)

// Locals used by emitted routines.
const (
	LocalResult      = 0
	LocalRunOriginal = 1
	LocalException   = 2
	LocalFinalized   = 3
)

// ExceptionType is the catch type of emitted handlers.
const ExceptionType = "Error"

// Emit lowers a plan into one instruction sequence: fragment calls refer to
// fragments by ID, the body is spliced in with its returns turned into
// jumps to the postfixes, and finalizers are laid out as a protected region
// with a catch handler.
func Emit(plan *Plan) (*isa.Sequence, error) {
	set := isa.Default
	if plan.Body != nil {
		set = plan.Body.ISA()
	}

	e := &emitter{out: isa.NewSequence(set)}
	void := plan.Signature.IsVoid()

	var (
		skip    = e.out.DefineLabel()
		bodyEnd = e.out.DefineLabel()
		done    = e.out.DefineLabel()
	)

	if plan.Gated() {
		e.emit(isa.New(isa.LdcI, isa.IntOperand(1)), isa.New(isa.Stloc, isa.IntOperand(LocalRunOriginal)))
	}

	if plan.Protected() {
		e.begin(isa.BeginTry, "")
	}

	for _, f := range plan.Prefixes {
		e.emit(callFragment(f))

		if f.Shape.Returns == fragment.ReturnBool {
			e.emit(isa.New(isa.Brfalse, isa.LabelOperand(skip)))
		}
	}

	returns, err := e.body(plan, bodyEnd)
	if err != nil {
		return nil, err
	}

	// A body without a return only leaves by throwing, so postfixes are
	// dead code and the normal exit is reachable only through a gate.
	reachable := returns || plan.Gated()

	if returns {
		e.mark(bodyEnd)
		e.emit(isa.Op(isa.Nop))

		for _, f := range plan.Postfixes {
			if f.Shape.Returns == fragment.ReturnResult {
				e.emit(
					isa.New(isa.Ldloc, isa.IntOperand(LocalResult)),
					callFragment(f),
					isa.New(isa.Stloc, isa.IntOperand(LocalResult)),
				)
			} else {
				e.emit(callFragment(f))
			}
		}
	}

	e.mark(skip)

	switch {
	case plan.Protected():
		e.finalizers(plan, done, reachable)
	case !reachable:
		return e.finish(plan)
	}

	e.mark(done)

	if void {
		e.emit(isa.Op(isa.Ret))
	} else {
		e.emit(isa.New(isa.Ldloc, isa.IntOperand(LocalResult)), isa.Op(isa.Ret))
	}

	return e.finish(plan)
}

func (e *emitter) finish(plan *Plan) (*isa.Sequence, error) {
	if e.err != nil {
		return nil, fmt.Errorf("emit %s: %w", plan.Target, e.err)
	}

	return e.out, nil
}

type emitter struct {
	out    *isa.Sequence
	labels []isa.Label
	blocks []isa.ExceptionBlock
	err    error
}

func (e *emitter) emit(insts ...isa.Instruction) {
	if e.err != nil || len(insts) == 0 {
		return
	}

	first := insts[0].Clone()
	first.Labels = append(e.labels, first.Labels...)
	first.Blocks = append(e.blocks, first.Blocks...)
	e.labels, e.blocks = nil, nil

	all := append([]isa.Instruction{first}, insts[1:]...)
	if err := e.out.Append(all...); err != nil {
		e.err = err
	}
}

// mark binds a label to the next emitted instruction.
func (e *emitter) mark(l isa.Label) {
	e.labels = append(e.labels, l)
}

// begin attaches a region marker to the next emitted instruction.
func (e *emitter) begin(t isa.BlockType, catchType string) {
	e.blocks = append(e.blocks, isa.ExceptionBlock{Type: t, CatchType: catchType})
}

// end closes the innermost region after the last emitted instruction.
func (e *emitter) end() {
	if e.err != nil {
		return
	}

	e.err = e.out.AddBlock(e.out.Len()-1, isa.ExceptionBlock{Type: isa.EndTry})
}

// body splices the target body and reports whether it can return normally.
func (e *emitter) body(plan *Plan, bodyEnd isa.Label) (bool, error) {
	void := plan.Signature.IsVoid()

	if plan.Body == nil {
		for i := range plan.Signature.Params {
			e.emit(isa.New(isa.Ldarg, isa.IntOperand(int64(i))))
		}

		e.emit(isa.New(isa.Call, isa.RoutineOperand(plan.Target)))

		if !void {
			e.emit(isa.New(isa.Stloc, isa.IntOperand(LocalResult)))
		}

		return true, nil
	}

	seg := e.out.Sibling()
	remap := make(map[isa.Label]isa.Label)
	relabel := func(l isa.Label) isa.Label {
		if n, ok := remap[l]; ok {
			return n
		}

		n := seg.DefineLabel()
		remap[l] = n

		return n
	}

	for _, inst := range plan.Body.Instructions() {
		for i, l := range inst.Labels {
			inst.Labels[i] = relabel(l)
		}

		if target, ok := inst.BranchTarget(); ok {
			inst.Operand = isa.LabelOperand(relabel(target))
		}

		if err := seg.Append(inst); err != nil {
			return false, err
		}
	}

	exit := []isa.Instruction{isa.New(isa.Leave, isa.LabelOperand(bodyEnd))}
	if !void {
		exit = append([]isa.Instruction{isa.New(isa.Stloc, isa.IntOperand(LocalResult))}, exit...)
	}

	m := matcher.New(seg)

	returns, err := m.Repeat(func(m *matcher.Matcher) error {
		return m.Replace(exit...)
	}, matcher.Op(isa.Ret))
	if err != nil {
		return false, fmt.Errorf("splice body: %w", err)
	}

	e.emit(seg.Instructions()...)

	return returns > 0, nil
}

// finalizers lays out the protected region tail. The first pass runs when
// the region is left normally and is omitted when nothing can reach it.
func (e *emitter) finalizers(plan *Plan, done isa.Label, reachable bool) {
	var (
		skipHandlers = e.out.DefineLabel()
		noRaise      = e.out.DefineLabel()
	)

	if reachable {
		noException := e.out.DefineLabel()

		for _, f := range plan.Finalizers {
			e.emit(callFinalizer(f)...)
		}

		e.emit(
			isa.New(isa.LdcI, isa.IntOperand(1)),
			isa.New(isa.Stloc, isa.IntOperand(LocalFinalized)),
			isa.New(isa.Ldloc, isa.IntOperand(LocalException)),
			isa.New(isa.Brfalse, isa.LabelOperand(noException)),
			isa.New(isa.Ldloc, isa.IntOperand(LocalException)),
			isa.Op(isa.Throw),
		)

		e.mark(noException)
		e.emit(isa.New(isa.Leave, isa.LabelOperand(done)))
	} else {
		e.labels = nil
	}

	e.begin(isa.BeginCatch, ExceptionType)
	e.emit(
		isa.New(isa.Stloc, isa.IntOperand(LocalException)),
		isa.New(isa.Ldloc, isa.IntOperand(LocalFinalized)),
		isa.New(isa.Brtrue, isa.LabelOperand(skipHandlers)),
	)

	for _, f := range plan.Finalizers {
		next := e.out.DefineLabel()

		e.begin(isa.BeginTry, "")
		e.emit(callFinalizer(f)...)
		e.emit(isa.New(isa.Leave, isa.LabelOperand(next)))

		e.begin(isa.BeginCatch, ExceptionType)
		e.emit(isa.Op(isa.Pop), isa.New(isa.Leave, isa.LabelOperand(next)))
		e.end()

		e.mark(next)
	}

	e.mark(skipHandlers)
	e.emit(
		isa.Op(isa.Nop),
		isa.New(isa.Ldloc, isa.IntOperand(LocalException)),
		isa.New(isa.Brfalse, isa.LabelOperand(noRaise)),
	)

	if plan.RethrowAlways {
		e.emit(isa.Op(isa.Rethrow))
	} else {
		e.emit(isa.New(isa.Ldloc, isa.IntOperand(LocalException)), isa.Op(isa.Throw))
	}

	e.mark(noRaise)
	e.emit(isa.New(isa.Leave, isa.LabelOperand(done)))
	e.end()
}

func callFragment(f fragment.Fragment) isa.Instruction {
	return isa.New(isa.Call, isa.RoutineOperand(f.ID()))
}

func callFinalizer(f fragment.Fragment) []isa.Instruction {
	if f.Shape.Returns != fragment.ReturnException {
		return []isa.Instruction{callFragment(f)}
	}

	return []isa.Instruction{
		isa.New(isa.Ldloc, isa.IntOperand(LocalException)),
		callFragment(f),
		isa.New(isa.Stloc, isa.IntOperand(LocalException)),
	}
}
