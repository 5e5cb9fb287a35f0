package verify

import (
	"errors"
	"fmt"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/isa"
)

var (
	// ErrStepLimit is returned when an invocation runs longer than the
	// environment allows.
	ErrStepLimit = errors.New("step limit exceeded")
	// ErrUnknownRoutine is returned when a call names a routine missing from
	// the environment.
	ErrUnknownRoutine = errors.New("unknown routine")
	// ErrStack is returned when the evaluation stack underflows.
	ErrStack = errors.New("evaluation stack underflow")
	// ErrDivideByZero is raised by div and rem. It can be caught.
	ErrDivideByZero = errors.New("divide by zero")
	// ErrUnsupported is returned for opcodes the simulator cannot run.
	ErrUnsupported = errors.New("unsupported instruction")
)

// Thrown wraps a non-error value raised by throw.
type Thrown struct {
	Value any
}

func (t *Thrown) Error() string {
	return fmt.Sprintf("thrown %v", t.Value)
}

// FunctionalSimulator executes a routine body without an encoder. A
// simulator holds no per-invocation state, so Run may be called
// concurrently.
type FunctionalSimulator struct {
	seq     *isa.Sequence
	env     *Env
	insts   []isa.Instruction
	targets map[isa.Label]int
	regions []region

	TraceOpPre func(pc int, inst isa.Instruction, stack []any)
}

type handler struct {
	start, end int
}

type region struct {
	tryStart, tryEnd int
	handlers         []handler
}

// NewFunctionalSimulator creates a simulator for one body.
func NewFunctionalSimulator(seq *isa.Sequence, env *Env) *FunctionalSimulator {
	if env == nil {
		env = NewEnv()
	}

	fs := &FunctionalSimulator{
		seq:     seq,
		env:     env,
		insts:   seq.Instructions(),
		targets: make(map[isa.Label]int),
	}

	for i, inst := range fs.insts {
		for _, l := range inst.Labels {
			fs.targets[l] = i
		}
	}

	fs.regions = buildRegions(fs.insts)

	return fs
}

// Compile returns a compile step that checks a body and runs it on a
// functional simulator.
func Compile(env *Env) compose.CompileFunc {
	return func(body *isa.Sequence) (compose.BodyFunc, error) {
		if err := body.Validate(); err != nil {
			return nil, err
		}

		fs := NewFunctionalSimulator(body, env)

		return func(args []any) (any, error) {
			return fs.Run(args...)
		}, nil
	}
}

func buildRegions(insts []isa.Instruction) []region {
	var (
		done []region
		open []region
	)

	for i, inst := range insts {
		for _, b := range inst.Blocks {
			switch b.Type {
			case isa.BeginTry:
				open = append(open, region{tryStart: i, tryEnd: -1})
			case isa.BeginCatch, isa.BeginFinally:
				if len(open) == 0 {
					continue
				}

				top := &open[len(open)-1]
				if top.tryEnd < 0 {
					top.tryEnd = i
				}

				if n := len(top.handlers); n > 0 {
					top.handlers[n-1].end = i
				}

				top.handlers = append(top.handlers, handler{start: i, end: -1})
			}
		}

		for _, b := range inst.Blocks {
			if b.Type != isa.EndTry || len(open) == 0 {
				continue
			}

			top := open[len(open)-1]
			open = open[:len(open)-1]

			if n := len(top.handlers); n > 0 {
				top.handlers[n-1].end = i + 1
			}

			done = append(done, top)
		}
	}

	return done
}

type machine struct {
	fs     *FunctionalSimulator
	args   []any
	locals map[int64]any
	stack  []any
	// caught holds the exception each handler last entered with, keyed by
	// the handler start.
	caught map[int]error
}

// Run executes the body with the given arguments and returns the value left
// by ret. A raised exception that no handler catches is returned as the
// error.
func (fs *FunctionalSimulator) Run(args ...any) (any, error) {
	m := &machine{
		fs:     fs,
		args:   append([]any(nil), args...),
		locals: make(map[int64]any),
		caught: make(map[int]error),
	}

	maxSteps := fs.env.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	pc := 0
	for step := 0; step < maxSteps; step++ {
		if pc < 0 || pc >= len(fs.insts) {
			return nil, fmt.Errorf("control left the body at %d", pc)
		}

		inst := fs.insts[pc]
		if fs.TraceOpPre != nil {
			fs.TraceOpPre(pc, inst, append([]any(nil), m.stack...))
		}

		next, done, result, raised, err := m.execute(pc, inst)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", pc, inst, err)
		}

		if raised != nil {
			h, ok := fs.handlerFor(pc)
			if !ok {
				return nil, raised
			}

			m.stack = []any{raised}
			m.caught[h] = raised
			pc = h

			continue
		}

		if done {
			return result, nil
		}

		pc = next
	}

	return nil, ErrStepLimit
}

// handlerFor finds the first handler of the innermost region whose try
// range covers pc.
func (fs *FunctionalSimulator) handlerFor(pc int) (int, bool) {
	best := -1

	for i, r := range fs.regions {
		if pc < r.tryStart || pc >= r.tryEnd || len(r.handlers) == 0 {
			continue
		}

		if best < 0 || r.tryStart > fs.regions[best].tryStart {
			best = i
		}
	}

	if best < 0 {
		return 0, false
	}

	return fs.regions[best].handlers[0].start, true
}

// activeHandler finds the innermost handler covering pc.
func (fs *FunctionalSimulator) activeHandler(pc int) (int, bool) {
	start := -1

	for _, r := range fs.regions {
		for _, h := range r.handlers {
			if pc >= h.start && pc < h.end && h.start > start {
				start = h.start
			}
		}
	}

	return start, start >= 0
}

func (m *machine) push(v any) {
	m.stack = append(m.stack, v)
}

func (m *machine) pop() (any, error) {
	if len(m.stack) == 0 {
		return nil, ErrStack
	}

	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]

	return v, nil
}

func (m *machine) popN(n int) ([]any, error) {
	if len(m.stack) < n {
		return nil, ErrStack
	}

	vs := append([]any(nil), m.stack[len(m.stack)-n:]...)
	m.stack = m.stack[:len(m.stack)-n]

	return vs, nil
}

func (m *machine) jump(inst isa.Instruction) (int, error) {
	l, _ := inst.BranchTarget()

	j, ok := m.fs.targets[l]
	if !ok {
		return 0, fmt.Errorf("unbound label %s", l)
	}

	return j, nil
}

// execute runs one instruction. It returns the next pc, or done with the
// result on ret, or the exception raised by the instruction.
func (m *machine) execute(pc int, inst isa.Instruction) (
	next int, done bool, result any, raised error, err error,
) {
	next = pc + 1
	n := inst.Operand.Int

	switch inst.Opcode {
	case isa.Nop, isa.Endfinally:
	case isa.Ldarg:
		if n < 0 || n >= int64(len(m.args)) {
			return 0, false, nil, nil, fmt.Errorf("no argument %d", n)
		}
		m.push(m.args[n])
	case isa.Starg:
		if n < 0 || n >= int64(len(m.args)) {
			return 0, false, nil, nil, fmt.Errorf("no argument %d", n)
		}
		v, err := m.pop()
		if err != nil {
			return 0, false, nil, nil, err
		}
		m.args[n] = v
	case isa.Ldloc:
		m.push(m.locals[n])
	case isa.Stloc:
		v, err := m.pop()
		if err != nil {
			return 0, false, nil, nil, err
		}
		m.locals[n] = v
	case isa.LdcI:
		m.push(n)
	case isa.Ldstr:
		m.push(inst.Operand.Str)
	case isa.Ldnull:
		m.push(nil)
	case isa.Pop:
		if _, err := m.pop(); err != nil {
			return 0, false, nil, nil, err
		}
	case isa.Dup:
		v, err := m.pop()
		if err != nil {
			return 0, false, nil, nil, err
		}
		m.push(v)
		m.push(v)
	case isa.Ldfld:
		v, err := m.pop()
		if err != nil {
			return 0, false, nil, nil, err
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return 0, false, nil, nil, fmt.Errorf("ldfld %s on %T", inst.Operand.Str, v)
		}
		m.push(obj[inst.Operand.Str])
	case isa.Stfld:
		vs, err := m.popN(2)
		if err != nil {
			return 0, false, nil, nil, err
		}
		obj, ok := vs[0].(map[string]any)
		if !ok {
			return 0, false, nil, nil, fmt.Errorf("stfld %s on %T", inst.Operand.Str, vs[0])
		}
		obj[inst.Operand.Str] = vs[1]
	case isa.Box:
	case isa.Isinst:
		v, err := m.pop()
		if err != nil {
			return 0, false, nil, nil, err
		}
		if isInstance(v, inst.Operand.Str) {
			m.push(v)
		} else {
			m.push(nil)
		}
	case isa.Add, isa.Sub, isa.Mul, isa.Div, isa.Rem, isa.Ceq, isa.Clt, isa.Cgt:
		vs, err := m.popN(2)
		if err != nil {
			return 0, false, nil, nil, err
		}
		v, err := binary(inst.Opcode, vs[0], vs[1])
		if errors.Is(err, ErrDivideByZero) {
			return 0, false, nil, err, nil
		}
		if err != nil {
			return 0, false, nil, nil, err
		}
		m.push(v)
	case isa.Not:
		v, err := m.pop()
		if err != nil {
			return 0, false, nil, nil, err
		}
		m.push(!truthy(v))
	case isa.Br:
		next, err = m.jump(inst)
	case isa.Leave:
		m.stack = m.stack[:0]
		next, err = m.jump(inst)
	case isa.Brtrue, isa.Brfalse:
		v, err := m.pop()
		if err != nil {
			return 0, false, nil, nil, err
		}
		if truthy(v) == (inst.Opcode == isa.Brtrue) {
			next, err = m.jump(inst)
			return next, false, nil, nil, err
		}
	case isa.Beq, isa.Bne, isa.Blt, isa.Bgt:
		vs, err := m.popN(2)
		if err != nil {
			return 0, false, nil, nil, err
		}
		take, err := branchTaken(inst.Opcode, vs[0], vs[1])
		if err != nil {
			return 0, false, nil, nil, err
		}
		if take {
			next, err = m.jump(inst)
			return next, false, nil, nil, err
		}
	case isa.Call, isa.Newobj:
		return m.call(pc, inst)
	case isa.Ret:
		if len(m.stack) > 0 {
			result = m.stack[len(m.stack)-1]
		}
		return 0, true, result, nil, nil
	case isa.Throw:
		v, err := m.pop()
		if err != nil {
			return 0, false, nil, nil, err
		}
		if e, ok := v.(error); ok {
			return 0, false, nil, e, nil
		}
		return 0, false, nil, &Thrown{Value: v}, nil
	case isa.Rethrow:
		h, ok := m.fs.activeHandler(pc)
		if !ok || m.caught[h] == nil {
			return 0, false, nil, nil, errors.New("rethrow outside of a handler")
		}
		return 0, false, nil, m.caught[h], nil
	default:
		return 0, false, nil, nil, fmt.Errorf("%w: %s", ErrUnsupported, inst.Opcode)
	}

	return next, false, nil, nil, err
}

func (m *machine) call(pc int, inst isa.Instruction) (
	next int, done bool, result any, raised error, err error,
) {
	name := inst.Operand.Str

	r, ok := m.fs.env.Lookup(name)
	if !ok || r.Invoke == nil {
		return 0, false, nil, nil, fmt.Errorf("%w: %s", ErrUnknownRoutine, name)
	}

	args, err := m.popN(r.Params)
	if err != nil {
		return 0, false, nil, nil, err
	}

	ret, callErr := r.Invoke(args)
	if callErr != nil {
		return 0, false, nil, callErr, nil
	}

	if r.Returns || inst.Opcode == isa.Newobj {
		m.push(ret)
	}

	return pc + 1, false, nil, nil, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case int:
		return x != 0
	default:
		return true
	}
}

func isInstance(v any, typ string) bool {
	switch typ {
	case "int":
		_, ok := v.(int64)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "bool":
		_, ok := v.(bool)
		return ok
	case "error", compose.ExceptionType:
		_, ok := v.(error)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return v != nil
	}
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func binary(op isa.Opcode, a, b any) (any, error) {
	if op == isa.Ceq {
		return equal(a, b), nil
	}

	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return nil, fmt.Errorf("%s on string and %T", op, b)
		}

		switch op {
		case isa.Add:
			return sa + sb, nil
		case isa.Clt:
			return sa < sb, nil
		case isa.Cgt:
			return sa > sb, nil
		default:
			return nil, fmt.Errorf("%s on strings", op)
		}
	}

	x, okA := toInt(a)
	y, okB := toInt(b)
	if !okA || !okB {
		return nil, fmt.Errorf("%s on %T and %T", op, a, b)
	}

	switch op {
	case isa.Add:
		return x + y, nil
	case isa.Sub:
		return x - y, nil
	case isa.Mul:
		return x * y, nil
	case isa.Div, isa.Rem:
		if y == 0 {
			return nil, ErrDivideByZero
		}
		if op == isa.Div {
			return x / y, nil
		}
		return x % y, nil
	case isa.Clt:
		return x < y, nil
	case isa.Cgt:
		return x > y, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, op)
	}
}

func equal(a, b any) bool {
	x, okA := toInt(a)
	y, okB := toInt(b)
	if okA && okB {
		return x == y
	}

	switch a.(type) {
	case nil, string, bool, error:
		return a == b
	default:
		return false
	}
}

func branchTaken(op isa.Opcode, a, b any) (bool, error) {
	switch op {
	case isa.Beq:
		return equal(a, b), nil
	case isa.Bne:
		return !equal(a, b), nil
	case isa.Blt:
		v, err := binary(isa.Clt, a, b)
		if err != nil {
			return false, err
		}
		return v.(bool), nil
	default:
		v, err := binary(isa.Cgt, a, b)
		if err != nil {
			return false, err
		}
		return v.(bool), nil
	}
}
