package verify

import (
	"fmt"
	"sort"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/isa"
)

const unknownDepth = -1

// RunLint performs static lint checks on decoded routine bodies, keyed by
// routine name. It validates structure (STRUCT), control flow (FLOW) and
// evaluation stack depths (STACK). Routines found in env also get their
// argument indices and return depth checked.
// Returns a list of issues found, or empty list if no issues.
func RunLint(routines map[string]*isa.Sequence, env *Env) []Issue {
	if env == nil {
		env = NewEnv()
	}

	names := make([]string, 0, len(routines))
	for name := range routines {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []Issue

	for _, name := range names {
		var self *Routine
		if r, ok := env.Lookup(name); ok {
			self = &r
		}

		issues = append(issues, lintSequence(name, routines[name], env, self)...)
	}

	return issues
}

// LintPlan checks the transpiled body of a plan and the listing the plan
// lowers to.
func LintPlan(plan *compose.Plan, env *Env) []Issue {
	env = env.Clone().DefinePlan(plan)
	self, _ := env.Lookup(plan.Target)

	var issues []Issue

	if plan.Body != nil {
		issues = append(issues, lintSequence(plan.Target, plan.Body, env, &self)...)
	}

	emitted, err := compose.Emit(plan)
	if err != nil {
		return append(issues, Issue{
			Type:    IssueStruct,
			Routine: plan.Target,
			Index:   -1,
			Message: fmt.Sprintf("plan cannot be emitted: %v", err),
		})
	}

	return append(issues, lintSequence(EmittedName(plan.Target), emitted, env, &self)...)
}

// EmittedName names the synthesized routine of a target in lint issues.
func EmittedName(target string) string {
	return target + " (synthesized)"
}

type linter struct {
	routine string
	env     *Env
	self    *Routine
	set     *isa.ISA
	insts   []isa.Instruction
	targets map[isa.Label]int

	depth    []int
	seen     []bool
	mismatch map[int]bool
	work     []int
	issues   []Issue
}

func lintSequence(name string, seq *isa.Sequence, env *Env, self *Routine) []Issue {
	l := &linter{
		routine:  name,
		env:      env,
		self:     self,
		set:      seq.ISA(),
		insts:    seq.Instructions(),
		targets:  make(map[isa.Label]int),
		mismatch: make(map[int]bool),
	}

	for _, p := range seq.Check() {
		l.report(IssueStruct, p.Index, p.Reason, nil)
	}

	if len(l.insts) == 0 {
		l.report(IssueFlow, -1, "empty body", nil)
		return l.issues
	}

	for i, inst := range l.insts {
		for _, lbl := range inst.Labels {
			if _, ok := l.targets[lbl]; !ok {
				l.targets[lbl] = i
			}
		}
	}

	l.checkArguments()
	l.walk()
	l.checkReachability()

	return l.issues
}

func (l *linter) report(t IssueType, index int, msg string, details map[string]interface{}) {
	l.issues = append(l.issues, Issue{
		Type:    t,
		Routine: l.routine,
		Index:   index,
		Message: msg,
		Details: details,
	})
}

func (l *linter) checkArguments() {
	if l.self == nil {
		return
	}

	for i, inst := range l.insts {
		if inst.Opcode != isa.Ldarg && inst.Opcode != isa.Starg {
			continue
		}

		if n := inst.Operand.Int; n < 0 || n >= int64(l.self.Params) {
			l.report(IssueStruct, i,
				fmt.Sprintf("%s %d out of range for %d parameters", inst.Opcode, n, l.self.Params),
				map[string]interface{}{"argument": n, "params": l.self.Params})
		}
	}
}

func (l *linter) walk() {
	l.depth = make([]int, len(l.insts))
	l.seen = make([]bool, len(l.insts))

	l.visit(0, 0)

	for i, inst := range l.insts {
		for _, b := range inst.Blocks {
			switch b.Type {
			case isa.BeginCatch:
				l.visit(i, 1)
			case isa.BeginFinally:
				l.visit(i, 0)
			}
		}
	}

	for len(l.work) > 0 {
		i := l.work[len(l.work)-1]
		l.work = l.work[:len(l.work)-1]
		l.step(i)
	}
}

func (l *linter) visit(i, depth int) {
	switch {
	case !l.seen[i]:
		l.seen[i] = true
		l.depth[i] = depth
		l.work = append(l.work, i)
	case l.depth[i] == unknownDepth && depth != unknownDepth:
		l.depth[i] = depth
		l.work = append(l.work, i)
	case depth != unknownDepth && l.depth[i] != depth && !l.mismatch[i]:
		l.mismatch[i] = true
		l.report(IssueStack, i,
			fmt.Sprintf("stack depth %d on one path and %d on another", l.depth[i], depth),
			map[string]interface{}{"depths": []int{l.depth[i], depth}})
	}
}

func (l *linter) step(i int) {
	inst := l.insts[i]
	d := l.depth[i]
	next := unknownDepth

	switch inst.Opcode {
	case isa.Ret:
		l.checkReturn(i, d)
	case isa.Leave:
		next = 0
	default:
		pop, push, ok := l.effect(inst)
		if ok && d != unknownDepth {
			if d < pop {
				l.report(IssueStack, i,
					fmt.Sprintf("%s needs %d values, stack holds %d", inst.Opcode, pop, d),
					map[string]interface{}{"needs": pop, "holds": d})
			} else {
				next = d - pop + push
			}
		}
	}

	info, known := l.set.Lookup(inst.Opcode)

	if target, ok := inst.BranchTarget(); ok {
		if j, bound := l.targets[target]; bound {
			l.visit(j, next)
		}
	}

	if known && info.Terminal {
		return
	}

	if i+1 < len(l.insts) {
		l.visit(i+1, next)
		return
	}

	l.report(IssueFlow, i, "control falls off the end of the body", nil)
}

func (l *linter) checkReturn(i, d int) {
	if d == unknownDepth {
		return
	}

	want := -1
	if l.self != nil {
		want = 0
		if l.self.Returns {
			want = 1
		}
	}

	switch {
	case want >= 0 && d != want:
		l.report(IssueStack, i,
			fmt.Sprintf("ret with %d values on the stack, want %d", d, want),
			map[string]interface{}{"holds": d, "want": want})
	case want < 0 && d > 1:
		l.report(IssueStack, i,
			fmt.Sprintf("ret with %d values on the stack", d),
			map[string]interface{}{"holds": d})
	}
}

func (l *linter) checkReachability() {
	for i := 0; i < len(l.insts); {
		if l.seen[i] {
			i++
			continue
		}

		start := i
		for i < len(l.insts) && !l.seen[i] {
			i++
		}

		l.report(IssueFlow, start,
			fmt.Sprintf("%d unreachable instruction(s)", i-start),
			map[string]interface{}{"count": i - start})
	}
}

// effect gives how many values an instruction pops and pushes. ok is false
// when the effect cannot be known, such as calls to undeclared routines.
func (l *linter) effect(inst isa.Instruction) (pop, push int, ok bool) {
	switch inst.Opcode {
	case isa.Nop, isa.Br, isa.Rethrow, isa.Endfinally:
		return 0, 0, true
	case isa.Ldarg, isa.Ldloc, isa.LdcI, isa.Ldstr, isa.Ldnull:
		return 0, 1, true
	case isa.Starg, isa.Stloc, isa.Pop, isa.Brtrue, isa.Brfalse, isa.Throw:
		return 1, 0, true
	case isa.Ldfld, isa.Box, isa.Isinst, isa.Not:
		return 1, 1, true
	case isa.Stfld, isa.Beq, isa.Bne, isa.Blt, isa.Bgt:
		return 2, 0, true
	case isa.Dup:
		return 1, 2, true
	case isa.Add, isa.Sub, isa.Mul, isa.Div, isa.Rem, isa.Ceq, isa.Clt, isa.Cgt:
		return 2, 1, true
	case isa.Call, isa.Newobj:
		r, found := l.env.Lookup(inst.Operand.Str)
		if !found {
			return 0, 0, false
		}

		push = 0
		if r.Returns || inst.Opcode == isa.Newobj {
			push = 1
		}

		return r.Params, push, true
	default:
		return 0, 0, false
	}
}
