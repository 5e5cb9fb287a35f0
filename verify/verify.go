// Package verify provides debugging tools for decoded routine bodies and the
// plans composed around them.
//
// This package implements two complementary verification stages:
//
// 1. Static Lint (lint.go): Fast structural and stack checks
//   - STRUCT checks: unknown opcodes, operand kinds, label resolution,
//     unbalanced exception regions
//   - FLOW checks: unreachable instructions, control falling off the end
//   - STACK checks: evaluation stack underflow and inconsistent depths at
//     branch joins
//
// 2. Functional Simulator (funcsim.go): Lightweight stack-machine interpreter
//   - Executes a Sequence over the default opcode table
//   - Honors labels, branches and .try/.catch regions
//   - Doubles as the compile step of a compose.Target, so a transpiled body
//     can be run without a real encoder
//
// # Environment
//
// Env names the routines a body may call. Each entry gives the arity used
// by the stack checks and the implementation the simulator calls:
//
//	env := verify.NewEnv().
//	    Define("Strings.Upper", verify.Routine{Params: 1, Returns: true, Invoke: upper})
//
// # Value Model
//
//   - ldc.i pushes int64, ldstr pushes string, ldnull pushes nil
//   - ceq, clt and cgt push bool
//   - brtrue treats nil, false and zero as false and anything else as true
//   - add concatenates strings and adds int64
//   - ldfld and stfld work on map[string]any objects
//   - throw raises the popped error (any other value is wrapped)
//
// # Usage Example
//
//	seq := isa.MustParse(listing)
//	issues := verify.RunLint(map[string]*isa.Sequence{"Counter.Run": seq}, env)
//	for _, issue := range issues {
//	    log.Printf("[%s] %s@%d: %s", issue.Type, issue.Routine, issue.Index, issue.Message)
//	}
//
//	fs := verify.NewFunctionalSimulator(seq, env)
//	result, err := fs.Run(int64(3))
//
// # Limitations
//
// - .finally handlers are not executed
// - Catch types are not filtered: every handler catches every error
// - Fragment calls in emitted listings need stubs in the Env
package verify

import (
	"fmt"
	"sort"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/fragment"
)

// IssueType categorizes lint issues
type IssueType string

const (
	IssueStruct IssueType = "STRUCT" // Label, operand or region defect
	IssueFlow   IssueType = "FLOW"   // Unreachable code, missing terminator
	IssueStack  IssueType = "STACK"  // Underflow or depth mismatch
)

// Issue represents a single lint issue
type Issue struct {
	Type    IssueType
	Routine string // Routine the sequence belongs to
	Index   int    // Instruction index or -1
	Message string
	Details map[string]interface{}
}

func (i Issue) String() string {
	if i.Index < 0 {
		return fmt.Sprintf("[%s] %s: %s", i.Type, i.Routine, i.Message)
	}

	return fmt.Sprintf("[%s] %s@%d: %s", i.Type, i.Routine, i.Index, i.Message)
}

// Routine describes a callable routine.
type Routine struct {
	Params  int
	Returns bool
	Invoke  compose.BodyFunc
}

// Env is the table of routines a body may call.
type Env struct {
	routines map[string]Routine
	MaxSteps int
}

// DefaultMaxSteps bounds a single simulated invocation.
const DefaultMaxSteps = 100000

// NewEnv creates an empty environment.
func NewEnv() *Env {
	return &Env{
		routines: make(map[string]Routine),
		MaxSteps: DefaultMaxSteps,
	}
}

// Define adds or replaces a routine.
func (e *Env) Define(name string, r Routine) *Env {
	e.routines[name] = r
	return e
}

// DefineTarget adds the arity of a target routine, with an optional
// implementation.
func (e *Env) DefineTarget(name string, sig compose.Signature, invoke compose.BodyFunc) *Env {
	return e.Define(name, Routine{
		Params:  len(sig.Params),
		Returns: !sig.IsVoid(),
		Invoke:  invoke,
	})
}

// DefinePlan adds the arity of every fragment call an emitted listing of the
// plan makes. The fragments have no implementation.
func (e *Env) DefinePlan(plan *compose.Plan) *Env {
	e.DefineTarget(plan.Target, plan.Signature, plan.Invoke)

	all := [][]fragment.Fragment{plan.Prefixes, plan.Postfixes, plan.Finalizers}
	for _, group := range all {
		for _, f := range group {
			e.Define(f.ID(), FragmentArity(f))
		}
	}

	return e
}

// Lookup returns a routine by name.
func (e *Env) Lookup(name string) (Routine, bool) {
	r, ok := e.routines[name]
	return r, ok
}

// Names lists the routines in lexical order.
func (e *Env) Names() []string {
	names := make([]string, 0, len(e.routines))
	for n := range e.routines {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// FragmentArity gives the stack effect of calling a fragment from an
// emitted listing: pass-through and exception-returning fragments take the
// value they replace, gating prefixes push their verdict.
func FragmentArity(f fragment.Fragment) Routine {
	switch f.Shape.Returns {
	case fragment.ReturnResult, fragment.ReturnException:
		return Routine{Params: 1, Returns: true}
	case fragment.ReturnBool:
		return Routine{Returns: true}
	default:
		return Routine{}
	}
}

// Clone copies the environment. A nil environment clones to an empty one.
func (e *Env) Clone() *Env {
	c := NewEnv()
	if e == nil {
		return c
	}

	c.MaxSteps = e.MaxSteps
	for n, r := range e.routines {
		c.routines[n] = r
	}

	return c
}
