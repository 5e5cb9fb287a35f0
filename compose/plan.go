package compose

import (
	"github.com/google/uuid"

	"github.com/sarchlab/splice/fragment"
	"github.com/sarchlab/splice/isa"
)

// StepKind classifies a plan step.
type StepKind int

const (
	StepProtect StepKind = iota
	StepPrefix
	StepGate
	StepBody
	StepPostfix
	StepPassThrough
	StepFinalizer
	StepCatch
	StepDecide
	StepDeliver
)

func (k StepKind) String() string {
	switch k {
	case StepProtect:
		return "protect"
	case StepPrefix:
		return "prefix"
	case StepGate:
		return "skip-check"
	case StepBody:
		return "body"
	case StepPostfix:
		return "postfix"
	case StepPassThrough:
		return "pass-through"
	case StepFinalizer:
		return "finalizer"
	case StepCatch:
		return "catch"
	case StepDecide:
		return "decide"
	case StepDeliver:
		return "deliver"
	default:
		return "step?"
	}
}

// Step is one point of the synthesized control flow.
type Step struct {
	Kind     StepKind
	Fragment string
	Note     string
}

// Plan is the synthesized control flow of one target. A plan is immutable
// once built.
type Plan struct {
	ID        uuid.UUID
	Target    string
	Signature Signature

	Prefixes    []fragment.Fragment
	Transpilers []fragment.Fragment

	// Postfixes holds every void postfix first, then every pass-through
	// postfix, each in fragment order.
	Postfixes  []fragment.Fragment
	Finalizers []fragment.Fragment

	// RethrowAlways is set when every finalizer is void. The original
	// exception then survives the finalizers unchanged.
	RethrowAlways bool

	// Body is the decoded body after all transpilers ran, or nil when the
	// target has no decoded body.
	Body   *isa.Sequence
	Invoke BodyFunc

	Steps []Step
}

// Protected reports whether the plan wraps execution in a protected region.
func (p *Plan) Protected() bool {
	return len(p.Finalizers) > 0
}

// Gated reports whether any prefix may skip the body.
func (p *Plan) Gated() bool {
	for _, f := range p.Prefixes {
		if f.Shape.Returns == fragment.ReturnBool {
			return true
		}
	}

	return false
}

// Fragments returns the number of fragments in the plan.
func (p *Plan) Fragments() int {
	return len(p.Prefixes) + len(p.Transpilers) + len(p.Postfixes) + len(p.Finalizers)
}

func (p *Plan) buildSteps() {
	var steps []Step

	add := func(kind StepKind, f *fragment.Fragment, note string) {
		s := Step{Kind: kind, Note: note}
		if f != nil {
			s.Fragment = f.ID()
		}
		steps = append(steps, s)
	}

	if p.Protected() {
		add(StepProtect, nil, "finalizers guard prefixes, body and postfixes")
	}

	for i := range p.Prefixes {
		f := &p.Prefixes[i]
		add(StepPrefix, f, f.Shape.String())

		if f.Shape.Returns == fragment.ReturnBool {
			add(StepGate, f, "false skips the rest")
		}
	}

	bodyNote := "original"
	if len(p.Transpilers) > 0 {
		bodyNote = "transpiled"
	}
	add(StepBody, nil, bodyNote)

	for i := range p.Postfixes {
		f := &p.Postfixes[i]
		if f.Shape.Returns == fragment.ReturnResult {
			add(StepPassThrough, f, f.Shape.String())
		} else {
			add(StepPostfix, f, f.Shape.String())
		}
	}

	if p.Protected() {
		for i := range p.Finalizers {
			add(StepFinalizer, &p.Finalizers[i], "first pass")
		}

		add(StepCatch, nil, "exception path, failures caught per finalizer")

		for i := range p.Finalizers {
			add(StepFinalizer, &p.Finalizers[i], "exception path")
		}

		if p.RethrowAlways {
			add(StepDecide, nil, "rethrow original exception")
		} else {
			add(StepDecide, nil, "raise accumulated exception if any")
		}
	}

	add(StepDeliver, nil, "")

	p.Steps = steps
}
