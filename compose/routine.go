package compose

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/akita/v4/sim"
	"go.uber.org/zap"

	"github.com/sarchlab/splice/fragment"
)

// HookPosPrefix marks a prefix about to run.
var HookPosPrefix = &sim.HookPos{Name: "Prefix"}

// HookPosSkip marks a gating prefix that stopped execution.
var HookPosSkip = &sim.HookPos{Name: "Skip"}

// HookPosBody marks the body about to run.
var HookPosBody = &sim.HookPos{Name: "Body"}

// HookPosPostfix marks a postfix about to run.
var HookPosPostfix = &sim.HookPos{Name: "Postfix"}

// HookPosFinalizer marks a finalizer about to run.
var HookPosFinalizer = &sim.HookPos{Name: "Finalizer"}

// HookPosFinalizerFailed marks a finalizer failure caught on the exception
// path.
var HookPosFinalizerFailed = &sim.HookPos{Name: "Finalizer Failed"}

// HookPosRaise marks an exception leaving the routine.
var HookPosRaise = &sim.HookPos{Name: "Raise"}

// HookPosDeliver marks a result leaving the routine.
var HookPosDeliver = &sim.HookPos{Name: "Deliver"}

// Event is the hook item of a Routine.
type Event struct {
	Invocation uint64
	Fragment   string
	Result     any
	Exception  error
}

type finalState int

const (
	notYetFinalized finalState = iota
	finalized
)

// Routine runs a plan. It is safe for concurrent invocation.
type Routine struct {
	*sim.HookableBase

	plan *Plan
	log  *zap.Logger
	seq  atomic.Uint64
}

// NewRoutine creates the executable form of a plan.
func NewRoutine(plan *Plan, log *zap.Logger) (*Routine, error) {
	if plan.Invoke == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotExecutable, plan.Target)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Routine{
		HookableBase: sim.NewHookableBase(),
		plan:         plan,
		log:          log.Named("routine").With(zap.String("target", plan.Target)),
	}, nil
}

// Plan returns the plan the routine runs.
func (r *Routine) Plan() *Plan {
	return r.plan
}

// Invoke runs the synthesized routine. A non-nil error is the exception the
// routine raised.
func (r *Routine) Invoke(args ...any) (any, error) {
	p := r.plan

	if len(args) != len(p.Signature.Params) {
		return nil, &ArityError{Target: p.Target, Want: len(p.Signature.Params), Got: len(args)}
	}

	fr := newFrame(p.Target, args, r.seq.Add(1))

	thrown := r.protected(fr)

	if !p.Protected() {
		return r.deliver(fr, thrown)
	}

	return r.finalize(fr, thrown)
}

func (r *Routine) protected(fr *frame) error {
	p := r.plan

	for _, f := range p.Prefixes {
		r.hook(HookPosPrefix, fr, f.ID())

		ret, err := r.call(f, fr)
		if err != nil {
			return err
		}

		if f.Shape.Returns != fragment.ReturnBool {
			continue
		}

		proceed, ok := ret.(bool)
		if !ok {
			return fmt.Errorf("gating prefix %s returned %T, want bool", f.ID(), ret)
		}

		if !proceed {
			fr.runOriginal = false
			r.hook(HookPosSkip, fr, f.ID())

			return nil
		}
	}

	r.hook(HookPosBody, fr, "")

	result, err := r.body(fr)
	if err != nil {
		return err
	}

	if !p.Signature.IsVoid() {
		fr.result = result
	}

	for _, f := range p.Postfixes {
		r.hook(HookPosPostfix, fr, f.ID())

		ret, err := r.call(f, fr)
		if err != nil {
			return err
		}

		if f.Shape.Returns == fragment.ReturnResult {
			fr.result = ret
		}
	}

	return nil
}

// finalize runs the finalizer chain exactly once to completion. The first
// pass runs with no exception; a finalizer failing there restarts the chain
// on the exception path, where each failure is caught locally.
func (r *Routine) finalize(fr *frame, thrown error) (any, error) {
	p := r.plan
	state := notYetFinalized

	if thrown == nil {
		fr.exception = nil

		for _, f := range p.Finalizers {
			r.hook(HookPosFinalizer, fr, f.ID())

			ret, err := r.call(f, fr)
			if err != nil {
				thrown = err
				break
			}

			if f.Shape.Returns == fragment.ReturnException {
				fr.exception = asException(f, ret)
			}
		}

		if thrown == nil {
			state = finalized
			thrown = fr.exception
		}
	}

	if thrown == nil {
		return r.deliver(fr, nil)
	}

	fr.exception = thrown

	if state == notYetFinalized {
		for _, f := range p.Finalizers {
			r.hook(HookPosFinalizer, fr, f.ID())

			ret, err := r.call(f, fr)
			if err != nil {
				r.log.Debug("finalizer failed on the exception path",
					zap.String("fragment", f.ID()), zap.Error(err))
				r.hook(HookPosFinalizerFailed, fr, f.ID())

				continue
			}

			if f.Shape.Returns == fragment.ReturnException {
				fr.exception = asException(f, ret)
			}
		}
	}

	if fr.exception == nil {
		return r.deliver(fr, nil)
	}

	if p.RethrowAlways {
		return r.deliver(fr, thrown)
	}

	return r.deliver(fr, fr.exception)
}

func (r *Routine) deliver(fr *frame, exception error) (any, error) {
	if exception != nil {
		fr.exception = exception
		r.hook(HookPosRaise, fr, "")

		return nil, exception
	}

	r.hook(HookPosDeliver, fr, "")

	return fr.result, nil
}

func (r *Routine) body(fr *frame) (result any, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Source: r.plan.Target, Value: v}
		}
	}()

	return r.plan.Invoke(fr.args)
}

func (r *Routine) call(f fragment.Fragment, fr *frame) (ret any, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Source: f.ID(), Value: v}
		}
	}()

	return f.Invoke(&view{frame: fr, fragment: f})
}

func (r *Routine) hook(pos *sim.HookPos, fr *frame, fragmentID string) {
	if r.NumHooks() == 0 {
		return
	}

	r.InvokeHook(sim.HookCtx{
		Domain: r,
		Pos:    pos,
		Item: Event{
			Invocation: fr.id,
			Fragment:   fragmentID,
			Result:     fr.result,
			Exception:  fr.exception,
		},
	})
}

func asException(f fragment.Fragment, ret any) error {
	switch v := ret.(type) {
	case nil:
		return nil
	case error:
		return v
	default:
		return fmt.Errorf("finalizer %s returned %T, want error", f.ID(), ret)
	}
}
