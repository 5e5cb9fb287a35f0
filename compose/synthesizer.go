// Package compose turns the fragments registered against one target into a
// plan and runs that plan as the synthesized replacement routine.
package compose

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sarchlab/splice/fragment"
	"github.com/sarchlab/splice/matcher"
)

// Synthesizer builds plans.
type Synthesizer struct {
	log *zap.Logger
}

// SynthesizerBuilder creates synthesizers.
type SynthesizerBuilder struct {
	log *zap.Logger
}

// MakeSynthesizerBuilder creates a builder with a no-op logger.
func MakeSynthesizerBuilder() SynthesizerBuilder {
	return SynthesizerBuilder{log: zap.NewNop()}
}

// WithLogger sets the logger.
func (b SynthesizerBuilder) WithLogger(log *zap.Logger) SynthesizerBuilder {
	b.log = log
	return b
}

// Build creates the synthesizer.
func (b SynthesizerBuilder) Build() *Synthesizer {
	log := b.log
	if log == nil {
		log = zap.NewNop()
	}

	return &Synthesizer{log: log.Named("compose")}
}

// Synthesize orders the snapshot, checks every fragment shape against the
// target and runs the transpilers over a copy of the body. All ordering
// conflicts and shape mismatches are reported together.
func (s *Synthesizer) Synthesize(target Target, snap fragment.Snapshot) (*Plan, error) {
	if snap.Target != "" && snap.Target != target.Name {
		return nil, fmt.Errorf("fragments of %s cannot be composed into %s", snap.Target, target.Name)
	}

	plan := &Plan{
		ID:        uuid.New(),
		Target:    target.Name,
		Signature: target.Signature,
	}

	var err error

	ordered := make(map[fragment.Kind][]fragment.Fragment)

	for _, kind := range fragment.Kinds() {
		fs, orderErr := snap.Order(kind)
		if orderErr != nil {
			err = multierr.Append(err, orderErr)
			continue
		}

		for _, f := range fs {
			err = multierr.Append(err, checkShape(target, f))
		}

		ordered[kind] = fs
	}

	if err != nil {
		return nil, err
	}

	plan.Prefixes = ordered[fragment.Prefix]
	plan.Transpilers = ordered[fragment.Replace]
	plan.Postfixes = splitPostfixes(ordered[fragment.Postfix])
	plan.Finalizers = ordered[fragment.Finalizer]
	plan.RethrowAlways = allVoid(plan.Finalizers)

	if err := s.transpile(target, plan); err != nil {
		return nil, err
	}

	plan.buildSteps()

	s.log.Debug("plan synthesized",
		zap.String("target", plan.Target),
		zap.Stringer("plan", plan.ID),
		zap.Int("prefixes", len(plan.Prefixes)),
		zap.Int("postfixes", len(plan.Postfixes)),
		zap.Int("transpilers", len(plan.Transpilers)),
		zap.Int("finalizers", len(plan.Finalizers)))

	return plan, nil
}

func (s *Synthesizer) transpile(target Target, plan *Plan) error {
	if target.Body != nil {
		plan.Body = target.Body.Clone()
	}

	if len(plan.Transpilers) == 0 {
		plan.Invoke = target.Invoke
		if plan.Invoke == nil && plan.Body != nil && target.Compile != nil {
			invoke, err := target.Compile(plan.Body)
			if err != nil {
				return fmt.Errorf("compile %s: %w", target.Name, err)
			}
			plan.Invoke = invoke
		}

		return nil
	}

	if plan.Body == nil {
		return fmt.Errorf("%w: %s has %d transpilers", ErrNoBody, target.Name, len(plan.Transpilers))
	}

	for _, f := range plan.Transpilers {
		m := matcher.New(plan.Body).WithLogger(s.log.With(zap.String("fragment", f.ID())))

		if err := runTranspiler(f, m); err != nil {
			return &TranspileError{Target: target.Name, Fragment: f.ID(), Err: err}
		}

		s.log.Debug("transpiler applied",
			zap.String("target", target.Name),
			zap.String("owner", f.Owner),
			zap.Int("instructions", plan.Body.Len()))
	}

	if err := plan.Body.Validate(); err != nil {
		return fmt.Errorf("transpiled body of %s: %w", target.Name, err)
	}

	if target.Compile == nil {
		return fmt.Errorf("%w: %s has a transpiled body but no compiler", ErrNotExecutable, target.Name)
	}

	invoke, err := target.Compile(plan.Body)
	if err != nil {
		return fmt.Errorf("compile transpiled %s: %w", target.Name, err)
	}

	plan.Invoke = invoke

	return nil
}

func runTranspiler(f fragment.Fragment, m *matcher.Matcher) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Source: f.ID(), Value: r}
		}
	}()

	return f.Transpile(m)
}

func checkShape(target Target, f fragment.Fragment) error {
	if f.Kind == fragment.Replace {
		return nil
	}

	sig := target.Signature
	mismatch := func(expected, found string) error {
		return &ShapeMismatch{
			Target:   target.Name,
			Fragment: f.ID(),
			Kind:     f.Kind,
			Expected: expected,
			Found:    found,
		}
	}

	var err error

	for _, p := range f.Shape.Params {
		switch p.Kind {
		case fragment.ParamArgument:
			if p.Index < 0 || p.Index >= len(sig.Params) {
				err = multierr.Append(err, mismatch(
					fmt.Sprintf("argument index below %d", len(sig.Params)), p.String()))
				continue
			}

			if p.Type != "" && p.Type != sig.Params[p.Index].Type {
				err = multierr.Append(err, mismatch(
					fmt.Sprintf("argument[%d] %s", p.Index, sig.Params[p.Index].Type), p.String()))
			}
		case fragment.ParamResult:
			if sig.IsVoid() {
				err = multierr.Append(err, mismatch("no result parameter on a void target", p.String()))
				continue
			}

			if p.Type != "" && p.Type != sig.Result {
				err = multierr.Append(err, mismatch("result "+sig.Result, p.String()))
			}
		case fragment.ParamException:
			if f.Kind == fragment.Prefix {
				err = multierr.Append(err, mismatch("no exception parameter on a prefix", p.String()))
			}
		}
	}

	return multierr.Append(err, checkReturn(f, sig, mismatch))
}

func checkReturn(f fragment.Fragment, sig Signature, mismatch func(string, string) error) error {
	ret := f.Shape.Returns

	switch f.Kind {
	case fragment.Prefix:
		if ret != fragment.ReturnVoid && ret != fragment.ReturnBool {
			return mismatch("void or bool return", ret.String())
		}
	case fragment.Postfix:
		switch ret {
		case fragment.ReturnVoid:
		case fragment.ReturnResult:
			if sig.IsVoid() {
				return mismatch("void return on a void target", ret.String())
			}

			if f.Shape.ReturnType != sig.Result {
				return mismatch("pass-through of "+sig.Result, f.Shape.String())
			}

			if len(f.Shape.Params) == 0 ||
				f.Shape.Params[0].Kind != fragment.ParamResult || f.Shape.Params[0].ByRef {
				return mismatch("result by value as first parameter", f.Shape.String())
			}
		default:
			return mismatch("void or result return", ret.String())
		}
	case fragment.Finalizer:
		if ret != fragment.ReturnVoid && ret != fragment.ReturnException {
			return mismatch("void or exception return", ret.String())
		}
	}

	return nil
}

func splitPostfixes(ordered []fragment.Fragment) []fragment.Fragment {
	out := make([]fragment.Fragment, 0, len(ordered))

	for _, f := range ordered {
		if f.Shape.Returns != fragment.ReturnResult {
			out = append(out, f)
		}
	}

	for _, f := range ordered {
		if f.Shape.Returns == fragment.ReturnResult {
			out = append(out, f)
		}
	}

	return out
}

func allVoid(finalizers []fragment.Fragment) bool {
	for _, f := range finalizers {
		if f.Shape.Returns != fragment.ReturnVoid {
			return false
		}
	}

	return true
}
