package compose

import (
	"fmt"

	"github.com/sarchlab/splice/fragment"
)

// frame is the state of one invocation.
type frame struct {
	id          uint64
	target      string
	args        []any
	result      any
	exception   error
	runOriginal bool
	state       map[string]any
}

func newFrame(target string, args []any, id uint64) *frame {
	return &frame{
		id:          id,
		target:      target,
		args:        append([]any(nil), args...),
		runOriginal: true,
		state:       make(map[string]any),
	}
}

// view is what one fragment sees of a frame. Writes are limited to the
// parameters the fragment declares by reference.
type view struct {
	frame    *frame
	fragment fragment.Fragment
}

func (v *view) Target() string {
	return v.frame.target
}

func (v *view) Arg(i int) any {
	if i < 0 || i >= len(v.frame.args) {
		return nil
	}

	return v.frame.args[i]
}

func (v *view) SetArg(i int, value any) error {
	if !v.fragment.Shape.Writes(fragment.ParamArgument, i) {
		return fmt.Errorf("%s sets argument %d: %w", v.fragment.ID(), i, fragment.ErrUndeclared)
	}

	v.frame.args[i] = value

	return nil
}

func (v *view) Result() any {
	return v.frame.result
}

func (v *view) SetResult(value any) error {
	if !v.fragment.Shape.Writes(fragment.ParamResult, 0) {
		return fmt.Errorf("%s sets the result: %w", v.fragment.ID(), fragment.ErrUndeclared)
	}

	v.frame.result = value

	return nil
}

func (v *view) Exception() error {
	return v.frame.exception
}

func (v *view) RunOriginal() bool {
	return v.frame.runOriginal
}

func (v *view) State() any {
	return v.frame.state[v.fragment.Owner]
}

func (v *view) SetState(value any) error {
	if _, ok := v.fragment.Shape.Declares(fragment.ParamState, 0); !ok {
		return fmt.Errorf("%s sets state: %w", v.fragment.ID(), fragment.ErrUndeclared)
	}

	v.frame.state[v.fragment.Owner] = value

	return nil
}
