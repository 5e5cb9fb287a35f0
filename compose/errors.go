package compose

import (
	"errors"
	"fmt"

	"github.com/sarchlab/splice/fragment"
)

var (
	// ErrNoBody is returned when a plan needs a decoded body the target
	// does not have.
	ErrNoBody = errors.New("target has no decoded body")
	// ErrNotExecutable is returned when a routine is created from a plan
	// without an executable body.
	ErrNotExecutable = errors.New("plan has no executable body")
)

// ShapeMismatch reports a fragment whose declared shape does not fit the
// target it is registered against.
type ShapeMismatch struct {
	Target   string
	Fragment string
	Kind     fragment.Kind
	Expected string
	Found    string
}

func (e *ShapeMismatch) Error() string {
	return fmt.Sprintf("shape mismatch in %s fragment %s of %s: expected %s, found %s",
		e.Kind, e.Fragment, e.Target, e.Expected, e.Found)
}

// TranspileError wraps a failure of one Replace fragment.
type TranspileError struct {
	Target   string
	Fragment string
	Err      error
}

func (e *TranspileError) Error() string {
	return fmt.Sprintf("transpiler %s of %s: %v", e.Fragment, e.Target, e.Err)
}

func (e *TranspileError) Unwrap() error {
	return e.Err
}

// PanicError is a panic raised by fragment or body code, turned into an
// exception of the synthesized routine.
type PanicError struct {
	Source string
	Value  any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Source, e.Value)
}

// Unwrap exposes panics raised with an error value.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// ArityError reports an invocation with the wrong number of arguments.
type ArityError struct {
	Target string
	Want   int
	Got    int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s takes %d arguments, got %d", e.Target, e.Want, e.Got)
}
