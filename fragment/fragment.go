// Package fragment describes the interception code that owners register
// against a target routine and orders it deterministically.
package fragment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sarchlab/splice/matcher"
)

// Kind says where a fragment runs relative to the target body.
type Kind int

const (
	Prefix Kind = iota
	Postfix
	Replace
	Finalizer
)

// Kinds lists every fragment kind in plan order.
func Kinds() []Kind {
	return []Kind{Prefix, Postfix, Replace, Finalizer}
}

func (k Kind) String() string {
	switch k {
	case Prefix:
		return "prefix"
	case Postfix:
		return "postfix"
	case Replace:
		return "replace"
	case Finalizer:
		return "finalizer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind decodes the name produced by Kind.String. "transpiler" is
// accepted for Replace.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prefix":
		return Prefix, nil
	case "postfix":
		return Postfix, nil
	case "replace", "transpiler":
		return Replace, nil
	case "finalizer", "onexception":
		return Finalizer, nil
	default:
		return 0, fmt.Errorf("unknown fragment kind %q", s)
	}
}

func (k Kind) valid() bool {
	return k >= Prefix && k <= Finalizer
}

// Priority ranks fragments of one kind. Higher runs earlier, except for
// postfixes where higher runs later. The zero value is Unset, which Set.Add
// stores as Normal.
type Priority int

const (
	Unset            Priority = 0
	Last             Priority = 1
	VeryLow          Priority = 100
	Low              Priority = 200
	LowerThanNormal  Priority = 300
	Normal           Priority = 400
	HigherThanNormal Priority = 500
	High             Priority = 600
	VeryHigh         Priority = 700
	First            Priority = 800
)

var priorityNames = map[string]Priority{
	"last":             Last,
	"verylow":          VeryLow,
	"low":              Low,
	"lowerthannormal":  LowerThanNormal,
	"normal":           Normal,
	"higherthannormal": HigherThanNormal,
	"high":             High,
	"veryhigh":         VeryHigh,
	"first":            First,
}

// ParsePriority accepts a named priority such as "VeryHigh".
func ParsePriority(s string) (Priority, error) {
	p, ok := priorityNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown priority %q", s)
	}

	return p, nil
}

// Func is the implementation of a prefix, postfix or finalizer. The first
// return value is interpreted according to the fragment's Shape: ignored for
// void shapes, a bool for gating prefixes, the new result for pass-through
// postfixes, and the replacement exception (an error or nil) for
// exception-returning finalizers. A non-nil error means the fragment threw.
type Func func(Call) (any, error)

// TranspileFunc rewrites a copy of the target body in place. The helpers of
// package matcher, such as matcher.CallReplacer, are TranspileFuncs.
type TranspileFunc = matcher.Transpiler

// Call is the view a running fragment has of the current invocation. Writes
// are only accepted for parameters the fragment's Shape declares by
// reference.
type Call interface {
	Target() string
	Arg(i int) any
	SetArg(i int, v any) error
	Result() any
	SetResult(v any) error
	Exception() error
	RunOriginal() bool
	State() any
	SetState(v any) error
}

// ErrUndeclared is returned by Call setters for parameters the fragment did
// not declare by reference.
var ErrUndeclared = errors.New("parameter not declared by reference")

// Fragment is one owner-registered piece of interception code.
type Fragment struct {
	Kind     Kind
	Owner    string
	Name     string
	Priority Priority
	Before   []string
	After    []string

	// Index is assigned by Set.Add and never changes afterwards.
	Index int

	Shape     Shape
	Invoke    Func
	Transpile TranspileFunc
}

// New creates a fragment with Normal priority and a void shape. Replace
// fragments are created with NewTranspiler.
func New(kind Kind, owner string, invoke Func) Fragment {
	return Fragment{Kind: kind, Owner: owner, Priority: Normal, Invoke: invoke}
}

// NewTranspiler creates a Replace fragment with Normal priority.
func NewTranspiler(owner string, transpile TranspileFunc) Fragment {
	return Fragment{Kind: Replace, Owner: owner, Priority: Normal, Transpile: transpile}
}

// ID names the fragment in errors and reports.
func (f Fragment) ID() string {
	name := f.Name
	if name == "" {
		name = fmt.Sprintf("#%d", f.Index)
	}

	return fmt.Sprintf("%s/%s/%s", f.Owner, f.Kind, name)
}

// Validate checks the fields that do not depend on the target.
func (f Fragment) Validate() error {
	switch {
	case !f.Kind.valid():
		return fmt.Errorf("fragment %s: invalid kind", f.ID())
	case f.Owner == "":
		return fmt.Errorf("fragment %s: missing owner", f.ID())
	case f.Owner == AnyOwner:
		return fmt.Errorf("fragment %s: %q is not a valid owner", f.ID(), AnyOwner)
	case f.Kind == Replace && f.Transpile == nil:
		return fmt.Errorf("fragment %s: replace fragment without transpiler", f.ID())
	case f.Kind != Replace && f.Invoke == nil:
		return fmt.Errorf("fragment %s: missing implementation", f.ID())
	}

	return nil
}

func (f Fragment) clone() Fragment {
	c := f
	c.Before = append([]string(nil), f.Before...)
	c.After = append([]string(nil), f.After...)
	c.Shape = f.Shape.clone()

	return c
}
