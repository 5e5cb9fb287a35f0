package fragment

import (
	"fmt"
	"strings"
)

// ParamKind says what a declared fragment parameter binds to.
type ParamKind int

const (
	ParamArgument ParamKind = iota
	ParamResult
	ParamException
	ParamRunOriginal
	ParamState
)

func (k ParamKind) String() string {
	switch k {
	case ParamArgument:
		return "argument"
	case ParamResult:
		return "result"
	case ParamException:
		return "exception"
	case ParamRunOriginal:
		return "runOriginal"
	case ParamState:
		return "state"
	default:
		return fmt.Sprintf("param(%d)", int(k))
	}
}

// Param is one declared parameter of a fragment.
type Param struct {
	Kind  ParamKind
	Index int
	ByRef bool
	Type  string
}

func (p Param) String() string {
	var sb strings.Builder

	if p.ByRef {
		sb.WriteString("ref ")
	}

	sb.WriteString(p.Kind.String())

	if p.Kind == ParamArgument {
		fmt.Fprintf(&sb, "[%d]", p.Index)
	}

	if p.Type != "" {
		sb.WriteString(" ")
		sb.WriteString(p.Type)
	}

	return sb.String()
}

// Return is the declared return shape of a fragment.
type Return int

const (
	ReturnVoid Return = iota
	ReturnBool
	ReturnResult
	ReturnException
)

func (r Return) String() string {
	switch r {
	case ReturnVoid:
		return "void"
	case ReturnBool:
		return "bool"
	case ReturnResult:
		return "result"
	case ReturnException:
		return "exception"
	default:
		return fmt.Sprintf("return(%d)", int(r))
	}
}

// Shape is the calling shape a fragment declares. It is checked against the
// target signature when a plan is synthesized.
type Shape struct {
	Params     []Param
	Returns    Return
	ReturnType string
}

// Void declares a side-effecting fragment.
func Void(params ...Param) Shape {
	return Shape{Params: params, Returns: ReturnVoid}
}

// Gate declares a prefix whose boolean return decides whether execution
// continues.
func Gate(params ...Param) Shape {
	return Shape{Params: params, Returns: ReturnBool}
}

// PassThrough declares a postfix that receives the current result and
// returns the new one. The result parameter is implied.
func PassThrough(resultType string, params ...Param) Shape {
	all := append([]Param{{Kind: ParamResult, Type: resultType}}, params...)
	return Shape{Params: all, Returns: ReturnResult, ReturnType: resultType}
}

// ExceptionReturning declares a finalizer whose return value replaces the
// accumulated exception. The exception parameter is implied.
func ExceptionReturning(params ...Param) Shape {
	all := append([]Param{{Kind: ParamException}}, params...)
	return Shape{Params: all, Returns: ReturnException}
}

// Arg declares read access to argument i.
func Arg(i int) Param {
	return Param{Kind: ParamArgument, Index: i}
}

// ArgRef declares write access to argument i.
func ArgRef(i int) Param {
	return Param{Kind: ParamArgument, Index: i, ByRef: true}
}

// ResultRef declares write access to the result.
func ResultRef() Param {
	return Param{Kind: ParamResult, ByRef: true}
}

// Result declares read access to the result.
func Result() Param {
	return Param{Kind: ParamResult}
}

// Exception declares read access to the current exception.
func Exception() Param {
	return Param{Kind: ParamException}
}

// RunOriginal declares read access to whether the body is going to run or
// ran.
func RunOriginal() Param {
	return Param{Kind: ParamRunOriginal}
}

// State declares the per-owner state shared by the owner's fragments
// during one invocation.
func State() Param {
	return Param{Kind: ParamState, ByRef: true}
}

// Typed returns a copy of the parameter with a declared value type.
func (p Param) Typed(t string) Param {
	p.Type = t
	return p
}

// Declares reports whether the shape names a parameter of the kind. For
// arguments the index must match as well.
func (s Shape) Declares(kind ParamKind, index int) (Param, bool) {
	for _, p := range s.Params {
		if p.Kind != kind {
			continue
		}

		if kind == ParamArgument && p.Index != index {
			continue
		}

		return p, true
	}

	return Param{}, false
}

// Writes reports whether the shape declares the parameter by reference.
func (s Shape) Writes(kind ParamKind, index int) bool {
	p, ok := s.Declares(kind, index)
	return ok && p.ByRef
}

func (s Shape) String() string {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = p.String()
	}

	ret := s.Returns.String()
	if s.ReturnType != "" {
		ret += " " + s.ReturnType
	}

	return fmt.Sprintf("(%s) %s", strings.Join(params, ", "), ret)
}

func (s Shape) clone() Shape {
	c := s
	c.Params = append([]Param(nil), s.Params...)

	return c
}
