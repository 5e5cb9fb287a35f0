package compose

import (
	"fmt"
	"strings"

	"github.com/sarchlab/splice/isa"
)

// Parameter is one declared parameter of a target routine.
type Parameter struct {
	Name  string
	Type  string
	ByRef bool
}

// Signature is the calling shape of a target routine. An empty Result
// means the routine returns nothing.
type Signature struct {
	Params []Parameter
	Result string
}

// IsVoid reports whether the routine returns nothing.
func (s Signature) IsVoid() bool {
	return s.Result == ""
}

func (s Signature) String() string {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = p.Type
		if p.ByRef {
			params[i] = "ref " + params[i]
		}
	}

	result := s.Result
	if result == "" {
		result = "void"
	}

	return fmt.Sprintf("(%s) -> %s", strings.Join(params, ", "), result)
}

// BodyFunc is an executable routine body. It receives the arguments in
// declaration order.
type BodyFunc func(args []any) (any, error)

// CompileFunc turns a decoded body into something executable. It stands in
// for the encoder of the host runtime.
type CompileFunc func(body *isa.Sequence) (BodyFunc, error)

// Target is a routine that fragments intercept.
type Target struct {
	Name      string
	Signature Signature

	// Body is the decoded body. It is required when Replace fragments
	// exist and is never modified; transpilers work on a copy.
	Body *isa.Sequence

	// Invoke runs the original body.
	Invoke BodyFunc

	// Compile executes a transpiled body.
	Compile CompileFunc
}
