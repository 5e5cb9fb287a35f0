package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/fragment"
	"github.com/sarchlab/splice/verify"
)

// catalogEntry builds the code and shape of one catalog entry.
type catalogEntry struct {
	kinds []fragment.Kind
	build func(b Behavior, sig compose.Signature, log *zap.Logger) (fragment.Func, fragment.Shape, error)
}

var behaviors = map[string]catalogEntry{
	"log": {
		kinds: []fragment.Kind{fragment.Prefix, fragment.Postfix, fragment.Finalizer},
		build: logBehavior,
	},
	"skip": {
		kinds: []fragment.Kind{fragment.Prefix},
		build: skipBehavior,
	},
	"skip-if": {
		kinds: []fragment.Kind{fragment.Prefix},
		build: skipIfBehavior,
	},
	"set-arg": {
		kinds: []fragment.Kind{fragment.Prefix},
		build: setArgBehavior,
	},
	"set-result": {
		kinds: []fragment.Kind{fragment.Postfix},
		build: passThrough(func(_ any, v any) (any, error) { return v, nil }),
	},
	"upper": {
		kinds: []fragment.Kind{fragment.Postfix},
		build: passThrough(func(result any, _ any) (any, error) {
			s, ok := result.(string)
			if !ok {
				return nil, fmt.Errorf("upper: result is %T, want string", result)
			}
			return strings.ToUpper(s), nil
		}),
	},
	"prepend": {
		kinds: []fragment.Kind{fragment.Postfix},
		build: passThrough(func(result any, v any) (any, error) {
			return fmt.Sprint(v) + fmt.Sprint(result), nil
		}),
	},
	"append": {
		kinds: []fragment.Kind{fragment.Postfix},
		build: passThrough(func(result any, v any) (any, error) {
			return fmt.Sprint(result) + fmt.Sprint(v), nil
		}),
	},
	"throw": {
		kinds: []fragment.Kind{fragment.Prefix, fragment.Postfix, fragment.Finalizer},
		build: throwBehavior,
	},
	"wrap-exception": {
		kinds: []fragment.Kind{fragment.Finalizer},
		build: wrapBehavior,
	},
	"swallow": {
		kinds: []fragment.Kind{fragment.Finalizer},
		build: swallowBehavior,
	},
}

// Behaviors lists the catalog in lexical order.
func Behaviors() []string {
	names := make([]string, 0, len(behaviors))
	for n := range behaviors {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Build returns the code and shape of a catalog behavior for a fragment of
// the given kind attached to a target with the given signature.
func (b Behavior) Build(kind fragment.Kind, sig compose.Signature, log *zap.Logger) (
	fragment.Func, fragment.Shape, error,
) {
	entry, ok := behaviors[b.Type]
	if !ok {
		return nil, fragment.Shape{}, fmt.Errorf("unknown behavior %q", b.Type)
	}

	allowed := false
	for _, k := range entry.kinds {
		allowed = allowed || k == kind
	}

	if !allowed {
		return nil, fragment.Shape{}, fmt.Errorf("behavior %q cannot be a %s", b.Type, kind)
	}

	if log == nil {
		log = zap.NewNop()
	}

	b.Value = normalize(b.Value)

	return entry.build(b, sig, log)
}

func logBehavior(_ Behavior, sig compose.Signature, log *zap.Logger) (fragment.Func, fragment.Shape, error) {
	params := []fragment.Param{fragment.RunOriginal()}
	if !sig.IsVoid() {
		params = append(params, fragment.Result())
	}

	invoke := func(c fragment.Call) (any, error) {
		fields := []zap.Field{
			zap.String("target", c.Target()),
			zap.Bool("run_original", c.RunOriginal()),
		}

		if !sig.IsVoid() {
			fields = append(fields, zap.Any("result", c.Result()))
		}

		log.Info("fragment ran", fields...)

		return nil, nil
	}

	return invoke, fragment.Void(params...), nil
}

func skipBehavior(b Behavior, sig compose.Signature, _ *zap.Logger) (fragment.Func, fragment.Shape, error) {
	if b.Value == nil {
		return func(fragment.Call) (any, error) { return false, nil }, fragment.Gate(), nil
	}

	if sig.IsVoid() {
		return nil, fragment.Shape{}, errors.New("skip: value given for a void target")
	}

	invoke := func(c fragment.Call) (any, error) {
		if err := c.SetResult(b.Value); err != nil {
			return nil, err
		}

		return false, nil
	}

	return invoke, fragment.Gate(fragment.ResultRef()), nil
}

func skipIfBehavior(b Behavior, sig compose.Signature, _ *zap.Logger) (fragment.Func, fragment.Shape, error) {
	if b.Arg >= len(sig.Params) {
		return nil, fragment.Shape{}, fmt.Errorf("skip-if: argument %d out of range", b.Arg)
	}

	invoke := func(c fragment.Call) (any, error) {
		return fmt.Sprint(c.Arg(b.Arg)) != fmt.Sprint(b.Value), nil
	}

	return invoke, fragment.Gate(fragment.Arg(b.Arg)), nil
}

func setArgBehavior(b Behavior, sig compose.Signature, _ *zap.Logger) (fragment.Func, fragment.Shape, error) {
	if b.Arg >= len(sig.Params) {
		return nil, fragment.Shape{}, fmt.Errorf("set-arg: argument %d out of range", b.Arg)
	}

	invoke := func(c fragment.Call) (any, error) {
		return nil, c.SetArg(b.Arg, b.Value)
	}

	return invoke, fragment.Void(fragment.ArgRef(b.Arg)), nil
}

func passThrough(transform func(result, value any) (any, error)) func(
	Behavior, compose.Signature, *zap.Logger,
) (fragment.Func, fragment.Shape, error) {
	return func(b Behavior, sig compose.Signature, _ *zap.Logger) (fragment.Func, fragment.Shape, error) {
		if sig.IsVoid() {
			return nil, fragment.Shape{}, errors.New("pass-through behavior on a void target")
		}

		invoke := func(c fragment.Call) (any, error) {
			return transform(c.Result(), b.Value)
		}

		return invoke, fragment.PassThrough(sig.Result), nil
	}
}

func throwBehavior(b Behavior, _ compose.Signature, _ *zap.Logger) (fragment.Func, fragment.Shape, error) {
	message := fmt.Sprint(b.Value)
	if b.Value == nil {
		message = "thrown by fragment"
	}

	invoke := func(fragment.Call) (any, error) {
		return nil, &verify.Thrown{Value: message}
	}

	return invoke, fragment.Void(), nil
}

func wrapBehavior(b Behavior, _ compose.Signature, _ *zap.Logger) (fragment.Func, fragment.Shape, error) {
	invoke := func(c fragment.Call) (any, error) {
		exc := c.Exception()
		if exc == nil {
			return nil, nil
		}

		return fmt.Errorf("%v: %w", b.Value, exc), nil
	}

	return invoke, fragment.ExceptionReturning(), nil
}

func swallowBehavior(Behavior, compose.Signature, *zap.Logger) (fragment.Func, fragment.Shape, error) {
	invoke := func(fragment.Call) (any, error) {
		return nil, nil
	}

	return invoke, fragment.ExceptionReturning(), nil
}
