package manifest

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sarchlab/splice/verify"
)

type builtin func(log *zap.Logger) verify.Routine

var builtins = map[string]builtin{
	"upper": stringFunc(strings.ToUpper),
	"lower": stringFunc(strings.ToLower),
	"trim":  stringFunc(strings.TrimSpace),
	"concat": func(*zap.Logger) verify.Routine {
		return verify.Routine{Params: 2, Returns: true, Invoke: func(args []any) (any, error) {
			return fmt.Sprint(args[0]) + fmt.Sprint(args[1]), nil
		}}
	},
	"len": func(*zap.Logger) verify.Routine {
		return verify.Routine{Params: 1, Returns: true, Invoke: func(args []any) (any, error) {
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("len of %T", args[0])
			}
			return int64(len(s)), nil
		}}
	},
	"print": func(log *zap.Logger) verify.Routine {
		return verify.Routine{Params: 1, Invoke: func(args []any) (any, error) {
			log.Info("print", zap.Any("value", args[0]))
			return nil, nil
		}}
	},
}

func stringFunc(f func(string) string) builtin {
	return func(*zap.Logger) verify.Routine {
		return verify.Routine{Params: 1, Returns: true, Invoke: func(args []any) (any, error) {
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("string argument expected, got %T", args[0])
			}
			return f(s), nil
		}}
	}
}
