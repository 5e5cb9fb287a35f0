// Command splice composes the fragments of a patch manifest and inspects,
// runs and lints the result.
package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/config"
	"github.com/sarchlab/splice/manifest"
)

var (
	configPath string
	debug      bool
	trace      bool

	cfg  *config.Config
	log  = zap.NewNop()
	prom = prometheus.NewRegistry()
)

var rootCmd = &cobra.Command{
	Use:   "splice",
	Short: "Compose multi-owner patches of decoded routines",
	Long: `splice loads a patch manifest: targets given as instruction listings and
the prefixes, postfixes, finalizers and rewrites that owners attach to them.
It orders the fragments of every target, synthesizes one routine per target
and lets you inspect, run and lint the result.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func setup(*cobra.Command, []string) error {
	var err error

	cfg, err = config.LoadConfiguration(configPath)
	if err != nil {
		return err
	}

	if debug {
		cfg.Logging.ConsoleLogger.Level = "debug"
	}

	log, err = cfg.Logging.Prepare()
	if err != nil {
		return err
	}

	atexit.Register(func() {
		_ = log.Sync()
	})

	return nil
}

// traceHook logs every step of every composed routine.
type traceHook struct {
	log *zap.Logger
}

func (h traceHook) Func(ctx sim.HookCtx) {
	ev, ok := ctx.Item.(compose.Event)
	if !ok {
		return
	}

	h.log.Debug(ctx.Pos.Name,
		zap.Uint64("invocation", ev.Invocation),
		zap.String("fragment", ev.Fragment),
		zap.Any("result", ev.Result),
		zap.NamedError("exception", ev.Exception))
}

// load builds a registry from the configuration and loads the manifest at
// path into it.
func load(path string) (*manifest.Session, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}

	b := cfg.RegistryBuilder(prom).WithLogger(log)
	if trace {
		b = b.WithRoutineHook(traceHook{log: log.Named("trace")})
	}

	return m.Load(b.Build(), cfg.Env(), log)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (default: built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Log at debug level on the console")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "Log every step of every composed routine (with --debug)")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
