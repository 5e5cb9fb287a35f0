package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/fragment"
	"github.com/sarchlab/splice/manifest"
)

var (
	metricsAddr string
	settle      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch MANIFEST",
	Short: "Re-plan and re-run a manifest whenever it changes",
	Long: `Loads the manifest, runs its invocations and keeps watching the file.
Every change is loaded into a fresh registry; targets whose fragment order
changed are reported, and the invocations run again. A manifest that fails
to load leaves the previous one in effect.

With --metrics-addr the registry metrics are served over HTTP at /metrics.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if metricsAddr != "" {
			srv := serveMetrics(metricsAddr, prom)
			defer srv.Close()
		}

		w := &watcher{path: args[0], out: cmd.OutOrStdout(), log: log.Named("watch")}

		return w.run(ctx)
	},
}

func init() {
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve registry metrics on this address")
	watchCmd.Flags().DurationVar(&settle, "settle", 200*time.Millisecond, "Wait this long after the last change before reloading")
}

func serveMetrics(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	return srv
}

type watcher struct {
	path    string
	out     io.Writer
	log     *zap.Logger
	current *manifest.Session
}

func (w *watcher) run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Editors replace files on save, so the directory is watched.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.reload()

	var timer <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != filepath.Clean(w.path) ||
				!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			timer = time.After(settle)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.log.Warn("watch error", zap.Error(err))
		case <-timer:
			timer = nil
			w.reload()
		}
	}
}

func (w *watcher) reload() {
	next, err := load(w.path)
	if err != nil {
		w.log.Error("manifest not loaded, keeping the previous one", zap.Error(err))
		return
	}

	for _, name := range next.Registry.Targets() {
		plan, _ := next.Registry.Plan(name)
		w.log.Info("target planned",
			zap.String("target", name),
			zap.String("generation", plan.ID.String()),
			zap.Strings("changed", w.changedKinds(name, plan)))
	}

	w.current = next

	fmt.Fprintln(w.out, outcomesTable(next.Run()))
}

// changedKinds lists the fragment kinds of a target whose ordering input
// differs from the previously loaded manifest.
func (w *watcher) changedKinds(target string, plan *compose.Plan) []string {
	var changed []string

	var prev *compose.Plan
	if w.current != nil {
		prev, _ = w.current.Registry.Plan(target)
	}

	for _, kind := range fragment.Kinds() {
		if prev == nil || !fragment.SameGroup(group(prev, kind), group(plan, kind)) {
			changed = append(changed, kind.String())
		}
	}

	return changed
}

func group(p *compose.Plan, kind fragment.Kind) []fragment.Fragment {
	switch kind {
	case fragment.Prefix:
		return p.Prefixes
	case fragment.Postfix:
		return p.Postfixes
	case fragment.Replace:
		return p.Transpilers
	default:
		return p.Finalizers
	}
}
