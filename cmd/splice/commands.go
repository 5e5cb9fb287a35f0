package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/config"
	"github.com/sarchlab/splice/isa"
	"github.com/sarchlab/splice/manifest"
	"github.com/sarchlab/splice/verify"
)

var reportDir string

var planCmd = &cobra.Command{
	Use:   "plan MANIFEST [TARGET...]",
	Short: "Print the composition plan of targets",
	Long: `Orders the fragments of every target and prints the steps of the
synthesized routine. Without TARGET arguments every target is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := load(args[0])
		if err != nil {
			return err
		}

		for _, name := range targets(s, args[1:]) {
			plan, ok := s.Registry.Plan(name)
			if !ok {
				return fmt.Errorf("no plan for %q", name)
			}

			fmt.Fprintln(cmd.OutOrStdout(), verify.StepsTable(plan))
		}

		return nil
	},
}

var emitCmd = &cobra.Command{
	Use:   "emit MANIFEST TARGET",
	Short: "Print the synthesized routine of a target as a listing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := load(args[0])
		if err != nil {
			return err
		}

		plan, ok := s.Registry.Plan(args[1])
		if !ok {
			return fmt.Errorf("no plan for %q", args[1])
		}

		seq, err := compose.Emit(plan)
		if err != nil {
			return err
		}

		fmt.Fprint(cmd.OutOrStdout(), isa.Format(seq.Instructions()))

		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run MANIFEST",
	Short: "Perform the invocations of a manifest",
	Long: `Performs every invocation listed in the manifest against the composed
targets and checks the expected results and errors. With --report, a
verification report per target is written to the given directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := load(args[0])
		if err != nil {
			return err
		}

		outcomes := s.Run()
		fmt.Fprintln(cmd.OutOrStdout(), outcomesTable(outcomes))

		if reportDir != "" {
			if err := writeReports(s, reportDir); err != nil {
				return err
			}
		}

		failed := 0
		for _, o := range outcomes {
			if !o.OK() {
				failed++
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d invocation(s) failed", failed, len(outcomes))
		}

		return nil
	},
}

var lintCmd = &cobra.Command{
	Use:   "lint MANIFEST",
	Short: "Check target listings and synthesized routines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := load(args[0])
		if err != nil {
			return err
		}

		issues := lint(s)
		if len(issues) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No lint issues found")
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), verify.IssuesTable(issues))

		return fmt.Errorf("%d lint issue(s)", len(issues))
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := config.Dump(cfg)
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(data)

		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&reportDir, "report", "", "Directory for per-target verification reports")
}

// targets returns the requested target names, or every target.
func targets(s *manifest.Session, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}

	return s.Registry.Targets()
}

func lint(s *manifest.Session) []verify.Issue {
	issues := verify.RunLint(s.Bodies(), s.Env)

	for _, name := range s.Registry.Targets() {
		plan, ok := s.Registry.Plan(name)
		if !ok {
			continue
		}

		issues = append(issues, verify.LintPlan(plan, s.Env)...)
	}

	return issues
}

func outcomesTable(outcomes []manifest.Outcome) string {
	t := table.NewWriter()
	t.SetTitle("Invocations")
	t.AppendHeader(table.Row{"#", "Target", "Args", "Result", "Error", "Status"})

	for i, o := range outcomes {
		status := "ok"
		if !o.OK() {
			status = o.Problem
		}

		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}

		t.AppendRow(table.Row{i, o.Invocation.Target, fmt.Sprint(o.Invocation.Args), o.Result, errText, status})
	}

	return t.Render()
}

func writeReports(s *manifest.Session, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var err error

	for _, name := range s.Registry.Targets() {
		plan, ok := s.Registry.Plan(name)
		if !ok {
			continue
		}

		report := verify.GenerateReport(plan, s.Env, s.Calls(name))
		path := filepath.Join(dir, name+".report.txt")

		if saveErr := report.SaveReportToFile(path); saveErr != nil {
			err = multierr.Append(err, saveErr)
			continue
		}

		log.Info("report written", zap.String("target", name), zap.String("path", path))
	}

	return err
}
