package verify

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sarchlab/splice/compose"
)

// Invocation is one simulated call of a synthesized routine.
type Invocation struct {
	Args   []any
	Result any
	Err    error
}

// VerificationReport represents a complete verification report
type VerificationReport struct {
	Target       string
	Plan         *compose.Plan
	LintIssues   []Issue
	StructIssues []Issue
	FlowIssues   []Issue
	StackIssues  []Issue
	Invocations  []Invocation
	SimulationOK bool
}

// GenerateReport lints a plan and runs its routine once per argument list.
func GenerateReport(plan *compose.Plan, env *Env, calls [][]any) *VerificationReport {
	report := &VerificationReport{
		Target:       plan.Target,
		Plan:         plan,
		SimulationOK: true,
	}

	report.LintIssues = LintPlan(plan, env)

	for _, issue := range report.LintIssues {
		switch issue.Type {
		case IssueStruct:
			report.StructIssues = append(report.StructIssues, issue)
		case IssueFlow:
			report.FlowIssues = append(report.FlowIssues, issue)
		default:
			report.StackIssues = append(report.StackIssues, issue)
		}
	}

	if len(calls) == 0 {
		return report
	}

	routine, err := compose.NewRoutine(plan, nil)
	if err != nil {
		report.SimulationOK = false
		report.Invocations = append(report.Invocations, Invocation{Err: err})

		return report
	}

	for _, args := range calls {
		result, err := routine.Invoke(args...)
		report.Invocations = append(report.Invocations, Invocation{
			Args:   args,
			Result: result,
			Err:    err,
		})
	}

	return report
}

// StepsTable renders the plan steps.
func StepsTable(plan *compose.Plan) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Plan %s %s", plan.Target, plan.Signature))
	t.AppendHeader(table.Row{"#", "Step", "Fragment", "Note"})

	for i, s := range plan.Steps {
		t.AppendRow(table.Row{i, s.Kind, s.Fragment, s.Note})
	}

	return t.Render()
}

// IssuesTable renders lint issues.
func IssuesTable(issues []Issue) string {
	t := table.NewWriter()
	t.SetTitle("Lint Issues")
	t.AppendHeader(table.Row{"Type", "Routine", "Index", "Message"})

	for _, issue := range issues {
		t.AppendRow(table.Row{issue.Type, issue.Routine, issue.Index, issue.Message})
	}

	return t.Render()
}

// WriteReport writes a formatted report to a writer
func (r *VerificationReport) WriteReport(w io.Writer) {
	separator := strings.Repeat("=", 60)

	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "COMPOSITION REPORT: %s\n", r.Target)
	fmt.Fprintln(w, separator)

	fmt.Fprintf(w, "\nplan %s with %d fragment(s)\n\n", r.Plan.ID, r.Plan.Fragments())
	fmt.Fprintln(w, StepsTable(r.Plan))

	// STAGE 1: LINT
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "STAGE 1: STATIC LINT CHECKS")
	fmt.Fprintln(w, separator)

	if len(r.LintIssues) == 0 {
		fmt.Fprintln(w, "No lint issues found")
	} else {
		fmt.Fprintln(w, IssuesTable(r.LintIssues))
	}

	// STAGE 2: SIMULATION
	if len(r.Invocations) > 0 {
		fmt.Fprintln(w, "\n"+separator)
		fmt.Fprintln(w, "STAGE 2: INVOCATIONS")
		fmt.Fprintln(w, separator)

		t := table.NewWriter()
		t.AppendHeader(table.Row{"#", "Args", "Result", "Exception"})

		for i, inv := range r.Invocations {
			exception := ""
			if inv.Err != nil {
				exception = inv.Err.Error()
			}

			t.AppendRow(table.Row{i, fmt.Sprint(inv.Args), fmt.Sprint(inv.Result), exception})
		}

		fmt.Fprintln(w, t.Render())
	}

	// SUMMARY
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "SUMMARY")
	fmt.Fprintln(w, separator)

	fmt.Fprintf(w, "Lint Result: %d issues detected (%d STRUCT, %d FLOW, %d STACK)\n",
		len(r.LintIssues), len(r.StructIssues), len(r.FlowIssues), len(r.StackIssues))

	simStatus := "SUCCESS"
	if !r.SimulationOK {
		simStatus = "FAILED"
	}
	fmt.Fprintf(w, "Simulation Result: %s (%d invocation(s))\n", simStatus, len(r.Invocations))
	fmt.Fprintln(w)
}

// SaveReportToFile saves the report to a file
func (r *VerificationReport) SaveReportToFile(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	r.WriteReport(file)
	return nil
}
