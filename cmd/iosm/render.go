package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rokoss21/IOSM/internal/history"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	headerCellStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true).Padding(0, 1)
	cellStyle       = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			return cellStyle
		})
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label+":")), valueStyle.Render(value))
}

func decisionText(verdict orchestrator.Verdict, reason orchestrator.StopReason) string {
	if reason == "" {
		return string(verdict)
	}
	return fmt.Sprintf("%s (%s)", verdict, reason)
}

func entryRows(t *table.Table, entries orchestrator.History) {
	for _, e := range entries {
		revision := e.Revision
		if len(revision) > 12 {
			revision = revision[:12]
		}
		t.Row(
			fmt.Sprintf("%d", e.Cycle),
			fmt.Sprintf("%.3f", e.Index),
			decisionText(e.Decision, e.Reason),
			strings.Join(e.Goals, ", "),
			revision,
		)
	}
}

// renderResult prints a run result. A failed run still shows the cycles it completed.
func renderResult(w io.Writer, result *orchestrator.RunResult, runErr error) {
	fmt.Fprintln(w, titleStyle.Render(" IOSM Run "))
	if result == nil {
		return
	}
	field(w, "System", result.SystemID)
	field(w, "Run", result.RunID)
	field(w, "Cycles", fmt.Sprintf("%d", result.Cycles))
	if len(result.History) > 0 {
		field(w, "Final index", fmt.Sprintf("%.3f", result.FinalIndex))
	}

	switch {
	case runErr != nil:
		status := errorStyle.Render("failed")
		if phase, cycle, ok := orchestrator.ErrorPhase(runErr); ok {
			status += dimStyle.Render(fmt.Sprintf(" in cycle %d phase %s", cycle, phase))
		}
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", "Outcome:")), status)
	case result.Converged():
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", "Outcome:")),
			okStyle.Render(decisionText(result.Decision.Verdict, result.Decision.Reason)))
	}

	if len(result.History) > 0 {
		t := newTable("Cycle", "Index", "Decision", "Goals", "Revision")
		entryRows(t, result.History)
		fmt.Fprintln(w, t.Render())
	}
}

// renderEntries prints the cycles of one run.
func renderEntries(w io.Writer, entries orchestrator.History) {
	first := entries[0]
	fmt.Fprintln(w, titleStyle.Render(" IOSM Run "))
	field(w, "System", first.SystemID)
	field(w, "Run", first.RunID)

	t := newTable("Cycle", "Index", "Decision", "Goals", "Revision")
	entryRows(t, entries)
	fmt.Fprintln(w, t.Render())
}

// renderRuns prints run summaries, most recent first.
func renderRuns(w io.Writer, systemID string, runs []history.RunSummary) {
	fmt.Fprintln(w, titleStyle.Render(" IOSM History "))
	field(w, "System", systemID)
	if len(runs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no runs recorded"))
		return
	}

	t := newTable("Run", "Cycles", "Last index", "Decision", "Started", "Finished")
	for _, r := range runs {
		decision := decisionText(r.Decision, r.Reason)
		if !r.Stopped() {
			decision = warnStyle.Render("unfinished")
		}
		t.Row(
			r.RunID,
			fmt.Sprintf("%d", r.Cycles),
			fmt.Sprintf("%.3f", r.LastIndex),
			decision,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	fmt.Fprintln(w, t.Render())
}

// renderConfig summarizes a validated engine configuration.
func renderConfig(w io.Writer, path string, cfg *orchestrator.Config) {
	fmt.Fprintf(w, "%s %s\n", okStyle.Render("✓"), valueStyle.Render(path+" is valid"))

	t := newTable("Gate", "Phase", "Thresholds")
	for _, p := range orchestrator.AllPhases() {
		gate := cfg.Gates[p]
		rules := make([]string, len(gate.Thresholds))
		for i, th := range gate.Thresholds {
			rules[i] = th.String()
		}
		t.Row(p.GateKey(), string(p), strings.Join(rules, ", "))
	}
	fmt.Fprintln(w, t.Render())

	field(w, "Threshold", fmt.Sprintf("%.3f", cfg.Decision.StopThreshold))
	field(w, "Stagnation", fmt.Sprintf("window %d, epsilon %g", cfg.Decision.StagnationWindow, cfg.Decision.StagnationEpsilon))
	field(w, "Retries", fmt.Sprintf("%d attempts, backoff %s..%s", cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff))
}

// renderScore prints an index with each dimension's weighted contribution.
func renderScore(w io.Writer, index float64, metrics orchestrator.CycleMetrics, cfg *orchestrator.Config) {
	t := newTable("Dimension", "Value", "Weight", "Contribution")
	for _, d := range orchestrator.AllDimensions() {
		weight := cfg.Weights[d]
		t.Row(
			string(d),
			fmt.Sprintf("%.3f", metrics[d]),
			fmt.Sprintf("%.2f", weight),
			fmt.Sprintf("%.4f", metrics[d]*weight),
		)
	}
	fmt.Fprintln(w, t.Render())

	status := warnStyle.Render("below threshold")
	if index >= cfg.Decision.StopThreshold {
		status = okStyle.Render("meets threshold")
	}
	fmt.Fprintf(w, "%s %s  %s\n", labelStyle.Render("IOSM-Index:"), valueStyle.Render(fmt.Sprintf("%.3f", index)), status)
}
