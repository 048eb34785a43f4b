package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rokoss21/IOSM/internal/app"
)

var (
	runSystem string
	runResume bool
	runDryRun bool
	runJSON   bool
)

func init() {
	runCmd.Flags().StringVarP(&runSystem, "system", "s", "", "system identifier (defaults to the document's system)")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "continue the last unfinished run of the system")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "keep history in memory instead of the configured store")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run result as JSON")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run IOSM cycles until the decision policy stops",
	Long: `Run IOSM cycles for a system until the decision policy returns STOP.

Exit codes:
  0    run stopped normally
  2    configuration error
  3    a quality gate kept failing until retries were exhausted
  4    an executor did not report a measurement a gate requires
  5    a phase or metrics command failed
  130  interrupted

Examples:
  # Run the default system from iosm.yaml
  iosm run

  # Resume an interrupted run
  iosm run --system billing-api --resume`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	doc, err := loadDocument()
	if err != nil {
		return err
	}

	opts := app.Options{Version: version}
	if runDryRun {
		opts.HistoryDriver = "memory"
	}
	a, err := app.New(ctx, doc, opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	result, runErr := a.Run(ctx, systemFor(runSystem, doc), runResume)

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		return runErr
	}
	renderResult(out, result, runErr)
	return runErr
}
