// Package main implements the iosm CLI: run cycles against a system, validate and
// score configuration, inspect history and talk to a running iosmd.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// Exit codes reported for the engine's fatal error kinds.
const (
	exitOK                 = 0
	exitFailure            = 1
	exitConfig             = 2
	exitGateExhausted      = 3
	exitMissingMeasurement = 4
	exitExecution          = 5
	exitCancelled          = 130
)

var (
	// configPath is the IOSM configuration document
	configPath string
	// version information, set with -ldflags
	version = "dev"
)

func main() {
	os.Exit(execute(context.Background(), rootCmd))
}

func execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Error: ")+err.Error())
		return exitCode(err)
	}
	return exitOK
}

var rootCmd = &cobra.Command{
	Use:   "iosm",
	Short: "Run IOSM improvement cycles",
	Long: `iosm drives a system through Improve, Optimize, Shrink and Modularize
phases guarded by quality gates, scores every cycle as an IOSM-Index and
stops on threshold, stagnation or an empty backlog.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "IOSM configuration file")
	rootCmd.AddCommand(runCmd, validateCmd, scoreCmd, historyCmd, statusCmd, triggerCmd, watchCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the iosm version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "iosm %s\n", version)
	},
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, orchestrator.ErrCancelled), errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, orchestrator.ErrConfig):
		return exitConfig
	case errors.Is(err, orchestrator.ErrGateExhausted):
		return exitGateExhausted
	case errors.Is(err, orchestrator.ErrMissingMeasurement):
		return exitMissingMeasurement
	case errors.Is(err, orchestrator.ErrExecution):
		return exitExecution
	default:
		return exitFailure
	}
}

// loadDocument loads the configuration document. Load failures count as
// configuration errors.
func loadDocument() (*config.Config, error) {
	doc, err := config.Load(configPath)
	if err != nil {
		return nil, &orchestrator.ConfigError{Field: configPath, Reason: "cannot load document", Err: err}
	}
	return doc, nil
}

// systemFor resolves the --system flag against the document default.
func systemFor(flag string, doc *config.Config) string {
	if flag != "" {
		return flag
	}
	return doc.System
}
