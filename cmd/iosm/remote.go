package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rokoss21/IOSM/internal/monitor"
)

var (
	// serverURL is the base URL of the iosmd HTTP server
	serverURL     string
	remoteSystem  string
	triggerResume bool
	watchInterval time.Duration
)

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, triggerCmd, watchCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:9464", "iosmd server URL")
		cmd.Flags().StringVarP(&remoteSystem, "system", "s", "", "system identifier")
		_ = cmd.MarkFlagRequired("system")
	}
	triggerCmd.Flags().BoolVar(&triggerResume, "resume", false, "continue the last unfinished run")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "polling interval")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live status of a system on iosmd",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, err := monitor.NewClient(serverURL).Status(cmd.Context(), remoteSystem)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), status)
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask iosmd to start a run for a system",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := monitor.NewClient(serverURL).Trigger(cmd.Context(), remoteSystem, triggerResume)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("started run"), resp.RunID)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open a live dashboard for a system on iosmd",
	Long: `Watch polls iosmd and shows the current index with its trend, the phase
being executed, the dimensions of the last scored cycle and the last run.

Keys: q quit, r refresh, t trigger a run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		model := monitor.NewModel(monitor.NewClient(serverURL), remoteSystem, watchInterval)
		_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
		return err
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readAllStdin(cmd *cobra.Command) ([]byte, error) {
	return io.ReadAll(cmd.InOrStdin())
}
