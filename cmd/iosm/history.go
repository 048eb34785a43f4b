package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rokoss21/IOSM/internal/history"
)

var (
	historySystem string
	historyRunID  string
	historyJSON   bool
)

func init() {
	historyCmd.Flags().StringVarP(&historySystem, "system", "s", "", "system identifier (defaults to the document's system)")
	historyCmd.Flags().StringVar(&historyRunID, "run", "", "show the cycles of one run instead of the run list")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs and cycles",
	Long: `History reads the configured history store and lists the runs of a system,
most recent first. With --run it lists the cycles of that run.

Examples:
  iosm history --system billing-api
  iosm history --system billing-api --run 2b1f...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		doc, err := loadDocument()
		if err != nil {
			return err
		}
		store, err := history.Open(doc.History)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer store.Close()

		ctx := cmd.Context()
		systemID := systemFor(historySystem, doc)
		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		if historyRunID != "" {
			entries, err := store.Load(ctx, history.Filter{SystemID: systemID, RunID: historyRunID})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("run %q of system %q not found", historyRunID, systemID)
			}
			if historyJSON {
				return enc.Encode(entries)
			}
			renderEntries(out, entries)
			return nil
		}

		runs, err := store.Runs(ctx, systemID)
		if err != nil {
			return err
		}
		if historyJSON {
			if runs == nil {
				runs = []history.RunSummary{}
			}
			return enc.Encode(runs)
		}
		renderRuns(out, systemID, runs)
		return nil
	},
}
