package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rokoss21/IOSM/internal/executor"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

var scoreMetricsPath string

func init() {
	scoreCmd.Flags().StringVarP(&scoreMetricsPath, "metrics", "m", "", "JSON file with the six metric dimensions (- for stdin)")
	_ = scoreCmd.MarkFlagRequired("metrics")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration document",
	Long: `Validate loads the configuration document and checks quality gates, index
weights, decision and retry policy, and that every phase has an executor.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		doc, err := loadDocument()
		if err != nil {
			return err
		}
		cfg, err := orchestrator.FromDocument(doc)
		if err != nil {
			return err
		}
		if _, err := executor.FromExecutors(doc.Executors, nil); err != nil {
			return err
		}
		if _, err := executor.FromMetrics(doc.Executors, nil); err != nil {
			return err
		}
		renderConfig(cmd.OutOrStdout(), configPath, cfg)
		return nil
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute the IOSM-Index for a set of metrics",
	Long: `Score computes the IOSM-Index of the given metrics with the document's index
weights and shows each dimension's contribution.

Examples:
  iosm score --metrics metrics.json
  ./collect-metrics.sh | iosm score --metrics -`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		doc, err := loadDocument()
		if err != nil {
			return err
		}
		cfg, err := orchestrator.FromDocument(doc)
		if err != nil {
			return err
		}

		var raw []byte
		if scoreMetricsPath == "-" {
			raw, err = readAllStdin(cmd)
		} else {
			raw, err = os.ReadFile(scoreMetricsPath)
		}
		if err != nil {
			return fmt.Errorf("failed to read metrics: %w", err)
		}

		metrics, err := executor.ParseMetrics(raw)
		if err != nil {
			return err
		}
		index, err := orchestrator.ComputeIndex(metrics, cfg.Weights)
		if err != nil {
			return err
		}
		renderScore(cmd.OutOrStdout(), index, metrics.Clamped(), cfg)
		return nil
	},
}
