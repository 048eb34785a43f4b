package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/history"
	"github.com/rokoss21/IOSM/internal/orchestrator"
	"github.com/rokoss21/IOSM/internal/workflows"
)

// WorkflowID is the Temporal workflow id of a system's run. One id per system
// keeps Temporal from running two cycles of the same system at once.
func WorkflowID(systemID string) string {
	return "iosm-" + systemID
}

// buildInput prepares the workflow input, continuing the last unfinished run
// recorded in store when resume is set.
func buildInput(ctx context.Context, doc *config.Config, store history.Store, systemID string, resume bool) (workflows.CycleWorkflowInput, error) {
	cfg, err := orchestrator.FromDocument(doc)
	if err != nil {
		return workflows.CycleWorkflowInput{}, err
	}
	in := workflows.CycleWorkflowInput{
		SystemID: systemID,
		RunID:    uuid.NewString(),
		Config:   *cfg,
	}
	if !resume {
		return in, nil
	}

	last, ok, err := history.LastRun(ctx, store, systemID)
	if err != nil {
		return in, err
	}
	if !ok || last.Stopped() {
		return in, nil
	}
	prior, err := store.Load(ctx, history.Filter{SystemID: systemID, RunID: last.RunID})
	if err != nil {
		return in, err
	}
	in.RunID = last.RunID
	in.Prior = prior
	return in, nil
}

func runStart(ctx context.Context, configPath string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	systemID := fs.String("system", "", "system identifier (defaults to the document's system)")
	resume := fs.Bool("resume", false, "continue the last unfinished run of the system")
	wait := fs.Bool("wait", false, "wait for the workflow result")
	if err := fs.Parse(args); err != nil {
		return err
	}

	doc, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if *systemID == "" {
		*systemID = doc.System
	}

	store, err := history.Open(doc.History)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	in, err := buildInput(ctx, doc, store, *systemID, *resume)
	_ = store.Close()
	if err != nil {
		return err
	}

	c, err := dial(doc)
	if err != nil {
		return err
	}
	defer c.Close()

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(*systemID),
		TaskQueue: doc.Temporal.TaskQueue,
	}, workflows.CycleWorkflow, in)
	if err != nil {
		return fmt.Errorf("starting workflow: %w", err)
	}
	fmt.Fprintf(out, "started workflow %s (run %s, iosm run %s)\n", run.GetID(), run.GetRunID(), in.RunID)
	if !*wait {
		return nil
	}

	var result workflows.CycleWorkflowResult
	if err := run.Get(ctx, &result); err != nil {
		return fmt.Errorf("workflow failed: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
