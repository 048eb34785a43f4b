// Package main provides the Temporal worker for IOSM cycle workflows.
//
// The worker executes CycleWorkflow with activities backed by the phase and
// metrics commands, backlog file and history store named in the configuration
// document. The start subcommand submits a workflow for a system.
//
// Usage:
//
//	# Run the worker
//	iosm-worker -c iosm.yaml
//
//	# Start a durable run and wait for its decision
//	iosm-worker -c iosm.yaml start -system billing-api -wait
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/rokoss21/IOSM/internal/app"
	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/workflows"
)

var version = "dev"

func main() {
	configPath := flag.String("c", config.DefaultPath, "IOSM configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch args := flag.Args(); {
	case len(args) == 0:
		err = runWorker(ctx, *configPath)
	case args[0] == "start":
		err = runStart(ctx, *configPath, args[1:], os.Stdout)
	default:
		err = fmt.Errorf("unknown command %q (want no command or \"start\")", args[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func dial(doc *config.Config) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  doc.Temporal.HostPort,
		Namespace: doc.Temporal.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// newWorker registers the cycle workflow and the activities of a.
func newWorker(c client.Client, taskQueue string, a *app.App) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.CycleWorkflow)
	w.RegisterActivity(a.Activities())
	return w
}

func runWorker(ctx context.Context, configPath string) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.New(ctx, doc, app.Options{Version: version})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	logger := a.Logger.Named("worker")

	logger.Info(ctx, "iosm worker starting",
		zap.String("temporal_host", doc.Temporal.HostPort),
		zap.String("namespace", doc.Temporal.Namespace),
	)

	c, err := dial(doc)
	if err != nil {
		return err
	}
	defer c.Close()

	w := newWorker(c, doc.Temporal.TaskQueue, a)
	logger.Info(ctx, "worker configured", zap.String("task_queue", doc.Temporal.TaskQueue))

	if err := w.Start(); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}
	<-ctx.Done()
	logger.Info(ctx, "shutdown signal received")
	w.Stop()
	logger.Info(ctx, "worker stopped gracefully")
	return nil
}
