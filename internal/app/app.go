// Package app assembles the engine and its collaborators from an IOSM document.
// It is shared by the iosm CLI, the iosmd daemon and the iosm-worker.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rokoss21/IOSM/internal/backlog"
	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/executor"
	"github.com/rokoss21/IOSM/internal/history"
	"github.com/rokoss21/IOSM/internal/logging"
	"github.com/rokoss21/IOSM/internal/orchestrator"
	"github.com/rokoss21/IOSM/internal/telemetry"
	"github.com/rokoss21/IOSM/internal/workflows"
	"github.com/rokoss21/IOSM/pkg/git"
)

const instrumentationName = "github.com/rokoss21/IOSM"

// Options adjust how the application is assembled.
type Options struct {
	Version string

	// Observers receive engine events in addition to logging and telemetry.
	Observers []orchestrator.Observer

	// Logger replaces the logger built from the document.
	Logger *logging.Logger

	// HistoryDriver overrides history.driver, e.g. "memory" for dry runs.
	HistoryDriver string
}

// App is an assembled engine with the resources it owns.
type App struct {
	Doc       *config.Config
	EngineCfg *orchestrator.Config
	Engine    *orchestrator.Engine
	Backlog   *backlog.FileProvider
	Executors map[orchestrator.Phase]orchestrator.PhaseExecutor
	Collector orchestrator.MetricsCollector
	History   history.Store
	Revision  orchestrator.RevisionFunc
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
}

// New builds every collaborator named by doc. Close releases them.
func New(ctx context.Context, doc *config.Config, opts Options) (_ *App, err error) {
	engineCfg, err := orchestrator.FromDocument(doc)
	if err != nil {
		return nil, err
	}

	a := &App{Doc: doc, EngineCfg: engineCfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.Telemetry, err = telemetry.New(ctx, telemetry.FromSettings(doc.Telemetry, opts.Version))
	if err != nil {
		return nil, err
	}

	a.Logger = opts.Logger
	if a.Logger == nil {
		a.Logger, err = logging.NewLogger(logging.FromSettings(doc.Logging), a.Telemetry.LoggerProvider())
		if err != nil {
			return nil, fmt.Errorf("initializing logger: %w", err)
		}
	}

	a.Backlog, err = backlog.NewFileProvider(doc.Backlog.Path, doc.System, a.Logger.Named("backlog"))
	if err != nil {
		return nil, orchestrator.NewConfigError("backlog.path", "%v", err)
	}

	runner := executor.NewRunner(doc.Executors.RateLimit, doc.Executors.Burst, a.Logger.Named("executor"))
	a.Executors, err = executor.FromExecutors(doc.Executors, runner)
	if err != nil {
		return nil, err
	}
	a.Collector, err = executor.FromMetrics(doc.Executors, runner)
	if err != nil {
		return nil, err
	}

	historyCfg := doc.History
	if opts.HistoryDriver != "" {
		historyCfg.Driver = opts.HistoryDriver
	}
	a.History, err = history.Open(historyCfg)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}

	engineOpts := []orchestrator.Option{
		orchestrator.WithLogger(a.Logger.Named("engine")),
		orchestrator.WithHistoryLog(a.History),
		orchestrator.WithTracer(a.Telemetry.Tracer(instrumentationName)),
		orchestrator.WithMeter(a.Telemetry.Meter(instrumentationName)),
	}
	if doc.Git.Enabled {
		a.Revision = git.RevisionFunc(doc.Git.RepoPath)
		engineOpts = append(engineOpts, orchestrator.WithRevision(a.Revision))
	}
	for _, obs := range opts.Observers {
		engineOpts = append(engineOpts, orchestrator.WithObserver(obs))
	}

	a.Engine, err = orchestrator.NewEngine(engineCfg, a.Backlog, a.Executors, a.Collector, engineOpts...)
	if err != nil {
		return nil, err
	}

	a.Logger.Info(ctx, "engine assembled",
		zap.String("backlog", doc.Backlog.Path),
		zap.String("history_driver", historyCfg.Driver),
		zap.Bool("git_revision", doc.Git.Enabled),
		zap.Bool("telemetry", a.Telemetry.IsEnabled()),
	)
	return a, nil
}

// Run runs the engine for systemID. With resume set it continues the last
// unfinished run recorded in the history store.
func (a *App) Run(ctx context.Context, systemID string, resume bool) (*orchestrator.RunResult, error) {
	var opts []orchestrator.RunOption
	if resume {
		runID, resumeOpts, err := history.ResumeOptions(ctx, a.History, systemID)
		if err != nil {
			return nil, err
		}
		if resumeOpts != nil {
			a.Logger.Info(ctx, "resuming run", zap.String("run_id", runID), zap.String("system_id", systemID))
			opts = resumeOpts
		}
	}
	return a.Engine.Run(ctx, systemID, opts...)
}

// Activities returns the Temporal activities backed by the same collaborators as the engine.
func (a *App) Activities() *workflows.Activities {
	return &workflows.Activities{
		Backlog:   a.Backlog,
		Executors: a.Executors,
		Collector: a.Collector,
		History:   a.History,
		Revision:  a.Revision,
	}
}

// Close releases the history store, flushes telemetry and syncs the logger.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing history: %w", err))
		}
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
