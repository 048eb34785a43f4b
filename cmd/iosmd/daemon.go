package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/rokoss21/IOSM/internal/app"
	"github.com/rokoss21/IOSM/internal/backlog"
	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/events"
	iosmhttp "github.com/rokoss21/IOSM/internal/http"
	"github.com/rokoss21/IOSM/internal/logging"
	"github.com/rokoss21/IOSM/internal/metrics"
	"github.com/rokoss21/IOSM/internal/orchestrator"
	"github.com/rokoss21/IOSM/internal/scheduler"
)

// daemon holds the long-lived components started by run.
type daemon struct {
	doc       *config.Config
	app       *app.App
	logger    *logging.Logger
	scheduler *scheduler.Scheduler
	server    *iosmhttp.Server
	nc        *nats.Conn
	publisher *events.Publisher
	triggers  *nats.Subscription
	watcher   *backlog.Watcher
}

// run starts iosmd and blocks until ctx is cancelled or the HTTP server fails.
// ready, when set, is called once every component is started.
//
// Startup order:
//  1. Load the configuration document
//  2. Connect to NATS when enabled
//  3. Assemble the engine with the Prometheus collector, status tracker and event publisher
//  4. Create the run scheduler and the HTTP server
//  5. Subscribe to NATS triggers and watch the backlog file when enabled
//  6. Serve until shutdown, then stop components in reverse order
func run(ctx context.Context, configPath string, ready func()) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	d := &daemon{doc: doc}
	defer d.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tracker := iosmhttp.NewTracker()
	observers := []orchestrator.Observer{metrics.New(registry), tracker}

	if doc.NATS.Enabled {
		bootLogger, err := logging.NewLogger(logging.FromSettings(doc.Logging), nil)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		d.nc, err = events.Connect(doc.NATS, bootLogger.Named("nats"))
		if err != nil {
			return err
		}
		d.publisher, err = events.NewPublisher(d.nc, doc.NATS.SubjectPrefix, bootLogger.Named("events"))
		if err != nil {
			return err
		}
		observers = append(observers, d.publisher)
	}

	d.app, err = app.New(ctx, doc, app.Options{Version: version, Observers: observers})
	if err != nil {
		return err
	}
	d.logger = d.app.Logger

	d.scheduler = scheduler.New(d.app.Engine.Run, d.app.History, d.logger.Named("scheduler"))

	d.server, err = iosmhttp.NewServer(iosmhttp.Deps{
		History:   d.app.History,
		Runs:      d.scheduler,
		Tracker:   tracker,
		Gatherer:  registry,
		Telemetry: d.app.Telemetry,
		Version:   version,
	}, d.logger.Named("http"), &iosmhttp.Config{Host: doc.Server.Host, Port: doc.Server.Port})
	if err != nil {
		return err
	}

	if d.nc != nil {
		d.triggers, err = events.SubscribeTriggers(d.nc, doc.NATS.SubjectPrefix, func(t events.Trigger) {
			d.trigger(ctx, t.SystemID, t.Resume, "nats")
		})
		if err != nil {
			return fmt.Errorf("subscribing to triggers: %w", err)
		}
	}

	if doc.Backlog.Watch {
		d.watcher, err = backlog.NewWatcher(doc.Backlog.Path, doc.Backlog.Debounce.Duration(), d.logger.Named("backlog"))
		if err != nil {
			return err
		}
		d.watcher.Start(ctx)
		go d.rerunOnBacklogChange(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	d.logger.Info(ctx, "iosmd started",
		zap.String("version", version),
		zap.String("addr", fmt.Sprintf("%s:%d", doc.Server.Host, doc.Server.Port)),
		zap.Bool("nats", d.nc != nil),
		zap.Bool("backlog_watch", d.watcher != nil),
	)
	if ready != nil {
		ready()
	}

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}
	return d.shutdown()
}

// trigger starts a run and logs why it did not start.
func (d *daemon) trigger(ctx context.Context, systemID string, resume bool, source string) {
	runID, err := d.scheduler.Trigger(ctx, systemID, resume)
	switch {
	case err == nil:
		d.logger.Info(ctx, "run triggered",
			zap.String("source", source), zap.String("system_id", systemID), zap.String("run_id", runID))
	case errors.Is(err, scheduler.ErrRunInProgress):
		d.logger.Debug(ctx, "run already in progress", zap.String("source", source), zap.String("system_id", systemID))
	default:
		d.logger.Warn(ctx, "failed to trigger run",
			zap.String("source", source), zap.String("system_id", systemID), zap.Error(err))
	}
}

// rerunOnBacklogChange starts a run for every system with open items whenever
// the backlog file changes.
func (d *daemon) rerunOnBacklogChange(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-d.watcher.Changes():
			if !ok {
				return
			}
			doc, err := backlog.ReadFile(d.doc.Backlog.Path)
			if err != nil {
				d.logger.Warn(ctx, "ignoring unreadable backlog", zap.Error(err))
				continue
			}
			for _, system := range doc.Systems(d.doc.System) {
				d.trigger(ctx, system, false, "backlog")
			}
		}
	}
}

// shutdown stops accepting work, cancels runs and flushes events.
func (d *daemon) shutdown() error {
	timeout := d.doc.Server.ShutdownTimeout.Duration()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := d.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.triggers != nil {
		_ = d.triggers.Unsubscribe()
	}
	if err := d.scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	if d.publisher != nil {
		if err := d.publisher.Flush(ctx); err != nil {
			d.logger.Warn(ctx, "failed to flush events", zap.Error(err))
		}
	}
	d.logger.Info(ctx, "iosmd stopped")
	return errors.Join(errs...)
}

// close releases resources in every exit path.
func (d *daemon) close() {
	if d.app != nil {
		_ = d.app.Close(context.Background())
	}
	if d.nc != nil {
		d.nc.Close()
	}
}
