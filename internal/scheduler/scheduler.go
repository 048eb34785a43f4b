// Package scheduler runs the engine in the background for iosmd, one run per system at a time.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rokoss21/IOSM/internal/history"
	"github.com/rokoss21/IOSM/internal/logging"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

var (
	// ErrRunInProgress is returned when the system already has an active run.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrShuttingDown is returned by Trigger after Shutdown.
	ErrShuttingDown = errors.New("scheduler is shutting down")
)

// RunFunc starts a run. *orchestrator.Engine.Run satisfies it.
type RunFunc func(ctx context.Context, systemID string, opts ...orchestrator.RunOption) (*orchestrator.RunResult, error)

// Outcome is the result of the most recent finished run of a system.
type Outcome struct {
	RunID  string
	Result *orchestrator.RunResult
	Err    error
}

// Scheduler starts runs on request and tracks the active one per system.
type Scheduler struct {
	run    RunFunc
	store  history.Store
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]string
	last   map[string]Outcome
	closed bool
}

// New creates a scheduler. store may be nil, in which case runs never resume.
func New(run RunFunc, store history.Store, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		run:    run,
		store:  store,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]string),
		last:   make(map[string]Outcome),
	}
}

// Trigger starts a run of systemID and returns its id. With resume set, the last
// unfinished run of the system is continued instead of starting a new one.
//
// The run is detached from ctx; ctx only bounds the history lookup.
func (s *Scheduler) Trigger(ctx context.Context, systemID string, resume bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrShuttingDown
	}
	if _, busy := s.active[systemID]; busy {
		return "", ErrRunInProgress
	}

	var (
		runID string
		opts  []orchestrator.RunOption
	)
	if resume && s.store != nil {
		id, resumeOpts, err := history.ResumeOptions(ctx, s.store, systemID)
		if err != nil {
			return "", err
		}
		runID, opts = id, resumeOpts
	}
	if opts == nil {
		runID = uuid.NewString()
		opts = []orchestrator.RunOption{orchestrator.WithRunID(runID)}
	}

	s.active[systemID] = runID
	s.wg.Add(1)
	go s.execute(systemID, runID, opts)
	return runID, nil
}

func (s *Scheduler) execute(systemID, runID string, opts []orchestrator.RunOption) {
	defer s.wg.Done()

	result, err := s.run(s.ctx, systemID, opts...)
	if err != nil {
		s.logger.Warn(s.ctx, "run failed",
			zap.String("system_id", systemID),
			zap.String("run_id", runID),
			zap.Error(err),
		)
	}

	s.mu.Lock()
	delete(s.active, systemID)
	s.last[systemID] = Outcome{RunID: runID, Result: result, Err: err}
	s.mu.Unlock()
}

// Active returns the id of the running run of a system.
func (s *Scheduler) Active(systemID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[systemID]
	return id, ok
}

// Last returns the outcome of the most recent run that finished in this process.
func (s *Scheduler) Last(systemID string) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.last[systemID]
	return o, ok
}

// Wait blocks until every started run has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown cancels active runs and waits for them until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
