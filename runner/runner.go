package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/internal/util"
	"github.com/hupe1980/consultmesh/logging"
)

// ErrRunNotFound is returned by Cancel for unknown or finished runs.
var ErrRunNotFound = errors.New("run not found")

// Deliberator runs one session to completion. *engine.Engine satisfies it.
type Deliberator interface {
	Run(ctx context.Context, caseText string, roleIDs []string, settings core.Settings) (core.Snapshot, error)
}

// Options holds configuration overrides passed to New().
type Options struct {
	// MaxConcurrentSessions limits how many sessions deliberate at once.
	// Further runs wait for a free slot.
	MaxConcurrentSessions int
	// Logger receives run lifecycle events.
	Logger logging.Logger
	// NewID generates run identifiers.
	NewID func() string
}

// Result is the outcome of an asynchronous run.
type Result struct {
	RunID    string
	Snapshot core.Snapshot
	// Err is a construction error from the Deliberator, or the context error
	// when the run was cancelled while waiting for a slot.
	Err error
}

// Runner starts sessions in the background and tracks them until they
// finish. Public methods are safe for concurrent use.
type Runner struct {
	deliberator Deliberator
	logger      logging.Logger
	newID       func() string
	slots       chan struct{}

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
	wg         sync.WaitGroup
}

// New constructs a Runner with optional overrides.
func New(d Deliberator, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrentSessions: 4,
		Logger:                logging.NoOpLogger{},
		NewID:                 util.NewID,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxConcurrentSessions < 1 {
		opts.MaxConcurrentSessions = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.NewID == nil {
		opts.NewID = util.NewID
	}

	return &Runner{
		deliberator: d,
		logger:      opts.Logger,
		newID:       opts.NewID,
		slots:       make(chan struct{}, opts.MaxConcurrentSessions),
		activeRuns:  make(map[string]context.CancelFunc),
	}
}

// Run starts a session asynchronously. The returned channel yields exactly
// one Result and is then closed.
func (r *Runner) Run(
	ctx context.Context,
	caseText string,
	roleIDs []string,
	settings core.Settings,
) (string, <-chan Result) {
	runID := r.newID()
	resultCh := make(chan Result, 1)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.activeRuns, runID)
			r.mu.Unlock()
			close(resultCh)
			r.wg.Done()
		}()

		select {
		case <-ctx.Done():
			r.logger.Debug("runner.run.cancelled", "run", runID)
			resultCh <- Result{RunID: runID, Err: ctx.Err()}
			return
		case r.slots <- struct{}{}:
		}
		defer func() { <-r.slots }()

		r.logger.Debug("runner.run.started", "run", runID, "roles", roleIDs)

		snap, err := r.deliberator.Run(ctx, caseText, roleIDs, settings)
		if err != nil {
			r.logger.Warn("runner.run.failed", "run", runID, "error", err)
		}

		resultCh <- Result{RunID: runID, Snapshot: snap, Err: err}
	}()

	return runID, resultCh
}

// Cancel cancels a running run by ID. The session finishes Aborted with
// reason cancelled at its next round boundary.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	cancel()

	return nil
}

// Active returns the ids of runs that have not finished, sorted.
func (r *Runner) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.activeRuns))
	for id := range r.activeRuns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Wait blocks until every started run has delivered its result.
func (r *Runner) Wait() {
	r.wg.Wait()
}
