package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hupe1980/consultmesh/aggregate"
	"github.com/hupe1980/consultmesh/config"
	"github.com/hupe1980/consultmesh/confirm"
	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/cost"
	"github.com/hupe1980/consultmesh/evaluation"
	"github.com/hupe1980/consultmesh/internal/util"
	"github.com/hupe1980/consultmesh/logging"
	"github.com/hupe1980/consultmesh/metrics"
	"github.com/hupe1980/consultmesh/registry"
	"github.com/hupe1980/consultmesh/scheduler"
	"github.com/hupe1980/consultmesh/session"
)

// Options configures an Engine using the functional options pattern. Every
// collaborator has a default suitable for tests and offline runs.
//
// Example:
//
//	eng, err := New(responder,
//	    WithRegistry(registry.Default()),
//	    WithLogger(logger),
//	    WithTimeouts(5*time.Minute, 30*time.Minute),
//	)
type Options struct {
	// Registry resolves role ids. Defaults to the built-in role catalogue.
	Registry core.RoleRegistry

	// Scheduler holds retry, backoff and pacing settings. Its Concurrency is
	// replaced by each session's ConcurrencyLimit.
	Scheduler scheduler.Config

	// Parameters are forwarded with every request.
	Parameters core.Parameters

	// Prices convert tokens into spend for budgets and estimates.
	Prices cost.PriceTable

	// Aggregator extracts stances and scores agreement.
	Aggregator *aggregate.Aggregator

	// Evaluator scores finished transcripts.
	Evaluator *evaluation.Evaluator

	// Store receives every finalized snapshot.
	Store core.SnapshotStore

	// Confirmer gates sessions whose settings require confirmation.
	Confirmer core.Confirmer

	// PromptTemplate renders the per-role prompt of each round; see PromptData.
	PromptTemplate string

	// RoundTimeout bounds one round including retries. Zero disables it.
	RoundTimeout time.Duration

	// SessionTimeout bounds the whole session. Zero disables it.
	SessionTimeout time.Duration

	// MaxCalls caps responder attempts per session. Zero means unlimited.
	MaxCalls int

	// Synthesis enables the closing synthesis call after the last round of a
	// completed session. The result is stored as Snapshot.FinalConsensus.
	Synthesis bool

	// SynthesisTemplate renders the synthesis prompt; see SynthesisData.
	SynthesisTemplate string

	// MaxHistoryChars truncates each remembered turn in prompts. Zero keeps
	// full text.
	MaxHistoryChars int

	// Callbacks are invoked at lifecycle points.
	Callbacks *CallbackManager

	// Logger, Tracer and Metrics provide observability. Metrics may be nil.
	Logger  logging.Logger
	Tracer  trace.Tracer
	Metrics *metrics.Collector

	// NewID generates session identifiers.
	NewID func() string
}

// Engine is the round orchestrator. It is safe for concurrent use; every Run
// owns its session, scheduler, cost tracker and call limiter.
type Engine struct {
	responder core.Responder
	opts      Options
	prompt    *util.Template
	synthesis *util.Template
}

// New creates an Engine bound to responder.
func New(responder core.Responder, optFns ...func(o *Options)) (*Engine, error) {
	if responder == nil {
		return nil, fmt.Errorf("%w: responder is required", core.ErrInvalidConfiguration)
	}

	opts := Options{
		Scheduler:         scheduler.DefaultConfig(),
		Parameters:        core.Parameters{Model: "gpt-4.1-2025-04-14", Temperature: 0.7, MaxTokens: 4000},
		Prices:            cost.DefaultPriceTable(),
		Confirmer:         confirm.AutoApprove{},
		PromptTemplate:    DefaultPromptTemplate,
		SynthesisTemplate: DefaultSynthesisTemplate,
		Logger:            logging.NoOpLogger{},
		NewID:             util.NewID,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = registry.Default()
	}
	if opts.Aggregator == nil {
		opts.Aggregator = aggregate.New()
	}
	if opts.Evaluator == nil {
		ev, err := evaluation.New()
		if err != nil {
			return nil, err
		}
		opts.Evaluator = ev
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Confirmer == nil {
		opts.Confirmer = confirm.AutoApprove{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("consultmesh/engine")
	}
	if opts.NewID == nil {
		opts.NewID = util.NewID
	}
	if opts.MaxCalls < 0 || opts.RoundTimeout < 0 || opts.SessionTimeout < 0 {
		return nil, fmt.Errorf("%w: limits and timeouts must be >= 0", core.ErrInvalidConfiguration)
	}

	tmpl, err := util.ParseTemplate("prompt", opts.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, err)
	}

	synth, err := util.ParseTemplate("synthesis", opts.SynthesisTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, err)
	}

	return &Engine{responder: responder, opts: opts, prompt: tmpl, synthesis: synth}, nil
}

// WithRegistry sets the role registry.
func WithRegistry(r core.RoleRegistry) func(o *Options) {
	return func(o *Options) { o.Registry = r }
}

// WithSchedulerConfig sets retry, backoff and pacing.
func WithSchedulerConfig(cfg scheduler.Config) func(o *Options) {
	return func(o *Options) { o.Scheduler = cfg }
}

// WithParameters sets the generation parameters.
func WithParameters(p core.Parameters) func(o *Options) {
	return func(o *Options) { o.Parameters = p }
}

// WithPrices sets the price table.
func WithPrices(p cost.PriceTable) func(o *Options) {
	return func(o *Options) { o.Prices = p }
}

// WithEvaluator sets the evaluator.
func WithEvaluator(e *evaluation.Evaluator) func(o *Options) {
	return func(o *Options) { o.Evaluator = e }
}

// WithStore sets the snapshot store.
func WithStore(s core.SnapshotStore) func(o *Options) {
	return func(o *Options) { o.Store = s }
}

// WithConfirmer sets the confirmation gate.
func WithConfirmer(c core.Confirmer) func(o *Options) {
	return func(o *Options) { o.Confirmer = c }
}

// WithTimeouts sets the per-round and per-session timeouts.
func WithTimeouts(round, session time.Duration) func(o *Options) {
	return func(o *Options) {
		o.RoundTimeout = round
		o.SessionTimeout = session
	}
}

// WithMaxCalls caps responder attempts per session.
func WithMaxCalls(n int) func(o *Options) {
	return func(o *Options) { o.MaxCalls = n }
}

// WithSynthesis enables or disables the closing synthesis call.
func WithSynthesis(enabled bool) func(o *Options) {
	return func(o *Options) { o.Synthesis = enabled }
}

// WithCallbacks sets the lifecycle callbacks.
func WithCallbacks(cm *CallbackManager) func(o *Options) {
	return func(o *Options) { o.Callbacks = cm }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) func(o *Options) {
	return func(o *Options) { o.Tracer = t }
}

// WithMetrics sets the Prometheus collector.
func WithMetrics(m *metrics.Collector) func(o *Options) {
	return func(o *Options) { o.Metrics = m }
}

// FromConfig applies a resolved configuration.
func FromConfig(cfg *config.Config) func(o *Options) {
	return func(o *Options) {
		o.Scheduler = cfg.SchedulerConfig()
		o.Parameters = cfg.Parameters()
		o.RoundTimeout = cfg.Deliberation.RoundTimeout
		o.SessionTimeout = cfg.Deliberation.SessionTimeout
		o.MaxCalls = cfg.Deliberation.MaxCalls
		o.Synthesis = cfg.Deliberation.FinalSynthesis
	}
}

// roundLogger is implemented by logging.DeliberationLogger.
type roundLogger interface {
	LogAttempt(role, model string, tokens int, dur time.Duration, success bool, err error)
	LogRound(round, turns, failed int, mean *float64, dur time.Duration)
	LogSession(state, reason string, rounds int, cost float64, dur time.Duration)
}

// run is the per-session state of one Run call.
type run struct {
	sess      *core.Session
	roles     []core.Role
	tracker   *cost.Tracker
	sched     *scheduler.Scheduler
	parent    context.Context
	span      trace.Span
	start     time.Time
	consensus bool
}

// Run deliberates caseText among roleIDs and returns the finalized snapshot.
//
// Errors are returned only when the session cannot be constructed: invalid
// settings (core.ErrInvalidConfiguration), unresolvable roles
// (core.ErrUnknownRole) or a failing confirmer. Everything that happens once
// the session exists is reported through the snapshot: failed turns, the
// terminal state and the abort reason (see core.Snapshot.Err).
func (e *Engine) Run(ctx context.Context, caseText string, roleIDs []string, settings core.Settings) (core.Snapshot, error) {
	if err := config.ValidateSession(roleIDs, settings); err != nil {
		return core.Snapshot{}, err
	}
	if caseText == "" {
		return core.Snapshot{}, fmt.Errorf("%w: case text is required", core.ErrInvalidConfiguration)
	}

	roles := make([]core.Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		role, err := e.opts.Registry.Resolve(id)
		if err != nil {
			if !errors.Is(err, core.ErrUnknownRole) {
				err = fmt.Errorf("%w: %w", core.ErrUnknownRole, err)
			}
			return core.Snapshot{}, err
		}
		roles = append(roles, role)
	}

	r := &run{
		sess:   core.NewSession(e.opts.NewID(), caseText, roleIDs, settings),
		roles:  roles,
		parent: ctx,
		start:  time.Now(),
	}
	r.tracker = cost.NewTracker(cost.WithBudget(settings.CostBudget), cost.WithPrices(e.opts.Prices))

	sessCtx := ctx
	if e.opts.SessionTimeout > 0 {
		var cancel context.CancelFunc
		sessCtx, cancel = context.WithTimeout(ctx, e.opts.SessionTimeout)
		defer cancel()
	}

	sessCtx, r.span = e.opts.Tracer.Start(sessCtx, "engine.session", trace.WithAttributes(
		attribute.String("consult.session", r.sess.ID),
		attribute.Int("consult.roles", len(roles)),
		attribute.Int("consult.max_rounds", settings.MaxRounds),
	))
	defer r.span.End()

	e.opts.Metrics.SessionStarted()
	e.opts.Logger.Info("engine.session.started", "session", r.sess.ID, "roles", roleIDs, "max_rounds", settings.MaxRounds)

	if settings.RequireConfirmation {
		plan := e.Plan(r.sess.ID, caseText, roles, settings)
		ok, err := e.opts.Confirmer.Confirm(sessCtx, plan)
		if err != nil {
			snap, _ := e.finish(sessCtx, r, core.StateAborted, core.AbortConfirmationDeclined)
			return snap, fmt.Errorf("confirmation: %w", err)
		}
		if !ok {
			return e.finish(sessCtx, r, core.StateAborted, core.AbortConfirmationDeclined)
		}
	}

	sc := e.opts.Scheduler
	sc.Concurrency = settings.ConcurrencyLimit
	limiter := core.NewCallLimiter(e.opts.MaxCalls)

	r.sched = scheduler.New(e.responder,
		scheduler.WithConfig(sc),
		scheduler.WithRecorder(r.tracker),
		scheduler.WithLogger(e.opts.Logger),
		func(o *scheduler.Options) {
			o.Limiter = limiter
			o.Tracer = e.opts.Tracer
			o.OnAttempt = e.observeAttempt
		},
	)

	for k := 1; k <= settings.MaxRounds; k++ {
		if err := e.transition(sessCtx, r, core.StateRunningRound, k); err != nil {
			return r.sess.Snapshot(), err
		}

		if err := e.opts.Callbacks.ExecuteCallbacks(sessCtx, CallbackBeforeRound, e.callbackContext(r, nil)); err != nil {
			e.opts.Logger.Warn("engine.callback.rejected", "session", r.sess.ID, "round", k, "error", err)
			// Aborting requires Aggregating; record the round as skipped.
			round := skippedRound(r, k)
			m := e.opts.Aggregator.Aggregate(round)
			round.Agreement = &m
			if err := e.transition(sessCtx, r, core.StateAggregating, k); err != nil {
				return r.sess.Snapshot(), err
			}
			if err := r.sess.AppendRound(round); err != nil {
				return r.sess.Snapshot(), err
			}
			return e.finish(sessCtx, r, core.StateAborted, core.AbortRejected)
		}

		round := e.runRound(sessCtx, r, k)

		if err := e.transition(sessCtx, r, core.StateAggregating, k); err != nil {
			return r.sess.Snapshot(), err
		}

		m := e.opts.Aggregator.Aggregate(round)
		round.Agreement = &m

		if err := r.sess.AppendRound(round); err != nil {
			return r.sess.Snapshot(), err
		}

		e.observeRound(r, round)

		if err := e.opts.Callbacks.ExecuteCallbacks(sessCtx, CallbackAfterRound, e.callbackContext(r, &round)); err != nil {
			e.opts.Logger.Warn("engine.callback.rejected", "session", r.sess.ID, "round", k, "error", err)
			return e.finish(sessCtx, r, core.StateAborted, core.AbortRejected)
		}

		if round.Count(core.OutcomeOK) == 0 {
			reason := core.AbortAllRolesFailed
			if sessCtx.Err() != nil {
				reason = cancelReason(ctx)
			}
			return e.finish(sessCtx, r, core.StateAborted, reason)
		}

		if t := settings.ConsensusThreshold; t != nil && aggregate.Consensus(round, m, roleIDs, *t) {
			r.consensus = true
			if k >= settings.MinRounds {
				e.opts.Logger.Info("engine.consensus.reached", "session", r.sess.ID, "round", k, "threshold", *t)
				break
			}
		}

		if k == settings.MaxRounds {
			break
		}

		if sessCtx.Err() != nil {
			return e.finish(sessCtx, r, core.StateAborted, cancelReason(ctx))
		}

		if r.tracker.Exceeded() {
			remaining, _ := r.tracker.RemainingBudget()
			e.opts.Logger.Warn("engine.budget.exceeded", "session", r.sess.ID, "round", k, "remaining", remaining)
			return e.finish(sessCtx, r, core.StateAborted, core.AbortBudgetExceeded)
		}

		r.consensus = false
	}

	// No round follows, so overspending in the last round completes the
	// session; it is still reported.
	if r.tracker.Exceeded() {
		remaining, _ := r.tracker.RemainingBudget()
		_, k := r.sess.State()
		e.opts.Logger.Warn("engine.budget.exceeded", "session", r.sess.ID, "round", k, "remaining", remaining, "final", true)
	}

	if err := e.transition(sessCtx, r, core.StateEvaluating, 0); err != nil {
		return r.sess.Snapshot(), err
	}

	if e.opts.Synthesis {
		if fc, ok := e.synthesize(sessCtx, r); ok {
			if err := r.sess.SetFinalConsensus(fc); err != nil {
				return r.sess.Snapshot(), err
			}
		}
	}

	return e.finish(sessCtx, r, core.StateCompleted, core.AbortNone)
}

// Plan estimates the spend of a session before any call is made. Prompt
// tokens are approximated from the case, the personas and the template;
// completion tokens assume every call uses MaxTokens.
func (e *Engine) Plan(id, caseText string, roles []core.Role, settings core.Settings) core.Plan {
	calls := len(roles) * settings.MaxRounds
	if e.opts.Synthesis {
		calls++
	}

	persona := 0
	for _, r := range roles {
		persona += cost.EstimateTokens(r.Persona)
	}
	avgIn := cost.EstimateTokens(caseText) + cost.EstimateTokens(e.opts.PromptTemplate)
	if len(roles) > 0 {
		avgIn += persona / len(roles)
	}

	est := e.opts.Prices.EstimateRun(e.opts.Parameters.Model, calls, avgIn, e.opts.Parameters.MaxTokens)

	ids := make([]string, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
	}

	plan := core.Plan{
		SessionID:       id,
		Roles:           ids,
		MaxRounds:       settings.MaxRounds,
		Model:           e.opts.Parameters.Model,
		EstimatedTokens: int(est.Tokens()),
		EstimatedCost:   est.Total(),
	}
	if settings.CostBudget != nil {
		b := *settings.CostBudget
		plan.Budget = &b
	}

	return plan
}

// finish evaluates the transcript, moves the session into its terminal
// state, stores the snapshot and records the outcome.
func (e *Engine) finish(ctx context.Context, r *run, state core.SessionState, reason core.AbortReason) (core.Snapshot, error) {
	r.tracker.Stop()

	eval := e.opts.Evaluator.Evaluate(r.sess.Transcript())
	totals := r.tracker.Totals()

	if err := r.sess.Finish(state, reason, &eval, totals, r.consensus); err != nil {
		return r.sess.Snapshot(), err
	}

	snap := r.sess.Snapshot()

	e.opts.Metrics.SessionFinished(state, reason, totals.Cost)

	if rl, ok := e.opts.Logger.(roundLogger); ok {
		rl.LogSession(string(state), string(reason), len(snap.Rounds), totals.Cost, time.Since(r.start))
	} else {
		e.opts.Logger.Info("engine.session.finished", "session", snap.ID, "state", string(state),
			"reason", string(reason), "rounds", len(snap.Rounds), "cost", totals.Cost)
	}

	r.span.SetAttributes(
		attribute.String("consult.state", string(state)),
		attribute.Int("consult.rounds", len(snap.Rounds)),
		attribute.Float64("consult.cost", totals.Cost),
		attribute.Bool("consult.consensus", r.consensus),
	)

	if state == core.StateAborted {
		r.span.SetStatus(codes.Error, string(reason))
		e.opts.Logger.Warn("engine.session.aborted", "session", snap.ID, "reason", string(reason), "rounds", len(snap.Rounds))

		cc := e.callbackContext(r, nil)
		cc.Reason = reason
		if err := e.opts.Callbacks.ExecuteCallbacks(context.WithoutCancel(ctx), CallbackOnAbort, cc); err != nil {
			e.opts.Logger.Warn("engine.callback.failed", "session", snap.ID, "type", string(CallbackOnAbort), "error", err)
		}
	}

	if err := e.opts.Store.Save(snap); err != nil {
		e.opts.Logger.Error("engine.snapshot.save_failed", "session", snap.ID, "error", err)
		return snap, fmt.Errorf("save snapshot: %w", err)
	}

	return snap, nil
}

func (e *Engine) transition(ctx context.Context, r *run, next core.SessionState, round int) error {
	if err := r.sess.Transition(next, round); err != nil {
		return err
	}

	e.opts.Logger.Debug("engine.state.changed", "session", r.sess.ID, "state", string(next), "round", round)

	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackOnStateChange, e.callbackContext(r, nil)); err != nil {
		e.opts.Logger.Warn("engine.callback.failed", "session", r.sess.ID, "type", string(CallbackOnStateChange), "error", err)
	}

	return nil
}

func (e *Engine) callbackContext(r *run, round *core.Round) *CallbackContext {
	state, k := r.sess.State()
	cc := &CallbackContext{
		SessionID: r.sess.ID,
		State:     state,
		Round:     k,
		Cost:      r.tracker.Totals(),
		Metadata:  map[string]any{},
	}
	if round != nil {
		c := round.Clone()
		cc.Record = &c
	}

	return cc
}

func (e *Engine) observeAttempt(info scheduler.AttemptInfo) {
	var (
		kind core.ErrorKind
		err  error
	)
	if info.Err != nil {
		kind = info.Err.Kind
		err = info.Err
	}

	e.opts.Metrics.ObserveAttempt(info.Item.Request.RoleID, kind, info.Latency, info.Usage)

	if rl, ok := e.opts.Logger.(roundLogger); ok {
		rl.LogAttempt(info.Item.Request.RoleID, info.Model, info.Usage.Total(), info.Latency, err == nil, err)
	}
}

func (e *Engine) observeRound(r *run, round core.Round) {
	e.opts.Metrics.ObserveRound(round)

	var mean *float64
	if round.Agreement != nil {
		mean = round.Agreement.Mean
	}
	failed := len(round.Turns) - round.Count(core.OutcomeOK)

	if rl, ok := e.opts.Logger.(roundLogger); ok {
		rl.LogRound(round.Index, len(round.Turns), failed, mean, round.Duration)
		return
	}

	args := []any{"session", r.sess.ID, "round", round.Index, "turns", len(round.Turns), "failed", failed}
	if mean != nil {
		args = append(args, "mean_agreement", *mean)
	}
	e.opts.Logger.Info("engine.round.complete", args...)
}

// cancelReason tells a caller cancellation apart from the session timeout.
func cancelReason(parent context.Context) core.AbortReason {
	if parent.Err() != nil {
		return core.AbortCancelled
	}

	return core.AbortSessionTimeout
}
