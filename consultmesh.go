// Package consultmesh provides a high-level façade over the deliberation
// engine. Most applications interact with this package by:
//  1. Creating a ConsultMesh via New() from a resolved config.Config
//  2. Calling Deliberate with a case description (and optionally role ids)
//  3. Inspecting the returned core.Snapshot or fetching it later by id
//
// The façade selects a responder from the model section of the
// configuration, wires the role registry, snapshot store, confirmation gate,
// logger and metrics into an engine.Engine and keeps usage concise. All
// defaults are safe for local development: without overrides sessions are
// stored in memory and confirmation is auto-approved.
package consultmesh

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/consultmesh/config"
	"github.com/hupe1980/consultmesh/confirm"
	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/cost"
	"github.com/hupe1980/consultmesh/engine"
	"github.com/hupe1980/consultmesh/evaluation"
	"github.com/hupe1980/consultmesh/logging"
	"github.com/hupe1980/consultmesh/metrics"
	"github.com/hupe1980/consultmesh/model"
	"github.com/hupe1980/consultmesh/model/anthropic"
	"github.com/hupe1980/consultmesh/model/openai"
	"github.com/hupe1980/consultmesh/registry"
	"github.com/hupe1980/consultmesh/runner"
	"github.com/hupe1980/consultmesh/session"
)

// Options configures the ConsultMesh instance.
type Options struct {
	// Config is the resolved configuration (defaults to config.Default()).
	Config *config.Config

	// Responder overrides the provider selected by Config.Model.
	Responder core.Responder

	// Registry resolves role ids (defaults to the built-in roles, extended by
	// Config.Deliberation.RolesFile when set).
	Registry *registry.Registry

	// Store keeps finalized snapshots (defaults to an in-memory store).
	Store core.SnapshotStore

	// Confirmer gates sessions that require confirmation (defaults to
	// auto-approve).
	Confirmer core.Confirmer

	// Prices used for budgets and estimates.
	Prices cost.PriceTable

	// Callbacks receive lifecycle notifications.
	Callbacks *engine.CallbackManager

	// MaxConcurrentSessions bounds sessions started with Start.
	MaxConcurrentSessions int

	// Metrics is optional.
	Metrics *metrics.Collector

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// ConsultMesh is the high-level façade aggregating the engine and services.
type ConsultMesh struct {
	opts   Options
	engine *engine.Engine
	runner *runner.Runner
}

// New creates a ConsultMesh with optional overrides.
func New(optFns ...func(o *Options)) (*ConsultMesh, error) {
	opts := Options{
		Store:     session.NewInMemoryStore(),
		Confirmer: confirm.AutoApprove{},
		Prices:    cost.DefaultPriceTable(),
		Logger:    logging.NoOpLogger{},

		MaxConcurrentSessions: 4,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if errs := opts.Config.Validate(); errs != nil {
		return nil, errs
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Registry == nil {
		opts.Registry = registry.Default()
		if f := opts.Config.Deliberation.RolesFile; f != "" {
			if err := opts.Registry.LoadFile(f); err != nil {
				return nil, err
			}
		}
	}

	if opts.Responder == nil {
		r, err := NewResponder(opts.Config.Model)
		if err != nil {
			return nil, err
		}
		opts.Responder = r
	}

	ev, err := evaluation.New(evaluation.WithWeights(opts.Config.EvaluationWeights()))
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(opts.Responder,
		engine.FromConfig(opts.Config),
		engine.WithRegistry(opts.Registry),
		engine.WithStore(opts.Store),
		engine.WithConfirmer(opts.Confirmer),
		engine.WithPrices(opts.Prices),
		engine.WithEvaluator(ev),
		engine.WithCallbacks(opts.Callbacks),
		engine.WithMetrics(opts.Metrics),
		engine.WithLogger(opts.Logger),
	)
	if err != nil {
		return nil, err
	}

	r := runner.New(eng, func(o *runner.Options) {
		o.MaxConcurrentSessions = opts.MaxConcurrentSessions
		o.Logger = opts.Logger
	})

	return &ConsultMesh{opts: opts, engine: eng, runner: r}, nil
}

// NewResponder builds the responder selected by the model section.
func NewResponder(cfg config.ModelConfig) (core.Responder, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewResponder(func(o *openai.Options) {
			o.Model = cfg.Name
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = int64(cfg.MaxTokens)
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case "anthropic":
		return anthropic.NewResponder(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Name)
			o.Temperature = cfg.Temperature
			o.MaxTokens = int64(cfg.MaxTokens)
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case "sim":
		return model.NewSimulator(func(o *model.SimulatorOptions) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", core.ErrInvalidConfiguration, cfg.Provider)
	}
}

// Deliberate runs a session over caseText with the configured settings.
// Without roleIDs the configured role list is used.
func (m *ConsultMesh) Deliberate(ctx context.Context, caseText string, roleIDs ...string) (core.Snapshot, error) {
	if len(roleIDs) == 0 {
		roleIDs = m.opts.Config.Deliberation.Roles
	}

	return m.engine.Run(ctx, caseText, roleIDs, m.opts.Config.Settings())
}

// Run runs a session with explicit settings.
func (m *ConsultMesh) Run(ctx context.Context, caseText string, roleIDs []string, settings core.Settings) (core.Snapshot, error) {
	return m.engine.Run(ctx, caseText, roleIDs, settings)
}

// Start deliberates in the background with the configured settings. The
// channel yields one result and is then closed.
func (m *ConsultMesh) Start(ctx context.Context, caseText string, roleIDs ...string) (string, <-chan runner.Result) {
	if len(roleIDs) == 0 {
		roleIDs = m.opts.Config.Deliberation.Roles
	}

	return m.runner.Run(ctx, caseText, roleIDs, m.opts.Config.Settings())
}

// Cancel stops a run started with Start.
func (m *ConsultMesh) Cancel(runID string) error { return m.runner.Cancel(runID) }

// Session returns a finalized snapshot by id.
func (m *ConsultMesh) Session(id string) (core.Snapshot, error) {
	return m.opts.Store.Get(id)
}

// Roles lists the registered roles.
func (m *ConsultMesh) Roles() []core.Role { return m.opts.Registry.List() }

// Engine exposes the underlying engine.
func (m *ConsultMesh) Engine() *engine.Engine { return m.engine }
