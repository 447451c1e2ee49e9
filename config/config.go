// Package config resolves deliberation settings from defaults, an optional
// YAML file and CONSULT_* environment variables, and validates them before
// any session is constructed.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/evaluation"
	"github.com/hupe1980/consultmesh/scheduler"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// CONSULT_DELIBERATION_MAX_ROUNDS.
const EnvPrefix = "CONSULT"

// Config is the complete, structured configuration.
type Config struct {
	Deliberation DeliberationConfig `mapstructure:"deliberation" yaml:"deliberation"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler" yaml:"scheduler"`
	Model        ModelConfig        `mapstructure:"model" yaml:"model"`
	Evaluation   EvaluationConfig   `mapstructure:"evaluation" yaml:"evaluation"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// DeliberationConfig holds the session construction parameters.
type DeliberationConfig struct {
	MaxRounds           int           `mapstructure:"max_rounds" yaml:"max_rounds"`
	MinRounds           int           `mapstructure:"min_rounds" yaml:"min_rounds"`
	ConcurrencyLimit    int           `mapstructure:"concurrency_limit" yaml:"concurrency_limit"`
	CostBudget          *float64      `mapstructure:"cost_budget" yaml:"cost_budget,omitempty"`
	ConsensusThreshold  *float64      `mapstructure:"consensus_threshold" yaml:"consensus_threshold,omitempty"`
	RequireConfirmation bool          `mapstructure:"require_confirmation" yaml:"require_confirmation"`
	RoundTimeout        time.Duration `mapstructure:"round_timeout" yaml:"round_timeout"`
	SessionTimeout      time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	// MaxCalls caps responder attempts per session. 0 means unlimited.
	MaxCalls int `mapstructure:"max_calls" yaml:"max_calls"`
	// FinalSynthesis adds one closing synthesis call to completed sessions.
	FinalSynthesis bool     `mapstructure:"final_synthesis" yaml:"final_synthesis"`
	Roles          []string `mapstructure:"roles" yaml:"roles"`
	RolesFile      string   `mapstructure:"roles_file" yaml:"roles_file,omitempty"`
}

// SchedulerConfig mirrors scheduler.Config without the concurrency width,
// which comes from the deliberation section.
type SchedulerConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	Jitter            float64       `mapstructure:"jitter" yaml:"jitter"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
}

// ModelConfig selects and parameterizes the responder.
type ModelConfig struct {
	// Provider is one of "openai", "anthropic" or "sim".
	Provider    string  `mapstructure:"provider" yaml:"provider"`
	Name        string  `mapstructure:"name" yaml:"name"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	APIKey      string  `mapstructure:"api_key" yaml:"-"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

// EvaluationConfig holds the declared criterion weights.
type EvaluationConfig struct {
	Weights map[string]float64 `mapstructure:"weights" yaml:"weights"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns a fresh configuration holding the built-in defaults.
func Default() *Config {
	threshold := 0.7
	sched := scheduler.DefaultConfig()

	weights := make(map[string]float64)
	for c, w := range evaluation.DefaultWeights() {
		weights[string(c)] = w
	}

	return &Config{
		Deliberation: DeliberationConfig{
			MaxRounds:           3,
			MinRounds:           1,
			ConcurrencyLimit:    3,
			ConsensusThreshold:  &threshold,
			RequireConfirmation: true,
			RoundTimeout:        5 * time.Minute,
			SessionTimeout:      30 * time.Minute,
			Roles:               []string{"ethicist", "healthcare_professional", "patient_advocate"},
		},
		Scheduler: SchedulerConfig{
			MaxAttempts:       sched.MaxAttempts,
			InitialBackoff:    sched.InitialBackoff,
			MaxBackoff:        sched.MaxBackoff,
			BackoffMultiplier: sched.BackoffMultiplier,
			Jitter:            sched.Jitter,
			AttemptTimeout:    30 * time.Second,
		},
		Model: ModelConfig{
			Provider:    "openai",
			Name:        "gpt-4.1-2025-04-14",
			Temperature: 0.7,
			MaxTokens:   4000,
		},
		Evaluation: EvaluationConfig{Weights: weights},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
	}
}

// DefaultModelName returns the model used when a provider is selected without
// naming a model.
func DefaultModelName(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	case "sim":
		return "simulator"
	default:
		return "gpt-4.1-2025-04-14"
	}
}

// Load resolves the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it. The returned
// error wraps core.ErrInvalidConfiguration when validation fails.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Optional keys have no default, bind them so the environment is consulted.
	_ = v.BindEnv("deliberation.cost_budget")
	_ = v.BindEnv("model.api_key")
	_ = v.BindEnv("model.base_url")
	_ = v.BindEnv("deliberation.roles_file")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("deliberation.max_rounds", d.Deliberation.MaxRounds)
	v.SetDefault("deliberation.min_rounds", d.Deliberation.MinRounds)
	v.SetDefault("deliberation.concurrency_limit", d.Deliberation.ConcurrencyLimit)
	v.SetDefault("deliberation.consensus_threshold", *d.Deliberation.ConsensusThreshold)
	v.SetDefault("deliberation.require_confirmation", d.Deliberation.RequireConfirmation)
	v.SetDefault("deliberation.round_timeout", d.Deliberation.RoundTimeout)
	v.SetDefault("deliberation.session_timeout", d.Deliberation.SessionTimeout)
	v.SetDefault("deliberation.max_calls", d.Deliberation.MaxCalls)
	v.SetDefault("deliberation.final_synthesis", d.Deliberation.FinalSynthesis)
	v.SetDefault("deliberation.roles", d.Deliberation.Roles)

	v.SetDefault("scheduler.max_attempts", d.Scheduler.MaxAttempts)
	v.SetDefault("scheduler.initial_backoff", d.Scheduler.InitialBackoff)
	v.SetDefault("scheduler.max_backoff", d.Scheduler.MaxBackoff)
	v.SetDefault("scheduler.backoff_multiplier", d.Scheduler.BackoffMultiplier)
	v.SetDefault("scheduler.jitter", d.Scheduler.Jitter)
	v.SetDefault("scheduler.attempt_timeout", d.Scheduler.AttemptTimeout)
	v.SetDefault("scheduler.requests_per_second", d.Scheduler.RequestsPerSecond)
	v.SetDefault("scheduler.burst", d.Scheduler.Burst)

	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.max_tokens", d.Model.MaxTokens)

	v.SetDefault("evaluation.weights", d.Evaluation.Weights)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Settings converts the deliberation section into session settings.
func (c *Config) Settings() core.Settings {
	s := core.Settings{
		MaxRounds:           c.Deliberation.MaxRounds,
		MinRounds:           c.Deliberation.MinRounds,
		ConcurrencyLimit:    c.Deliberation.ConcurrencyLimit,
		CostBudget:          c.Deliberation.CostBudget,
		ConsensusThreshold:  c.Deliberation.ConsensusThreshold,
		RequireConfirmation: c.Deliberation.RequireConfirmation,
	}

	return s.Clone()
}

// SchedulerConfig converts the scheduler section, using the deliberation
// concurrency limit as the pool width.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Concurrency:       c.Deliberation.ConcurrencyLimit,
		MaxAttempts:       c.Scheduler.MaxAttempts,
		InitialBackoff:    c.Scheduler.InitialBackoff,
		MaxBackoff:        c.Scheduler.MaxBackoff,
		BackoffMultiplier: c.Scheduler.BackoffMultiplier,
		Jitter:            c.Scheduler.Jitter,
		AttemptTimeout:    c.Scheduler.AttemptTimeout,
		RequestsPerSecond: c.Scheduler.RequestsPerSecond,
		Burst:             c.Scheduler.Burst,
	}
}

// Parameters returns the generation parameters forwarded to responders.
func (c *Config) Parameters() core.Parameters {
	return core.Parameters{
		Model:       c.Model.Name,
		Temperature: c.Model.Temperature,
		MaxTokens:   c.Model.MaxTokens,
	}
}

// EvaluationWeights returns the weights keyed by criterion.
func (c *Config) EvaluationWeights() map[core.Criterion]float64 {
	out := make(map[core.Criterion]float64, len(c.Evaluation.Weights))
	for k, v := range c.Evaluation.Weights {
		out[core.Criterion(k)] = v
	}

	return out
}

// IsInvalid reports whether err is a configuration validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, core.ErrInvalidConfiguration)
}
