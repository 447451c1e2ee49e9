package config

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/logging"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // config key, e.g. "deliberation.max_rounds"
	Value   any
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// Unwrap ties every validation failure to core.ErrInvalidConfiguration.
func (e ValidationError) Unwrap() error { return core.ErrInvalidConfiguration }

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}

	return sb.String()
}

// Unwrap ties the collection to core.ErrInvalidConfiguration.
func (e ValidationErrors) Unwrap() error { return core.ErrInvalidConfiguration }

// ValidProviders returns the recognized responder providers.
func ValidProviders() []string {
	return []string{"openai", "anthropic", "sim"}
}

// ValidLogFormats returns the recognized log output formats.
func ValidLogFormats() []string {
	return []string{"json", "text"}
}

// Validate checks the Config and returns every problem found. A nil result
// means the configuration is usable.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, c.validateDeliberation()...)
	errs = append(errs, c.validateScheduler()...)
	errs = append(errs, c.validateModel()...)
	errs = append(errs, c.validateEvaluation()...)
	errs = append(errs, c.validateLogging()...)

	if len(errs) == 0 {
		return nil
	}

	return errs
}

// ValidateSession checks a role list and session settings the same way
// ValidateSession checks the deliberation limits and role list, for callers that build settings
// directly.
func ValidateSession(roles []string, s core.Settings) error {
	d := DeliberationConfig{
		MaxRounds:          s.MaxRounds,
		MinRounds:          s.MinRounds,
		ConcurrencyLimit:   s.ConcurrencyLimit,
		CostBudget:         s.CostBudget,
		ConsensusThreshold: s.ConsensusThreshold,
	}
	errs := append(d.validateLimits(), validateRoles(roles)...)
	if len(errs) > 0 {
		return errs
	}

	return nil
}

func (c *Config) validateDeliberation() ValidationErrors {
	errs := c.Deliberation.validateLimits()
	return append(errs, validateRoles(c.Deliberation.Roles)...)
}

func (d DeliberationConfig) validateLimits() ValidationErrors {
	var errs ValidationErrors

	if d.MaxRounds < 1 {
		errs = append(errs, ValidationError{"deliberation.max_rounds", d.MaxRounds, "must be at least 1"})
	}
	if d.MinRounds < 1 || (d.MaxRounds >= 1 && d.MinRounds > d.MaxRounds) {
		errs = append(errs, ValidationError{"deliberation.min_rounds", d.MinRounds, "must be between 1 and max_rounds"})
	}
	if d.ConcurrencyLimit < 1 {
		errs = append(errs, ValidationError{"deliberation.concurrency_limit", d.ConcurrencyLimit, "must be at least 1"})
	}
	if d.CostBudget != nil && (*d.CostBudget < 0 || math.IsNaN(*d.CostBudget)) {
		errs = append(errs, ValidationError{"deliberation.cost_budget", *d.CostBudget, "must be >= 0"})
	}
	if d.ConsensusThreshold != nil && !inUnit(*d.ConsensusThreshold) {
		errs = append(errs, ValidationError{"deliberation.consensus_threshold", *d.ConsensusThreshold, "must be between 0 and 1"})
	}
	if d.RoundTimeout < 0 {
		errs = append(errs, ValidationError{"deliberation.round_timeout", d.RoundTimeout, "must be >= 0"})
	}
	if d.SessionTimeout < 0 {
		errs = append(errs, ValidationError{"deliberation.session_timeout", d.SessionTimeout, "must be >= 0"})
	}
	if d.MaxCalls < 0 {
		errs = append(errs, ValidationError{"deliberation.max_calls", d.MaxCalls, "must be >= 0"})
	}

	return errs
}

// validateRoles rejects empty and duplicate role lists.
func validateRoles(roles []string) ValidationErrors {
	var errs ValidationErrors
	if len(roles) == 0 {
		errs = append(errs, ValidationError{"deliberation.roles", roles, "at least one role is required"})
	}

	seen := make(map[string]bool, len(roles))
	for _, id := range roles {
		if id == "" {
			errs = append(errs, ValidationError{"deliberation.roles", id, "role id must not be empty"})
			continue
		}
		if seen[id] {
			errs = append(errs, ValidationError{"deliberation.roles", id, "duplicate role id"})
		}
		seen[id] = true
	}

	return errs
}

func (c *Config) validateScheduler() ValidationErrors {
	var errs ValidationErrors
	s := c.Scheduler

	if s.MaxAttempts < 1 {
		errs = append(errs, ValidationError{"scheduler.max_attempts", s.MaxAttempts, "must be at least 1"})
	}
	if s.InitialBackoff < 0 {
		errs = append(errs, ValidationError{"scheduler.initial_backoff", s.InitialBackoff, "must be >= 0"})
	}
	if s.MaxBackoff < 0 {
		errs = append(errs, ValidationError{"scheduler.max_backoff", s.MaxBackoff, "must be >= 0"})
	}
	if s.BackoffMultiplier < 1 {
		errs = append(errs, ValidationError{"scheduler.backoff_multiplier", s.BackoffMultiplier, "must be >= 1"})
	}
	if !inUnit(s.Jitter) {
		errs = append(errs, ValidationError{"scheduler.jitter", s.Jitter, "must be between 0 and 1"})
	}
	if s.AttemptTimeout < 0 {
		errs = append(errs, ValidationError{"scheduler.attempt_timeout", s.AttemptTimeout, "must be >= 0"})
	}
	if s.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{"scheduler.requests_per_second", s.RequestsPerSecond, "must be >= 0"})
	}
	if s.Burst < 0 {
		errs = append(errs, ValidationError{"scheduler.burst", s.Burst, "must be >= 0"})
	}

	return errs
}

func (c *Config) validateModel() ValidationErrors {
	var errs ValidationErrors
	m := c.Model

	if !slices.Contains(ValidProviders(), m.Provider) {
		errs = append(errs, ValidationError{"model.provider", m.Provider, "must be one of " + strings.Join(ValidProviders(), ", ")})
	}
	if m.Provider != "sim" && m.Name == "" {
		errs = append(errs, ValidationError{"model.name", m.Name, "is required"})
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		errs = append(errs, ValidationError{"model.temperature", m.Temperature, "must be between 0 and 2"})
	}
	if m.MaxTokens < 1 {
		errs = append(errs, ValidationError{"model.max_tokens", m.MaxTokens, "must be at least 1"})
	}

	return errs
}

func (c *Config) validateEvaluation() ValidationErrors {
	var errs ValidationErrors

	known := make(map[string]bool)
	for _, cr := range core.Criteria() {
		known[string(cr)] = true
	}

	sum := 0.0
	for k, w := range c.Evaluation.Weights {
		if !known[k] {
			errs = append(errs, ValidationError{"evaluation.weights." + k, w, "unknown criterion"})
			continue
		}
		if !inUnit(w) {
			errs = append(errs, ValidationError{"evaluation.weights." + k, w, "must be between 0 and 1"})
		}
		sum += w
	}
	if len(c.Evaluation.Weights) > 0 && math.Abs(sum-1) > 1e-6 {
		errs = append(errs, ValidationError{"evaluation.weights", sum, "weights must sum to 1"})
	}

	return errs
}

func (c *Config) validateLogging() ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, ValidationError{"logging.level", c.Logging.Level, err.Error()})
	}
	if !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errs = append(errs, ValidationError{"logging.format", c.Logging.Format, "must be one of " + strings.Join(ValidLogFormats(), ", ")})
	}

	return errs
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}
