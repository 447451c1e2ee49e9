// Package evaluation scores the reasoning quality of a finished deliberation.
// Each criterion is computed independently by a pluggable Scorer and the
// overall score is a declared weighted sum. Evaluation is a pure function of
// the transcript and never fails on partial or aborted sessions.
package evaluation

import (
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/consultmesh/core"
)

// Input is the precomputed view every scorer receives.
type Input struct {
	Transcript core.Transcript
	// Texts holds every ok turn text in (round, role-list) order.
	Texts []string
	// Final is the latest ok text of each role joined in role-list order.
	Final string
	// Principles found anywhere in the ok turns, in declaration order.
	Principles []string
	// FinalConfidence is the mean stance confidence of the latest turns; nil
	// when no latest turn carried a stance.
	FinalConfidence *float64
}

// Scorer computes one criterion in [0,1].
type Scorer interface {
	Criterion() core.Criterion
	Score(in Input) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc struct {
	Name core.Criterion
	Fn   func(in Input) float64
}

// Criterion implements Scorer.
func (s ScorerFunc) Criterion() core.Criterion { return s.Name }

// Score implements Scorer.
func (s ScorerFunc) Score(in Input) float64 { return s.Fn(in) }

// Benchmark is a reference evaluation to compare against.
type Benchmark struct {
	Overall float64                    `json:"overall" yaml:"overall"`
	Scores  map[core.Criterion]float64 `json:"scores" yaml:"scores"`
	// Distribution of overall scores used for the percentile.
	Distribution []float64 `json:"distribution,omitempty" yaml:"distribution,omitempty"`
}

// Options configures an Evaluator.
type Options struct {
	Weights   map[core.Criterion]float64
	Scorers   []Scorer
	Benchmark *Benchmark
}

// DefaultWeights returns the declared default weights (sum 1).
func DefaultWeights() map[core.Criterion]float64 {
	return map[core.Criterion]float64{
		core.CriterionPrincipleCoverage:   0.25,
		core.CriterionReasoningDepth:      0.25,
		core.CriterionEvidenceUse:         0.15,
		core.CriterionStakeholderCoverage: 0.15,
		core.CriterionPracticality:        0.20,
	}
}

// DefaultScorers returns the keyword heuristics for the five fixed criteria.
func DefaultScorers() []Scorer {
	return []Scorer{
		ScorerFunc{core.CriterionPrincipleCoverage, PrincipleCoverage},
		ScorerFunc{core.CriterionReasoningDepth, ReasoningDepth},
		ScorerFunc{core.CriterionEvidenceUse, EvidenceUse},
		ScorerFunc{core.CriterionStakeholderCoverage, StakeholderCoverage},
		ScorerFunc{core.CriterionPracticality, Practicality},
	}
}

// Evaluator computes EvaluationScores.
type Evaluator struct {
	weights   map[core.Criterion]float64
	scorers   []Scorer
	benchmark *Benchmark
}

// New validates the weights against the scorers and returns an Evaluator.
// Every scorer needs a weight in [0,1] and the weights must sum to 1.
func New(optFns ...func(o *Options)) (*Evaluator, error) {
	opts := Options{Weights: DefaultWeights(), Scorers: DefaultScorers()}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := ValidateWeights(opts.Weights, opts.Scorers); err != nil {
		return nil, err
	}

	w := make(map[core.Criterion]float64, len(opts.Weights))
	for k, v := range opts.Weights {
		w[k] = v
	}

	return &Evaluator{weights: w, scorers: append([]Scorer(nil), opts.Scorers...), benchmark: opts.Benchmark}, nil
}

// WithWeights overrides the criterion weights.
func WithWeights(w map[core.Criterion]float64) func(o *Options) {
	return func(o *Options) { o.Weights = w }
}

// WithBenchmark attaches a benchmark comparison to every evaluation.
func WithBenchmark(b *Benchmark) func(o *Options) {
	return func(o *Options) { o.Benchmark = b }
}

// ValidateWeights checks weights against the scorers.
func ValidateWeights(weights map[core.Criterion]float64, scorers []Scorer) error {
	if len(scorers) == 0 {
		return fmt.Errorf("%w: no evaluation criteria", core.ErrInvalidConfiguration)
	}

	sum := 0.0
	seen := make(map[core.Criterion]bool, len(scorers))
	for _, s := range scorers {
		c := s.Criterion()
		if seen[c] {
			return fmt.Errorf("%w: duplicate criterion %s", core.ErrInvalidConfiguration, c)
		}
		seen[c] = true

		w, ok := weights[c]
		if !ok {
			return fmt.Errorf("%w: missing weight for %s", core.ErrInvalidConfiguration, c)
		}
		if w < 0 || w > 1 || math.IsNaN(w) {
			return fmt.Errorf("%w: weight for %s must be in [0,1], got %v", core.ErrInvalidConfiguration, c, w)
		}
		sum += w
	}
	for c := range weights {
		if !seen[c] {
			return fmt.Errorf("%w: weight for unknown criterion %s", core.ErrInvalidConfiguration, c)
		}
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: weights must sum to 1, got %.4f", core.ErrInvalidConfiguration, sum)
	}

	return nil
}

// Evaluate scores a transcript. Calling it twice on the same transcript
// yields identical results.
func (e *Evaluator) Evaluate(t core.Transcript) core.EvaluationScore {
	in := NewInput(t)

	score := core.EvaluationScore{
		Scores:     make(map[core.Criterion]float64, len(e.scorers)),
		Weights:    make(map[core.Criterion]float64, len(e.weights)),
		Principles: append([]string(nil), in.Principles...),
	}

	for _, s := range e.scorers {
		c := s.Criterion()
		v := clamp01(s.Score(in))
		score.Scores[c] = v
		score.Weights[c] = e.weights[c]
		score.Overall += v * e.weights[c]
	}
	score.Overall = clamp01(score.Overall)

	score.Strengths = Strengths(in)
	score.Improvements = Improvements(in)
	score.Innovation = Innovation(in.Texts)

	if e.benchmark != nil {
		b := Compare(score, *e.benchmark)
		score.Benchmark = &b
	}

	return score
}

// NewInput derives the scorer view from a transcript.
func NewInput(t core.Transcript) Input {
	in := Input{Transcript: t}

	latest := make(map[string]core.Turn, len(t.Roles))
	for _, r := range t.Rounds {
		for _, turn := range r.Turns {
			if !turn.OK() {
				continue
			}
			in.Texts = append(in.Texts, turn.Text)
			latest[turn.RoleID] = turn
		}
	}

	var (
		parts   []string
		confSum float64
		confN   int
	)
	for _, id := range t.Roles {
		turn, ok := latest[id]
		if !ok {
			continue
		}
		parts = append(parts, turn.Text)
		if turn.Stance != nil {
			confSum += turn.Stance.Confidence
			confN++
		}
	}
	in.Final = strings.Join(parts, "\n\n")
	if confN > 0 {
		c := confSum / float64(confN)
		in.FinalConfidence = &c
	}

	in.Principles = DetectPrinciples(strings.Join(in.Texts, "\n"))

	return in
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
