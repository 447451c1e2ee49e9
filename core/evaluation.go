package core

import "sort"

// Criterion names one evaluation dimension.
type Criterion string

const (
	CriterionPrincipleCoverage   Criterion = "principle_coverage"
	CriterionReasoningDepth      Criterion = "reasoning_depth"
	CriterionEvidenceUse         Criterion = "evidence_use"
	CriterionStakeholderCoverage Criterion = "stakeholder_coverage"
	CriterionPracticality        Criterion = "practicality"
)

// Criteria returns the fixed criteria in declaration order.
func Criteria() []Criterion {
	return []Criterion{
		CriterionPrincipleCoverage,
		CriterionReasoningDepth,
		CriterionEvidenceUse,
		CriterionStakeholderCoverage,
		CriterionPracticality,
	}
}

// InnovationMetrics describe how varied and connected the contributions were.
type InnovationMetrics struct {
	Novelty              float64 `json:"novelty"`
	PerspectiveDiversity float64 `json:"perspective_diversity"`
	Coherence            float64 `json:"coherence"`
}

// BenchmarkComparison compares a score against a reference run.
type BenchmarkComparison struct {
	OverallDelta   float64               `json:"overall_delta"`
	CriteriaDeltas map[Criterion]float64 `json:"criteria_deltas"`
	// Percentile is set when the benchmark carried a score distribution.
	Percentile *float64 `json:"percentile,omitempty"`
}

// EvaluationScore is the per-session quality record computed once the session
// reached a terminal state. Every score is in [0,1]; Overall is the weighted
// sum of Scores using Weights.
type EvaluationScore struct {
	Scores       map[Criterion]float64 `json:"scores"`
	Weights      map[Criterion]float64 `json:"weights"`
	Overall      float64               `json:"overall"`
	Principles   []string              `json:"principles,omitempty"`
	Strengths    []string              `json:"strengths,omitempty"`
	Improvements []string              `json:"improvements,omitempty"`
	Innovation   InnovationMetrics     `json:"innovation"`
	Benchmark    *BenchmarkComparison  `json:"benchmark,omitempty"`
}

// Score returns the value recorded for c.
func (e EvaluationScore) Score(c Criterion) float64 { return e.Scores[c] }

// SortedCriteria returns the scored criteria in lexical order.
func (e EvaluationScore) SortedCriteria() []Criterion {
	out := make([]Criterion, 0, len(e.Scores))
	for c := range e.Scores {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Clone returns a deep copy.
func (e EvaluationScore) Clone() EvaluationScore {
	c := e
	c.Scores = cloneCriterionMap(e.Scores)
	c.Weights = cloneCriterionMap(e.Weights)
	c.Principles = append([]string(nil), e.Principles...)
	c.Strengths = append([]string(nil), e.Strengths...)
	c.Improvements = append([]string(nil), e.Improvements...)
	if e.Benchmark != nil {
		b := *e.Benchmark
		b.CriteriaDeltas = cloneCriterionMap(e.Benchmark.CriteriaDeltas)
		b.Percentile = cloneFloat(e.Benchmark.Percentile)
		c.Benchmark = &b
	}

	return c
}

func cloneCriterionMap(m map[Criterion]float64) map[Criterion]float64 {
	if m == nil {
		return nil
	}
	out := make(map[Criterion]float64, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
