package evaluation

import (
	"strings"

	"github.com/hupe1980/consultmesh/core"
)

// Strengths lists notable qualities of the deliberation.
func Strengths(in Input) []string {
	var out []string
	text := strings.ToLower(in.Final)

	if len(in.Principles) >= 3 {
		out = append(out, "Strong coverage of ethical principles")
	}
	if len(in.Final) > 300 {
		out = append(out, "Comprehensive recommendation")
	}
	if in.FinalConfidence != nil && *in.FinalConfidence > 0.7 {
		out = append(out, "High confidence in recommendation")
	}
	if strings.Contains(text, "implement") || strings.Contains(text, "approach") {
		out = append(out, "Includes practical implementation guidance")
	}

	return out
}

// Improvements lists gaps a better deliberation would close.
func Improvements(in Input) []string {
	var out []string
	text := strings.ToLower(in.Final)

	has := func(p string) bool {
		for _, x := range in.Principles {
			if x == p {
				return true
			}
		}
		return false
	}

	if !has("autonomy") {
		out = append(out, "Consider patient autonomy more explicitly")
	}
	if !has("justice") {
		out = append(out, "Address justice/fairness considerations")
	}
	if len(in.Final) < 200 {
		out = append(out, "Provide more detailed recommendation")
	}
	if !strings.Contains(text, "patient") && !strings.Contains(text, "family") {
		out = append(out, "Consider patient and family perspectives")
	}
	if !strings.Contains(text, "team") && !strings.Contains(text, "staff") {
		out = append(out, "Consider healthcare team perspectives")
	}
	if !strings.Contains(text, "implement") && !strings.Contains(text, "approach") {
		out = append(out, "Add more practical implementation guidance")
	}

	return out
}

// Innovation computes novelty (1 minus the mean share of the shared
// vocabulary each response uses), perspective diversity (mean share of key
// principles per response) and coherence (mean Jaccard overlap of adjacent
// responses).
func Innovation(texts []string) core.InnovationMetrics {
	if len(texts) == 0 {
		return core.InnovationMetrics{}
	}

	sets := make([]map[string]struct{}, len(texts))
	all := map[string]struct{}{}
	for i, t := range texts {
		sets[i] = map[string]struct{}{}
		for _, w := range strings.Fields(strings.ToLower(t)) {
			sets[i][w] = struct{}{}
			all[w] = struct{}{}
		}
	}

	var m core.InnovationMetrics

	if len(all) > 0 {
		ratio := 0.0
		for _, s := range sets {
			ratio += float64(len(s)) / float64(len(all))
		}
		m.Novelty = 1 - ratio/float64(len(sets))
	}

	for _, t := range texts {
		m.PerspectiveDiversity += float64(len(DetectPrinciples(t))) / float64(len(KeyPrinciples))
	}
	m.PerspectiveDiversity /= float64(len(texts))

	if len(sets) > 1 {
		total, n := 0.0, 0
		for i := 0; i < len(sets)-1; i++ {
			inter, union := jaccard(sets[i], sets[i+1])
			if union > 0 {
				total += float64(inter) / float64(union)
				n++
			}
		}
		if n > 0 {
			m.Coherence = total / float64(n)
		}
	}

	return m
}

func jaccard(a, b map[string]struct{}) (inter, union int) {
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union = len(a) + len(b) - inter
	return inter, union
}

// Compare reports deltas against a benchmark and, when the benchmark carries a
// distribution, the share of benchmark scores strictly below ours.
func Compare(score core.EvaluationScore, b Benchmark) core.BenchmarkComparison {
	c := core.BenchmarkComparison{
		OverallDelta:   score.Overall - b.Overall,
		CriteriaDeltas: make(map[core.Criterion]float64, len(score.Scores)),
	}

	for k, v := range score.Scores {
		c.CriteriaDeltas[k] = v - b.Scores[k]
	}

	if len(b.Distribution) > 0 {
		below := 0
		for _, v := range b.Distribution {
			if v < score.Overall {
				below++
			}
		}
		p := float64(below) / float64(len(b.Distribution))
		c.Percentile = &p
	}

	return c
}
