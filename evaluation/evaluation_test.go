package evaluation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/internal/testutil"
)

const caseText = `Patient: 78-year-old woman, advanced dementia
Condition: aspiration pneumonia, recurrent infections
Family request: continue aggressive treatment`

func transcript() core.Transcript {
	r1 := testutil.NewRound(1).
		Turn(testutil.NewTurn("ethicist", 1).Text("Autonomy matters; her informed consent is impossible.").Stance(core.Neutral, 0.6).Build()).
		Turn(testutil.NewTurn("clinician", 1).Failed("timeout").Build()).
		Build()
	r2 := testutil.NewRound(2).
		Turn(testutil.NewTurn("ethicist", 2).Text(strings.Repeat("Because of recurrent infections we should balance the harm to the patient. ", 4) +
			"However, the family and the medical team should first discuss a strategy, then document it and schedule a review.").Stance(core.Support, 0.9).Build()).
		Turn(testutil.NewTurn("clinician", 2).Text("Justice and fairness require we weigh aspiration pneumonia outcomes; the physician and nurse should implement this approach.").Stance(core.Support, 0.8).Build()).
		Build()

	return core.Transcript{CaseText: caseText, Roles: []string{"ethicist", "clinician"}, Rounds: []core.Round{r1, r2}}
}

func TestEvaluate_ScoresInRangeAndWeighted(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	score := e.Evaluate(transcript())
	require.Len(t, score.Scores, 5)

	sum := 0.0
	for c, v := range score.Scores {
		assert.GreaterOrEqual(t, v, 0.0, c)
		assert.LessOrEqual(t, v, 1.0, c)
		sum += v * score.Weights[c]
	}
	assert.InDelta(t, sum, score.Overall, 1e-12)

	assert.Equal(t, []string{"autonomy", "non-maleficence", "justice"}, score.Principles)
	assert.Equal(t, 0.75, score.Score(core.CriterionPrincipleCoverage))
	assert.Contains(t, score.Strengths, "Strong coverage of ethical principles")
	assert.Contains(t, score.Strengths, "High confidence in recommendation")
	assert.NotContains(t, score.Improvements, "Consider healthcare team perspectives")
	assert.NotContains(t, score.Improvements, "Consider patient autonomy more explicitly")
	assert.NotContains(t, score.Improvements, "Address justice/fairness considerations")
}

func TestEvaluate_Idempotent(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	tr := transcript()
	assert.Equal(t, e.Evaluate(tr), e.Evaluate(tr))
}

func TestEvaluate_EmptyTranscriptDegrades(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	score := e.Evaluate(core.Transcript{CaseText: caseText, Roles: []string{"a", "b"}})
	assert.Equal(t, 0.0, score.Overall)
	assert.Len(t, score.Scores, 5)
	assert.Equal(t, core.InnovationMetrics{}, score.Innovation)
	assert.NotEmpty(t, score.Improvements)
}

func TestValidateWeights(t *testing.T) {
	_, err := New(WithWeights(map[core.Criterion]float64{core.CriterionPracticality: 1}))
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	w := DefaultWeights()
	w[core.CriterionPracticality] = 0.3
	_, err = New(WithWeights(w))
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	w = DefaultWeights()
	w["made_up"] = 0
	_, err = New(WithWeights(w))
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestEvaluate_CustomScorerIsClamped(t *testing.T) {
	e, err := New(func(o *Options) {
		o.Scorers = []Scorer{ScorerFunc{Name: "loud", Fn: func(Input) float64 { return 7 }}}
		o.Weights = map[core.Criterion]float64{"loud": 1}
	})
	require.NoError(t, err)

	score := e.Evaluate(transcript())
	assert.Equal(t, 1.0, score.Scores["loud"])
	assert.Equal(t, 1.0, score.Overall)
}

func TestHeuristics(t *testing.T) {
	in := Input{Final: "We should first discuss and then implement the strategy."}
	assert.InDelta(t, (2*0.4+2*0.3+2*0.3)/5, Practicality(in), 1e-12)

	in = Input{Final: "Because the patient and family disagree, therefore we consider the dilemma."}
	assert.InDelta(t, 0.2+0.1, ReasoningDepth(in), 1e-12)
	assert.InDelta(t, 2.0/6.0, StakeholderCoverage(in), 1e-12)

	in = Input{
		Transcript: core.Transcript{CaseText: "Diagnosis: aspiration pneumonia, dementia\nHeader:"},
		Final:      "given aspiration pneumonia we act",
	}
	assert.InDelta(t, 1.0/5.0, EvidenceUse(in), 1e-12)
}

func TestInnovation(t *testing.T) {
	m := Innovation([]string{"a b c", "a b d"})
	assert.InDelta(t, 1-0.75, m.Novelty, 1e-12)
	assert.InDelta(t, 0.5, m.Coherence, 1e-12)
	assert.Equal(t, 0.0, m.PerspectiveDiversity)

	m = Innovation([]string{"justice and harm"})
	assert.Equal(t, 0.5, m.PerspectiveDiversity)
	assert.Equal(t, 0.0, m.Coherence)
}

func TestCompare(t *testing.T) {
	score := core.EvaluationScore{Overall: 0.6, Scores: map[core.Criterion]float64{core.CriterionPracticality: 0.5}}
	c := Compare(score, Benchmark{Overall: 0.5, Scores: map[core.Criterion]float64{core.CriterionPracticality: 0.7}, Distribution: []float64{0.2, 0.6, 0.9, 0.4}})

	assert.InDelta(t, 0.1, c.OverallDelta, 1e-12)
	assert.InDelta(t, -0.2, c.CriteriaDeltas[core.CriterionPracticality], 1e-12)
	require.NotNil(t, c.Percentile)
	assert.Equal(t, 0.5, *c.Percentile)

	e, err := New(WithBenchmark(&Benchmark{Overall: 0.1}))
	require.NoError(t, err)
	assert.NotNil(t, e.Evaluate(transcript()).Benchmark)
}
