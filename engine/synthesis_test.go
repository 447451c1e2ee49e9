package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/cost"
	"github.com/hupe1980/consultmesh/model"
)

// eventLogger records event keys.
type eventLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLogger) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, msg)
}

func (l *eventLogger) Debug(msg string, _ ...any) { l.add(msg) }
func (l *eventLogger) Info(msg string, _ ...any) { l.add(msg) }
func (l *eventLogger) Warn(msg string, _ ...any) { l.add(msg) }
func (l *eventLogger) Error(msg string, _ ...any) { l.add(msg) }

func (l *eventLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == msg {
			return true
		}
	}
	return false
}

func TestRun_FinalSynthesis(t *testing.T) {
	eng := newEngine(t, model.NewSimulator(), WithSynthesis(true))

	snap, err := eng.Run(context.Background(), caseText, roles, settings(2, 3))
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, snap.State)
	assert.Equal(t, 6, snap.TurnCount())
	assert.Equal(t, 7, snap.Cost.Attempts)

	fc := snap.FinalConsensus
	require.NotNil(t, fc)
	assert.True(t, fc.OK())
	assert.Empty(t, fc.Error)
	assert.Equal(t, 1, fc.Attempts)
	assert.Positive(t, fc.Usage.Total())
	assert.Contains(t, fc.Summary, "patient autonomy")
	assert.Equal(t, "Proceed with a monitored, time-limited plan agreed with the family.", fc.Recommendation)
	assert.Equal(t, []string{"Document the patient's prior wishes", "Review the plan with the care team after one week"}, fc.Considerations)
	assert.Equal(t, []string{"autonomy", "justice"}, fc.Principles)
	assert.Greater(t, fc.Confidence, 0.5)
	assert.LessOrEqual(t, fc.Confidence, 1.0)
}

func TestRun_SynthesisDisabledByDefault(t *testing.T) {
	eng := newEngine(t, model.NewSimulator())

	snap, err := eng.Run(context.Background(), caseText, roles, settings(1, 3))
	require.NoError(t, err)

	assert.Nil(t, snap.FinalConsensus)
	assert.Equal(t, 3, snap.Cost.Attempts)
}

func TestRun_SynthesisPromptUsesLatestTurns(t *testing.T) {
	var (
		mu    sync.Mutex
		synth core.Request
	)
	r := core.ResponderFunc(func(_ context.Context, req core.Request) (*core.Response, error) {
		if req.RoleID == core.SynthesisRoleID {
			mu.Lock()
			synth = req
			mu.Unlock()
			return &core.Response{Text: "We should proceed carefully.", Usage: core.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
		}
		if req.RoleID == "ethicist" && req.Round == 2 {
			return nil, core.NewPermanentError(core.ErrorKindInvalidRequest, assert.AnError)
		}
		return &core.Response{Text: fmt.Sprintf("%s-round-%d\nStance: support\nConfidence: 0.6", req.RoleID, req.Round)}, nil
	})

	eng := newEngine(t, r, WithSynthesis(true))
	snap, err := eng.Run(context.Background(), caseText, roles, settings(2, 3))
	require.NoError(t, err)

	assert.Equal(t, core.SynthesisRoleID, synth.RoleID)
	assert.Equal(t, 2, synth.Round)
	assert.Equal(t, synthesisSystemPrompt, synth.System)
	assert.Contains(t, synth.Prompt, "Latest contributions:")
	// the ethicist failed in round 2, so its round 1 answer stands
	assert.Contains(t, synth.Prompt, "ethicist-round-1")
	assert.NotContains(t, synth.Prompt, "healthcare_professional-round-1")
	assert.Contains(t, synth.Prompt, "healthcare_professional-round-2")
	assert.Contains(t, synth.Prompt, "Confidence: high | medium | low")

	fc := snap.FinalConsensus
	require.NotNil(t, fc)
	assert.Empty(t, fc.Summary)
	assert.Equal(t, "We should proceed carefully.", fc.Recommendation)
	// no synthesis confidence: mean of the role confidences
	assert.InDelta(t, 0.6, fc.Confidence, 1e-9)
}

func TestRun_SynthesisFailureStillCompletes(t *testing.T) {
	sim := model.NewSimulator()
	sim.InjectFault(core.SynthesisRoleID, 0, model.Fault{Times: -1})

	eng := newEngine(t, sim, WithSynthesis(true))
	snap, err := eng.Run(context.Background(), caseText, roles, settings(1, 3))
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, snap.State)
	require.NotNil(t, snap.FinalConsensus)
	assert.False(t, snap.FinalConsensus.OK())
	assert.NotEmpty(t, snap.FinalConsensus.Error)
	assert.Equal(t, 3, snap.FinalConsensus.Attempts)
	assert.Equal(t, 6, snap.Cost.Attempts)
	assert.Equal(t, 3, snap.Cost.FailedAttempts)
}

func TestRun_BudgetSpentInLastRound(t *testing.T) {
	prices := cost.PriceTable{"simulator": {InputPer1K: 1, OutputPer1K: 1}}
	logger := &eventLogger{}
	eng := newEngine(t, model.NewSimulator(), WithPrices(prices), WithSynthesis(true), WithLogger(logger))

	s := settings(1, 3)
	s.CostBudget = ptr(0.0001)

	snap, err := eng.Run(context.Background(), caseText, roles, s)
	require.NoError(t, err)

	// no further round would start, so the session completes
	assert.Equal(t, core.StateCompleted, snap.State)
	remaining, ok := snap.Cost.Remaining()
	require.True(t, ok)
	assert.Negative(t, remaining)

	assert.True(t, logger.has("engine.budget.exceeded"))
	assert.True(t, logger.has("engine.synthesis.skipped"))
	assert.Nil(t, snap.FinalConsensus)
	assert.Equal(t, 3, snap.Cost.Attempts)
}

func TestRun_AbortedSessionHasNoSynthesis(t *testing.T) {
	prices := cost.PriceTable{"simulator": {InputPer1K: 1, OutputPer1K: 1}}
	eng := newEngine(t, model.NewSimulator(), WithPrices(prices), WithSynthesis(true))

	s := settings(3, 3)
	s.CostBudget = ptr(0.0001)

	snap, err := eng.Run(context.Background(), caseText, roles, s)
	require.NoError(t, err)

	assert.Equal(t, core.AbortBudgetExceeded, snap.AbortReason)
	assert.Nil(t, snap.FinalConsensus)
}

func TestNew_RejectsBadSynthesisTemplate(t *testing.T) {
	_, err := New(model.NewSimulator(), func(o *Options) { o.SynthesisTemplate = "{{ .Case " })
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestPlan_CountsSynthesisCall(t *testing.T) {
	rs := []core.Role{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}

	without := newEngine(t, model.NewSimulator()).Plan("s", caseText, rs, settings(2, 2))
	with := newEngine(t, model.NewSimulator(), WithSynthesis(true)).Plan("s", caseText, rs, settings(2, 2))

	assert.Greater(t, with.EstimatedTokens, without.EstimatedTokens)
	assert.Greater(t, with.EstimatedCost, without.EstimatedCost)
}

func TestParseSynthesis(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		summary        string
		recommendation string
		considerations []string
		confidence     float64
		found          bool
	}{
		{
			name:           "plain sections",
			text:           "Summary: A hard case.\n\nRecommendation: Treat.\nWith review.\n\nConsiderations:\n- Consent\n\n- Cost\nConfidence: high",
			summary:        "A hard case.",
			recommendation: "Treat. With review.",
			considerations: []string{"Consent", "Cost"},
			confidence:     0.9,
			found:          true,
		},
		{
			name:           "markdown and ordinals",
			text:           "## 1. Summary of the ethical dilemma:\nFamily and team disagree.\n**Recommended approach:** Mediate\n3) **Key considerations:**\n1. Timing\n2) Documentation\n**Confidence level:** low",
			summary:        "Family and team disagree.",
			recommendation: "Mediate",
			considerations: []string{"Timing", "Documentation"},
			confidence:     0.5,
			found:          true,
		},
		{
			name:           "unstructured",
			text:           "  Just talk to the family.  ",
			recommendation: "Just talk to the family.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, c, found := parseSynthesis(tt.text)
			assert.Equal(t, tt.summary, fc.Summary)
			assert.Equal(t, tt.recommendation, fc.Recommendation)
			assert.Equal(t, tt.considerations, fc.Considerations)
			assert.Equal(t, tt.found, found)
			assert.InDelta(t, tt.confidence, c, 1e-9)
		})
	}
}

func TestBlendConfidence(t *testing.T) {
	turns := []core.Turn{
		{Outcome: core.OutcomeOK, Stance: &core.Stance{Label: core.Support, Confidence: 0.8}},
		{Outcome: core.OutcomeOK, Stance: &core.Stance{Label: core.Oppose, Confidence: 0.4}},
		{Outcome: core.OutcomeOK},
	}

	assert.InDelta(t, 0.6, blendConfidence(0, false, turns), 1e-9)
	assert.InDelta(t, 0.75, blendConfidence(0.9, true, turns), 1e-9)
	assert.InDelta(t, defaultAgentConfidence, blendConfidence(0, false, nil), 1e-9)
}
