package aggregate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/consultmesh/core"
)

func TestKeywordExtractor_Extract(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		ok         bool
		label      core.StanceLabel
		confidence float64
	}{
		{"canonical", "Analysis...\nStance: support\nConfidence: 0.8", true, core.Support, 0.8},
		{"markdown", "**Stance:** Strongly Oppose\n**Confidence:** 9/10", true, core.StronglyOppose, 0.9},
		{"synonym", "- Position: agree, given the evidence", true, core.Support, DefaultConfidence},
		{"hyphenated", "Stance: strongly-support\nConfidence: 75%", true, core.StronglySupport, 0.75},
		{"out of ten", "Stance: disagree\nConfidence: 7", true, core.Oppose, 0.7},
		{"word confidence", "Stance: neutral\nConfidence: high", true, core.Neutral, 0.9},
		{"unreadable confidence", "Stance: against\nConfidence: somewhat", true, core.Oppose, 0.7},
		{"clamped", "Stance: support\nConfidence: 120%", true, core.Support, 1},
		{"missing", "I think this is complicated.", false, 0, 0},
		{"unknown label", "Stance: it depends", false, 0, 0},
	}

	ex := NewKeywordExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := ex.Extract(tt.text)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.label, s.Label)
			assert.InDelta(t, tt.confidence, s.Confidence, 1e-9)
		})
	}
}

func TestParseConfidence(t *testing.T) {
	_, ok := ParseConfidence("")
	assert.False(t, ok)
	_, ok = ParseConfidence("3/0")
	assert.False(t, ok)

	c, ok := ParseConfidence("-0.4")
	assert.True(t, ok)
	assert.Equal(t, 0.0, c)

	for _, v := range []string{"NaN", "nan", "inf", "-Inf", "+infinity", "NaN%", "inf/10", "1/inf"} {
		c, ok = ParseConfidence(v)
		if ok {
			assert.GreaterOrEqual(t, c, 0.0, v)
			assert.LessOrEqual(t, c, 1.0, v)
		}
	}
	_, ok = ParseConfidence("NaN")
	assert.False(t, ok)
	_, ok = ParseConfidence("inf")
	assert.False(t, ok)
}

func TestAggregator_AnnotateNonFiniteConfidence(t *testing.T) {
	a := New()

	for _, text := range []string{
		"Stance: support\nConfidence: nan",
		"Stance: support\nConfidence: Inf",
		"Stance: support\nConfidence: -inf%",
	} {
		turn := a.Annotate(core.Turn{RoleID: "a", Round: 1, Outcome: core.OutcomeOK, Text: text})
		require.NotNil(t, turn.Stance, text)
		assert.Equal(t, core.Support, turn.Stance.Label)
		assert.False(t, math.IsNaN(turn.Stance.Confidence), text)
		assert.GreaterOrEqual(t, turn.Stance.Confidence, 0.0, text)
		assert.LessOrEqual(t, turn.Stance.Confidence, 1.0, text)
	}
}
