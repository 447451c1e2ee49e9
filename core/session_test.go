package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okTurn(role string, round int, label StanceLabel) Turn {
	return Turn{RoleID: role, Round: round, Text: "x", Stance: &Stance{Label: label, Confidence: 0.5}, Outcome: OutcomeOK, Attempts: 1}
}

func TestSession_AppendRoundValidatesOrder(t *testing.T) {
	s := NewSession("s1", "case", []string{"a", "b"}, Settings{MaxRounds: 2, MinRounds: 1, ConcurrencyLimit: 1})

	err := s.AppendRound(Round{Index: 2, Turns: []Turn{okTurn("a", 2, Support), okTurn("b", 2, Support)}})
	assert.Error(t, err)

	err = s.AppendRound(Round{Index: 1, Turns: []Turn{okTurn("a", 1, Support)}})
	assert.Error(t, err, "missing turn for b")

	err = s.AppendRound(Round{Index: 1, Turns: []Turn{okTurn("b", 1, Support), okTurn("a", 1, Support)}})
	assert.Error(t, err, "turns must follow role-list order")

	require.NoError(t, s.AppendRound(Round{Index: 1, Turns: []Turn{okTurn("a", 1, Support), okTurn("b", 1, Oppose)}}))
	assert.Len(t, s.Rounds(), 1)
}

func TestSession_RoundsAreCopied(t *testing.T) {
	s := NewSession("s1", "case", []string{"a"}, Settings{MaxRounds: 1})
	require.NoError(t, s.AppendRound(Round{Index: 1, Turns: []Turn{okTurn("a", 1, Neutral)}}))

	rounds := s.Rounds()
	rounds[0].Turns[0].Text = "changed"
	rounds[0].Turns[0].Stance.Label = StronglyOppose

	again := s.Rounds()
	assert.Equal(t, "x", again[0].Turns[0].Text)
	assert.Equal(t, Neutral, again[0].Turns[0].Stance.Label)
}

func TestSession_Transitions(t *testing.T) {
	s := NewSession("s1", "case", []string{"a"}, Settings{MaxRounds: 3})

	assert.Error(t, s.Transition(StateRunningRound, 2))
	require.NoError(t, s.Transition(StateRunningRound, 1))
	assert.Error(t, s.Transition(StateEvaluating, 0))
	require.NoError(t, s.Transition(StateAggregating, 1))
	require.NoError(t, s.Transition(StateRunningRound, 2))
	require.NoError(t, s.Transition(StateAggregating, 2))
	require.NoError(t, s.Transition(StateEvaluating, 0))

	state, round := s.State()
	assert.Equal(t, StateEvaluating, state)
	assert.Equal(t, 2, round)

	require.NoError(t, s.Finish(StateCompleted, AbortNone, &EvaluationScore{Overall: 0.5}, CostRecord{Attempts: 2}, false))
	assert.Error(t, s.Transition(StateRunningRound, 3))
	assert.Error(t, s.AppendRound(Round{Index: 1}))
}

func TestSession_SnapshotIsSelfContained(t *testing.T) {
	budget := 1.5
	s := NewSession("s1", "case", []string{"a", "b"}, Settings{MaxRounds: 1, CostBudget: &budget})
	require.NoError(t, s.Transition(StateRunningRound, 1))
	require.NoError(t, s.Transition(StateAggregating, 1))

	mean := 0.75
	r := Round{Index: 1, Turns: []Turn{okTurn("a", 1, Support), okTurn("b", 1, StronglySupport)}}
	r.Agreement = &AgreementMatrix{Round: 1, Roles: []string{"a", "b"}, Pairs: []PairScore{{A: "a", B: "b", Score: &mean}}, Mean: &mean}
	require.NoError(t, s.AppendRound(r))
	require.NoError(t, s.Finish(StateAborted, AbortBudgetExceeded, &EvaluationScore{Scores: map[Criterion]float64{CriterionPracticality: 0.2}}, CostRecord{Cost: 2, Budget: &budget}, false))

	snap := s.Snapshot()
	assert.Equal(t, StateAborted, snap.State)
	assert.Equal(t, AbortBudgetExceeded, snap.AbortReason)
	assert.Equal(t, 2, snap.TurnCount())
	require.Len(t, snap.Matrices(), 1)

	*snap.Settings.CostBudget = 99
	*snap.Rounds[0].Agreement.Mean = 0
	snap.Evaluation.Scores[CriterionPracticality] = 1

	again := s.Snapshot()
	assert.InDelta(t, 1.5, *again.Settings.CostBudget, 1e-9)
	assert.InDelta(t, 0.75, *again.Rounds[0].Agreement.Mean, 1e-9)
	assert.InDelta(t, 0.2, again.Evaluation.Scores[CriterionPracticality], 1e-9)
}

func TestSnapshot_Err(t *testing.T) {
	assert.NoError(t, Snapshot{State: StateCompleted}.Err())
	assert.ErrorIs(t, Snapshot{AbortReason: AbortBudgetExceeded}.Err(), ErrBudgetExceeded)
	assert.ErrorIs(t, Snapshot{AbortReason: AbortConfirmationDeclined}.Err(), ErrConfirmationDeclined)
	assert.ErrorIs(t, Snapshot{AbortReason: AbortAllRolesFailed}.Err(), ErrAllRolesFailed)
	assert.ErrorIs(t, Snapshot{AbortReason: AbortCancelled}.Err(), context.Canceled)
	assert.ErrorIs(t, Snapshot{AbortReason: AbortSessionTimeout}.Err(), context.DeadlineExceeded)
	assert.ErrorIs(t, Snapshot{AbortReason: AbortRejected}.Err(), ErrRejected)
}

func TestSession_FinalConsensusOnlyWhileEvaluating(t *testing.T) {
	s := NewSession("s1", "case", []string{"a"}, Settings{MaxRounds: 1, MinRounds: 1, ConcurrencyLimit: 1})

	assert.Error(t, s.SetFinalConsensus(FinalConsensus{Text: "early"}))

	require.NoError(t, s.Transition(StateRunningRound, 1))
	require.NoError(t, s.AppendRound(Round{Index: 1, Turns: []Turn{okTurn("a", 1, Support)}}))
	require.NoError(t, s.Transition(StateAggregating, 1))
	require.NoError(t, s.Transition(StateEvaluating, 0))

	fc := FinalConsensus{Text: "done", Recommendation: "proceed", Considerations: []string{"consent"}, Confidence: 0.8}
	require.NoError(t, s.SetFinalConsensus(fc))
	fc.Considerations[0] = "mutated"

	require.NoError(t, s.Finish(StateCompleted, AbortNone, nil, CostRecord{}, false))
	assert.Error(t, s.SetFinalConsensus(FinalConsensus{Text: "late"}))

	snap := s.Snapshot()
	require.NotNil(t, snap.FinalConsensus)
	assert.True(t, snap.FinalConsensus.OK())
	assert.Equal(t, "proceed", snap.FinalConsensus.Recommendation)
	assert.Equal(t, []string{"consent"}, snap.FinalConsensus.Considerations)
}
