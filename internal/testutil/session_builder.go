package testutil

import (
	"github.com/hupe1980/consultmesh/core"
)

// TurnBuilder helps construct turns with fluent chaining for tests.
// Example:
//
//	turn := NewTurn("ethicist", 1).Text("...").Stance(core.Support, 0.8).Build()
type TurnBuilder struct {
	turn core.Turn
}

// NewTurn creates a builder for an ok turn of role in round.
func NewTurn(role string, round int) *TurnBuilder {
	return &TurnBuilder{turn: core.Turn{RoleID: role, Round: round, Outcome: core.OutcomeOK, Attempts: 1}}
}

// Text sets the response text (chainable).
func (b *TurnBuilder) Text(s string) *TurnBuilder {
	b.turn.Text = s
	return b
}

// Stance sets the extracted stance (chainable).
func (b *TurnBuilder) Stance(label core.StanceLabel, confidence float64) *TurnBuilder {
	b.turn.Stance = &core.Stance{Label: label, Confidence: confidence}
	return b
}

// Usage sets token counts (chainable).
func (b *TurnBuilder) Usage(prompt, completion int) *TurnBuilder {
	b.turn.Usage = core.TokenUsage{PromptTokens: prompt, CompletionTokens: completion}
	return b
}

// Failed marks the turn failed with msg (chainable).
func (b *TurnBuilder) Failed(msg string) *TurnBuilder {
	b.turn.Outcome = core.OutcomeFailed
	b.turn.Error = msg
	b.turn.Text = ""
	b.turn.Stance = nil
	return b
}

// Skipped marks the turn skipped (chainable).
func (b *TurnBuilder) Skipped() *TurnBuilder {
	b.turn.Outcome = core.OutcomeSkipped
	b.turn.Attempts = 0
	b.turn.Text = ""
	b.turn.Stance = nil
	return b
}

// Build returns the turn.
func (b *TurnBuilder) Build() core.Turn { return b.turn.Clone() }

// RoundBuilder assembles a round from turns.
type RoundBuilder struct {
	round core.Round
}

// NewRound creates a builder for round index.
func NewRound(index int) *RoundBuilder {
	return &RoundBuilder{round: core.Round{Index: index}}
}

// Turn appends a turn (chainable).
func (b *RoundBuilder) Turn(t core.Turn) *RoundBuilder {
	b.round.Turns = append(b.round.Turns, t)
	return b
}

// Stances appends one ok turn per role with the given labels (chainable).
func (b *RoundBuilder) Stances(roles []string, labels ...core.StanceLabel) *RoundBuilder {
	for i, r := range roles {
		tb := NewTurn(r, b.round.Index).Text("Stance: " + labels[i].String())
		b.round.Turns = append(b.round.Turns, tb.Stance(labels[i], 0.5).Build())
	}
	return b
}

// Agreement attaches a matrix (chainable).
func (b *RoundBuilder) Agreement(m core.AgreementMatrix) *RoundBuilder {
	b.round.Agreement = &m
	return b
}

// Build returns the round.
func (b *RoundBuilder) Build() core.Round { return b.round.Clone() }

// SessionBuilder creates a session with pre-recorded rounds.
// Example:
//
//	sess := NewSessionBuilder("s-1", "case", "a", "b").Round(r1).Build()
type SessionBuilder struct {
	id       string
	caseText string
	roles    []string
	settings core.Settings
	rounds   []core.Round
}

// NewSessionBuilder creates a builder with the given roles.
func NewSessionBuilder(id, caseText string, roles ...string) *SessionBuilder {
	return &SessionBuilder{id: id, caseText: caseText, roles: roles, settings: core.Settings{MaxRounds: 3, MinRounds: 1, ConcurrencyLimit: 1}}
}

// Settings overrides the session settings (chainable).
func (b *SessionBuilder) Settings(s core.Settings) *SessionBuilder {
	b.settings = s
	return b
}

// Round appends a round (chainable).
func (b *SessionBuilder) Round(r core.Round) *SessionBuilder {
	b.rounds = append(b.rounds, r)
	return b
}

// Build returns a session with all rounds appended. It panics on invalid
// rounds so broken fixtures fail loudly.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id, b.caseText, b.roles, b.settings)
	for _, r := range b.rounds {
		if err := s.AppendRound(r); err != nil {
			panic(err)
		}
	}
	return s
}
