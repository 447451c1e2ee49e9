package core

import (
	"fmt"
	"sync"
	"time"
)

// SessionState is a node of the deliberation state machine.
type SessionState string

const (
	StateInitializing SessionState = "initializing"
	StateRunningRound SessionState = "running_round"
	StateAggregating  SessionState = "aggregating"
	StateEvaluating   SessionState = "evaluating"
	StateCompleted    SessionState = "completed"
	StateAborted      SessionState = "aborted"
)

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool { return s == StateCompleted || s == StateAborted }

// AbortReason explains an Aborted terminal state.
type AbortReason string

const (
	AbortNone                 AbortReason = ""
	AbortBudgetExceeded       AbortReason = "budget_exceeded"
	AbortConfirmationDeclined AbortReason = "confirmation_declined"
	AbortAllRolesFailed       AbortReason = "all_roles_failed"
	AbortCancelled            AbortReason = "cancelled"
	AbortSessionTimeout       AbortReason = "session_timeout"
	AbortRejected             AbortReason = "rejected"
)

// Settings are the validated construction parameters of a session.
type Settings struct {
	MaxRounds           int      `json:"max_rounds"`
	MinRounds           int      `json:"min_rounds"`
	ConcurrencyLimit    int      `json:"concurrency_limit"`
	CostBudget          *float64 `json:"cost_budget,omitempty"`
	ConsensusThreshold  *float64 `json:"consensus_threshold,omitempty"`
	RequireConfirmation bool     `json:"require_confirmation"`
}

// Clone returns a copy sharing no pointers with s.
func (s Settings) Clone() Settings {
	c := s
	c.CostBudget = cloneFloat(s.CostBudget)
	c.ConsensusThreshold = cloneFloat(s.ConsensusThreshold)

	return c
}

// Transcript is the read-only view evaluators consume.
type Transcript struct {
	CaseText string
	Roles    []string
	Rounds   []Round
}

// Turns returns every turn in (round, role-list) order.
func (t Transcript) Turns() []Turn {
	var out []Turn
	for _, r := range t.Rounds {
		out = append(out, r.Turns...)
	}

	return out
}

// Session is the top-level unit of one deliberation run. It is mutated only by
// appending completed rounds and by state transitions; it is safe for
// concurrent access.
//
// Contract:
//   - AppendRound accepts rounds in strict 1..n order with exactly one turn per role
//   - Rounds and Snapshot return deep copies
//   - once terminal, no further transition or append is accepted
type Session struct {
	ID       string
	CaseText string
	RoleIDs  []string
	Settings Settings
	Created  time.Time

	mu         sync.RWMutex
	state      SessionState
	round      int
	reason     AbortReason
	rounds     []Round
	evaluation *EvaluationScore
	final      *FinalConsensus
	cost       CostRecord
	consensus  bool
	finished   time.Time
}

// NewSession creates a session in the Initializing state.
func NewSession(id, caseText string, roleIDs []string, settings Settings) *Session {
	return &Session{
		ID:       id,
		CaseText: caseText,
		RoleIDs:  append([]string(nil), roleIDs...),
		Settings: settings.Clone(),
		Created:  time.Now(),
		state:    StateInitializing,
	}
}

// State returns the current state and the round it refers to.
func (s *Session) State() (SessionState, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state, s.round
}

// Transition moves the session to next. round is the round index for
// RunningRound and Aggregating and ignored otherwise.
func (s *Session) Transition(next SessionState, round int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validTransition(s.state, s.round, next, round) {
		return fmt.Errorf("invalid transition %s(%d) -> %s(%d)", s.state, s.round, next, round)
	}

	s.state = next
	if next == StateRunningRound || next == StateAggregating {
		s.round = round
	}

	return nil
}

func validTransition(from SessionState, fromRound int, to SessionState, toRound int) bool {
	switch from {
	case StateInitializing:
		return (to == StateRunningRound && toRound == 1) || to == StateAborted
	case StateRunningRound:
		return to == StateAggregating && toRound == fromRound
	case StateAggregating:
		switch to {
		case StateRunningRound:
			return toRound == fromRound+1
		case StateEvaluating, StateAborted:
			return true
		}
	case StateEvaluating:
		return to == StateCompleted
	}

	return false
}

// AppendRound records a finalized round.
func (s *Session) AppendRound(r Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return fmt.Errorf("session %s is %s", s.ID, s.state)
	}
	if r.Index != len(s.rounds)+1 {
		return fmt.Errorf("round %d appended out of order (have %d)", r.Index, len(s.rounds))
	}
	if len(r.Turns) != len(s.RoleIDs) {
		return fmt.Errorf("round %d has %d turns for %d roles", r.Index, len(r.Turns), len(s.RoleIDs))
	}
	for i, id := range s.RoleIDs {
		if r.Turns[i].RoleID != id || r.Turns[i].Round != r.Index {
			return fmt.Errorf("round %d turn %d is (%s,%d), want (%s,%d)", r.Index, i, r.Turns[i].RoleID, r.Turns[i].Round, id, r.Index)
		}
	}

	s.rounds = append(s.rounds, r.Clone())

	return nil
}

// Rounds returns a deep copy of the recorded rounds.
func (s *Session) Rounds() []Round {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneRounds(s.rounds)
}

// Transcript returns the evaluator view of the session.
func (s *Session) Transcript() Transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Transcript{CaseText: s.CaseText, Roles: append([]string(nil), s.RoleIDs...), Rounds: cloneRounds(s.rounds)}
}

// SetFinalConsensus attaches the closing synthesis. It is accepted only while
// the session is Evaluating.
func (s *Session) SetFinalConsensus(c FinalConsensus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEvaluating {
		return fmt.Errorf("final consensus requires %s, session is %s", StateEvaluating, s.state)
	}

	fc := c.Clone()
	s.final = &fc

	return nil
}

// Finish moves the session into a terminal state and attaches the final
// evaluation and cost record.
func (s *Session) Finish(state SessionState, reason AbortReason, eval *EvaluationScore, cost CostRecord, consensus bool) error {
	if !state.Terminal() {
		return fmt.Errorf("finish requires a terminal state, got %s", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return fmt.Errorf("session %s already %s", s.ID, s.state)
	}
	if !validTransition(s.state, s.round, state, 0) {
		return fmt.Errorf("invalid transition %s(%d) -> %s", s.state, s.round, state)
	}

	s.state = state
	s.reason = reason
	if eval != nil {
		e := eval.Clone()
		s.evaluation = &e
	}
	s.cost = cost.Clone()
	s.consensus = consensus
	s.finished = time.Now()

	return nil
}

// Snapshot returns a self-contained immutable copy of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:               s.ID,
		CaseText:         s.CaseText,
		Roles:            append([]string(nil), s.RoleIDs...),
		Settings:         s.Settings.Clone(),
		State:            s.state,
		AbortReason:      s.reason,
		ConsensusReached: s.consensus,
		Rounds:           cloneRounds(s.rounds),
		Cost:             s.cost.Clone(),
		CreatedAt:        s.Created,
		FinishedAt:       s.finished,
	}
	if s.evaluation != nil {
		e := s.evaluation.Clone()
		snap.Evaluation = &e
	}
	if s.final != nil {
		fc := s.final.Clone()
		snap.FinalConsensus = &fc
	}

	return snap
}

func cloneRounds(in []Round) []Round {
	out := make([]Round, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}

	return out
}
