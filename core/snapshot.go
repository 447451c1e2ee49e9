package core

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is the exported, self-contained record of a finished session.
// It holds no references into live structures.
type Snapshot struct {
	ID               string           `json:"id"`
	CaseText         string           `json:"case_text"`
	Roles            []string         `json:"roles"`
	Settings         Settings         `json:"settings"`
	State            SessionState     `json:"state"`
	AbortReason      AbortReason      `json:"abort_reason,omitempty"`
	ConsensusReached bool             `json:"consensus_reached"`
	Rounds           []Round          `json:"rounds"`
	Evaluation       *EvaluationScore `json:"evaluation,omitempty"`
	FinalConsensus   *FinalConsensus  `json:"final_consensus,omitempty"`
	Cost             CostRecord       `json:"cost"`
	CreatedAt        time.Time        `json:"created_at"`
	FinishedAt       time.Time        `json:"finished_at"`
}

// TurnCount returns the number of recorded turns across all rounds.
func (s Snapshot) TurnCount() int {
	n := 0
	for _, r := range s.Rounds {
		n += len(r.Turns)
	}

	return n
}

// Matrices returns the agreement matrix of every round that has one.
func (s Snapshot) Matrices() []AgreementMatrix {
	var out []AgreementMatrix
	for _, r := range s.Rounds {
		if r.Agreement != nil {
			out = append(out, r.Agreement.Clone())
		}
	}

	return out
}

// Err maps the abort reason onto a sentinel error; nil when the session
// completed.
func (s Snapshot) Err() error {
	switch s.AbortReason {
	case AbortNone:
		return nil
	case AbortBudgetExceeded:
		return ErrBudgetExceeded
	case AbortConfirmationDeclined:
		return ErrConfirmationDeclined
	case AbortAllRolesFailed:
		return ErrAllRolesFailed
	case AbortCancelled:
		return context.Canceled
	case AbortSessionTimeout:
		return context.DeadlineExceeded
	case AbortRejected:
		return ErrRejected
	default:
		return fmt.Errorf("aborted: %s", s.AbortReason)
	}
}

// Transcript returns the evaluator view of the snapshot.
func (s Snapshot) Transcript() Transcript {
	return Transcript{CaseText: s.CaseText, Roles: append([]string(nil), s.Roles...), Rounds: cloneRounds(s.Rounds)}
}

// SnapshotStore keeps finalized snapshots.
type SnapshotStore interface {
	Save(snapshot Snapshot) error
	Get(id string) (Snapshot, error)
}

// Plan summarizes what a session is about to spend; it is shown to a
// Confirmer before the first call.
type Plan struct {
	SessionID       string   `json:"session_id"`
	Roles           []string `json:"roles"`
	MaxRounds       int      `json:"max_rounds"`
	Model           string   `json:"model"`
	EstimatedTokens int      `json:"estimated_tokens"`
	EstimatedCost   float64  `json:"estimated_cost"`
	Budget          *float64 `json:"budget,omitempty"`
}

// Confirmer gates the first responder call when confirmation is required.
type Confirmer interface {
	Confirm(ctx context.Context, plan Plan) (bool, error)
}
