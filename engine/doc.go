// Package engine runs deliberation sessions.
//
// An Engine takes a case description, an ordered list of role ids and the
// session settings, and drives the session state machine:
//
//	Initializing -> RunningRound(1) -> Aggregating(1) -> RunningRound(2) -> ...
//	    -> Evaluating -> Completed
//
// with an edge into Aborted from Initializing (confirmation declined) and from
// every Aggregating state (budget exhausted, all roles failed, cancellation,
// session timeout or a rejecting callback).
//
// Each round renders one prompt per role from the case, the role definition
// and the role's memory window, fans the requests out through a
// scheduler.Scheduler bounded by the session's concurrency limit, turns every
// outcome into exactly one core.Turn, extracts stances and computes the
// round's agreement matrix. Consensus and budget are checked only at round
// boundaries, so a recorded round is always complete.
//
// With WithSynthesis, a session about to complete gets one more responder
// call while Evaluating. It summarizes the latest contribution of every role
// into the snapshot's FinalConsensus.
//
// Failures of individual roles never abort a session. Run returns an error
// only when the session cannot be constructed; everything after that is
// reported by the snapshot's State and AbortReason.
//
// Basic usage:
//
//	eng, err := engine.New(responder, engine.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	snap, err := eng.Run(ctx, caseText, []string{"ethicist", "patient_advocate"}, core.Settings{
//	    MaxRounds:        3,
//	    MinRounds:        1,
//	    ConcurrencyLimit: 2,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := snap.Err(); err != nil {
//	    log.Printf("aborted: %v", err)
//	}
package engine
