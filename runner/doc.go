// Package runner starts deliberation sessions in the background.
//
// A Runner wraps a Deliberator (normally *engine.Engine), bounds how many
// sessions deliberate at the same time, and keeps a cancel function per run so
// callers can stop a session by id:
//
//	r := runner.New(eng, func(o *runner.Options) { o.MaxConcurrentSessions = 2 })
//	id, results := r.Run(ctx, caseText, roles, settings)
//	...
//	_ = r.Cancel(id)
//	res := <-results
//
// Cancellation is observed by the engine at round boundaries; rounds already
// in flight complete and are kept in the snapshot.
package runner
