// Package core provides the foundational domain types and boundary interfaces
// used by ConsultMesh. It defines the core abstractions for:
//
//   - Roles (immutable participant definitions resolved through a RoleRegistry)
//   - Turns and Rounds (one role's contribution, one synchronized batch)
//   - AgreementMatrix (pairwise agreement among roles within a round)
//   - EvaluationScore and CostRecord (session level quality and spend)
//   - Session and Snapshot (append-only run state and its immutable export)
//   - Responder, RoleRegistry, Confirmer and SnapshotStore boundaries
//
// The package keeps orchestration, aggregation and evaluation logic out of
// scope, exposing small interfaces so responders, registries and stores can be
// swapped without touching the engine.
package core
