// Package session houses concrete implementations of core.SnapshotStore.
// The interface itself (and the Snapshot struct) live in the core package to
// centralize domain contracts. Keeping only implementations here prevents the
// engine from depending on concrete storage.
//
// Add additional backends (files, Redis, Postgres) in sub‑packages without
// changing any calling code; only the wiring layer decides which
// implementation to instantiate.
package session
