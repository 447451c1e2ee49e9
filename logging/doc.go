// Package logging provides a minimal logging interface and adapters for ConsultMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine and scheduler use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - DeliberationLogger with attempt, round and session helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng, err := engine.New(responder, engine.WithLogger(logger))
//
// Messages are dotted event keys ("scheduler.attempt.failed") followed by
// key/value attributes.
package logging
