// Package model provides core.Responder implementations and the shared
// helpers they rely on.
//
// Core goals:
//   - Map provider failures onto core.CallError so the scheduler can tell
//     transient from permanent failures (ClassifyStatus, ClassifyError)
//   - Offer a deterministic Simulator for offline runs and tests
//   - Keep vendor SDKs in subpackages (openai, anthropic) so the engine stays
//     decoupled from them
//
// Provider adapters disable SDK-level retries; retrying is the scheduler's job.
package model
