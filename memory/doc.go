// Package memory selects the bounded window of prior-round turns that is
// carried into a role's next prompt. It is the only round-to-round state the
// engine forwards; responders keep no hidden history.
package memory
