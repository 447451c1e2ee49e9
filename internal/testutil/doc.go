// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing core model objects (turns, rounds, sessions)
// and scripted responders. They are not intended for production usage.
package testutil
