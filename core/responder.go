package core

import "context"

// Parameters are the generation settings forwarded to a Responder.
type Parameters struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Request is one prompt addressed to one role in one round.
type Request struct {
	RoleID string     `json:"role_id"`
	Round  int        `json:"round"`
	System string     `json:"system"`
	Prompt string     `json:"prompt"`
	Params Parameters `json:"params"`
}

// Response is a successful responder result.
type Response struct {
	Text  string     `json:"text"`
	Usage TokenUsage `json:"usage"`
	// Model is the model that actually served the request, when reported.
	Model string `json:"model,omitempty"`
}

// Responder is the opaque request/response service behind every turn. It may
// be a network client or a deterministic simulator. Failures SHOULD be
// returned as *CallError so the scheduler can tell transient from permanent
// errors; any other error is treated as permanent.
type Responder interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// ResponderFunc adapts a plain function to the Responder interface.
type ResponderFunc func(ctx context.Context, req Request) (*Response, error)

// Invoke implements Responder.
func (f ResponderFunc) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
