package core

// SynthesisRoleID is the request role id of the closing synthesis call.
const SynthesisRoleID = "synthesis"

// FinalConsensus is the closing synthesis over the latest contribution of
// every role. It is produced by one extra responder call after the last round.
type FinalConsensus struct {
	Summary        string   `json:"summary,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Considerations []string `json:"considerations,omitempty"`
	// Principles are the ethical principles detected in the contributions.
	Principles []string `json:"principles,omitempty"`
	// Confidence blends the synthesis confidence with the mean stance
	// confidence of the roles; always in [0,1].
	Confidence float64    `json:"confidence"`
	Text       string     `json:"text,omitempty"`
	Usage      TokenUsage `json:"usage"`
	Attempts   int        `json:"attempts"`
	// Error is set when the synthesis call failed; the session still completes.
	Error string `json:"error,omitempty"`
}

// OK reports whether the synthesis call produced text.
func (c FinalConsensus) OK() bool { return c.Error == "" && c.Text != "" }

// Clone returns a deep copy.
func (c FinalConsensus) Clone() FinalConsensus {
	out := c
	out.Considerations = append([]string(nil), c.Considerations...)
	out.Principles = append([]string(nil), c.Principles...)

	return out
}
