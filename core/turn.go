package core

import (
	"fmt"
	"strings"
	"time"
)

// Outcome records how a Turn resolved.
type Outcome string

const (
	// OutcomeOK means the responder returned text for the turn.
	OutcomeOK Outcome = "ok"
	// OutcomeFailed means every permitted attempt failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means no attempt was issued because the round was cut short.
	OutcomeSkipped Outcome = "skipped"
)

// StanceLabel is a position on the ordinal opinion scale.
type StanceLabel int

const (
	StronglyOppose StanceLabel = iota
	Oppose
	Neutral
	Support
	StronglySupport
)

// StanceScaleMax is the ordinal of the highest stance label.
const StanceScaleMax = int(StronglySupport)

var stanceNames = [...]string{"strongly_oppose", "oppose", "neutral", "support", "strongly_support"}

// String returns the snake_case label name.
func (l StanceLabel) String() string {
	if l < StronglyOppose || l > StronglySupport {
		return fmt.Sprintf("stance(%d)", int(l))
	}

	return stanceNames[l]
}

// Valid reports whether l is on the scale.
func (l StanceLabel) Valid() bool { return l >= StronglyOppose && l <= StronglySupport }

// Ordinal returns the label position on the scale.
func (l StanceLabel) Ordinal() int { return int(l) }

// MarshalText implements encoding.TextMarshaler.
func (l StanceLabel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid stance label %d", int(l))
	}

	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *StanceLabel) UnmarshalText(b []byte) error {
	parsed, ok := ParseStanceLabel(string(b))
	if !ok {
		return fmt.Errorf("unknown stance label %q", string(b))
	}

	*l = parsed

	return nil
}

// ParseStanceLabel parses a canonical label name (case and separator insensitive).
func ParseStanceLabel(s string) (StanceLabel, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)

	for i, name := range stanceNames {
		if norm == name {
			return StanceLabel(i), true
		}
	}

	return 0, false
}

// Stance is the structured opinion extracted from a turn's text.
type Stance struct {
	Label      StanceLabel `json:"label"`
	Confidence float64     `json:"confidence"`
}

// TokenUsage captures token counts for a single call or an aggregate.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Add returns the element-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// Turn is one role's contribution within one round. A Turn is created exactly
// once per (role, round) pair after the scheduler finished all attempts.
type Turn struct {
	RoleID   string        `json:"role_id"`
	Round    int           `json:"round"`
	Text     string        `json:"text,omitempty"`
	Stance   *Stance       `json:"stance,omitempty"`
	Usage    TokenUsage    `json:"usage"`
	Latency  time.Duration `json:"latency"`
	Attempts int           `json:"attempts"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
}

// OK reports whether the turn produced a response.
func (t Turn) OK() bool { return t.Outcome == OutcomeOK }

// HasStance reports whether the turn is usable for agreement scoring.
func (t Turn) HasStance() bool { return t.OK() && t.Stance != nil }

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	c := t
	if t.Stance != nil {
		s := *t.Stance
		c.Stance = &s
	}

	return c
}
