package core

import "time"

// PairScore is the agreement between two roles. Score is nil when either side
// lacks a usable stance.
type PairScore struct {
	A     string   `json:"a"`
	B     string   `json:"b"`
	Score *float64 `json:"score"`
}

// Defined reports whether the pair has a score.
func (p PairScore) Defined() bool { return p.Score != nil }

// AgreementMatrix holds pairwise agreement among the roles that produced an
// ok Turn in a round. Pairs are ordered by role-list position (i < j).
type AgreementMatrix struct {
	Round int         `json:"round"`
	Roles []string    `json:"roles"`
	Pairs []PairScore `json:"pairs"`
	// Mean is the arithmetic mean over defined pairs; nil when none are defined.
	Mean *float64 `json:"mean_agreement"`
}

// Score returns the agreement between a and b regardless of argument order.
func (m AgreementMatrix) Score(a, b string) (float64, bool) {
	for _, p := range m.Pairs {
		if (p.A == a && p.B == b) || (p.A == b && p.B == a) {
			if p.Score == nil {
				return 0, false
			}

			return *p.Score, true
		}
	}

	return 0, false
}

// MeanAgreement returns the mean over defined pairs.
func (m AgreementMatrix) MeanAgreement() (float64, bool) {
	if m.Mean == nil {
		return 0, false
	}

	return *m.Mean, true
}

// MinAgreement returns the lowest defined pairwise score.
func (m AgreementMatrix) MinAgreement() (float64, bool) {
	found := false
	lowest := 0.0

	for _, p := range m.Pairs {
		if p.Score == nil {
			continue
		}
		if !found || *p.Score < lowest {
			lowest = *p.Score
			found = true
		}
	}

	return lowest, found
}

// DefinedPairs returns the number of pairs with a score.
func (m AgreementMatrix) DefinedPairs() int {
	n := 0

	for _, p := range m.Pairs {
		if p.Score != nil {
			n++
		}
	}

	return n
}

// Clone returns a deep copy of the matrix.
func (m AgreementMatrix) Clone() AgreementMatrix {
	c := AgreementMatrix{Round: m.Round, Roles: append([]string(nil), m.Roles...)}
	if m.Pairs != nil {
		c.Pairs = make([]PairScore, len(m.Pairs))
		for i, p := range m.Pairs {
			c.Pairs[i] = PairScore{A: p.A, B: p.B, Score: cloneFloat(p.Score)}
		}
	}
	c.Mean = cloneFloat(m.Mean)

	return c
}

// Round is one synchronized batch of turns. It is immutable once appended to
// a Session.
type Round struct {
	Index     int              `json:"index"`
	Turns     []Turn           `json:"turns"`
	Agreement *AgreementMatrix `json:"agreement,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
}

// Turn returns the turn recorded for roleID.
func (r Round) Turn(roleID string) (Turn, bool) {
	for _, t := range r.Turns {
		if t.RoleID == roleID {
			return t, true
		}
	}

	return Turn{}, false
}

// Count returns how many turns resolved with outcome o.
func (r Round) Count(o Outcome) int {
	n := 0

	for _, t := range r.Turns {
		if t.Outcome == o {
			n++
		}
	}

	return n
}

// Clone returns a deep copy of the round.
func (r Round) Clone() Round {
	c := Round{Index: r.Index, StartedAt: r.StartedAt, Duration: r.Duration}
	if r.Turns != nil {
		c.Turns = make([]Turn, len(r.Turns))
		for i, t := range r.Turns {
			c.Turns[i] = t.Clone()
		}
	}
	if r.Agreement != nil {
		m := r.Agreement.Clone()
		c.Agreement = &m
	}

	return c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f

	return &v
}
