// Package aggregate turns a finalized round into comparable structured
// records: it extracts stances from response text and computes the pairwise
// agreement matrix. All functions are pure over the round's Turn set, so the
// order in which concurrent calls completed never affects the result.
package aggregate

import (
	"github.com/hupe1980/consultmesh/core"
)

// Options configures an Aggregator.
type Options struct {
	// Extractor parses stances out of response text. Defaults to KeywordExtractor.
	Extractor StanceExtractor
}

// Aggregator annotates turns with stances and scores agreement.
type Aggregator struct {
	extractor StanceExtractor
}

// New creates an Aggregator.
func New(optFns ...func(o *Options)) *Aggregator {
	opts := Options{Extractor: NewKeywordExtractor()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Extractor == nil {
		opts.Extractor = NewKeywordExtractor()
	}

	return &Aggregator{extractor: opts.Extractor}
}

// WithExtractor replaces the stance extraction strategy.
func WithExtractor(e StanceExtractor) func(o *Options) {
	return func(o *Options) { o.Extractor = e }
}

// Annotate returns a copy of turn with its stance extracted. Turns that are
// not ok, or already carry a stance, are returned unchanged.
func (a *Aggregator) Annotate(turn core.Turn) core.Turn {
	out := turn.Clone()
	if !out.OK() || out.Stance != nil {
		return out
	}

	if s, ok := a.extractor.Extract(out.Text); ok && s.Label.Valid() {
		s.Confidence = clamp01(s.Confidence)
		out.Stance = &s
	}

	return out
}

// Aggregate computes the agreement matrix of a round.
func (a *Aggregator) Aggregate(round core.Round) core.AgreementMatrix {
	return Matrix(round)
}

// Agreement scores two stance labels: 1 minus their normalized ordinal
// distance.
func Agreement(x, y core.StanceLabel) float64 {
	d := x.Ordinal() - y.Ordinal()
	if d < 0 {
		d = -d
	}

	return 1 - float64(d)/float64(core.StanceScaleMax)
}

// Matrix builds the agreement matrix over the roles whose turn resolved ok.
// Roles appear in the order of round.Turns (role-list order once recorded).
// A pair is undefined when either side has no stance; undefined pairs are
// excluded from the mean, and the mean is nil when no pair is defined.
func Matrix(round core.Round) core.AgreementMatrix {
	m := core.AgreementMatrix{Round: round.Index, Roles: []string{}, Pairs: []core.PairScore{}}

	var present []core.Turn
	for _, t := range round.Turns {
		if t.OK() {
			present = append(present, t)
			m.Roles = append(m.Roles, t.RoleID)
		}
	}

	var (
		sum     float64
		defined int
	)
	for i := 0; i < len(present); i++ {
		for j := i + 1; j < len(present); j++ {
			p := core.PairScore{A: present[i].RoleID, B: present[j].RoleID}
			if present[i].HasStance() && present[j].HasStance() {
				score := Agreement(present[i].Stance.Label, present[j].Stance.Label)
				p.Score = &score
				sum += score
				defined++
			}
			m.Pairs = append(m.Pairs, p)
		}
	}

	if defined > 0 {
		mean := sum / float64(defined)
		m.Mean = &mean
	}

	return m
}

// Consensus reports whether every role in roleIDs has an ok turn with a
// stance and every pairwise score reaches threshold. A single role reaches
// consensus trivially once it has a stance.
func Consensus(round core.Round, m core.AgreementMatrix, roleIDs []string, threshold float64) bool {
	if len(roleIDs) == 0 {
		return false
	}

	for _, id := range roleIDs {
		t, ok := round.Turn(id)
		if !ok || !t.HasStance() {
			return false
		}
	}

	for i := 0; i < len(roleIDs); i++ {
		for j := i + 1; j < len(roleIDs); j++ {
			s, ok := m.Score(roleIDs[i], roleIDs[j])
			if !ok || s < threshold {
				return false
			}
		}
	}

	return true
}
