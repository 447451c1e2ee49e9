package aggregate

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/internal/testutil"
)

var roles = []string{"ethicist", "clinician", "advocate", "policy", "technologist"}

func TestAgreement(t *testing.T) {
	assert.Equal(t, 1.0, Agreement(core.Support, core.Support))
	assert.Equal(t, 0.0, Agreement(core.StronglyOppose, core.StronglySupport))
	assert.Equal(t, 0.75, Agreement(core.Neutral, core.Support))
	assert.Equal(t, Agreement(core.Oppose, core.StronglySupport), Agreement(core.StronglySupport, core.Oppose))
}

func TestMatrix_ExcludesFailedRoles(t *testing.T) {
	r := testutil.NewRound(1).
		Turn(testutil.NewTurn("a", 1).Stance(core.Support, 0.7).Build()).
		Turn(testutil.NewTurn("b", 1).Failed("exhausted").Build()).
		Turn(testutil.NewTurn("c", 1).Stance(core.StronglySupport, 0.9).Build()).
		Build()

	m := Matrix(r)
	assert.Equal(t, []string{"a", "c"}, m.Roles)
	require.Len(t, m.Pairs, 1)
	s, ok := m.Score("c", "a")
	require.True(t, ok)
	assert.Equal(t, 0.75, s)
	require.NotNil(t, m.Mean)
	assert.Equal(t, 0.75, *m.Mean)
}

func TestMatrix_AllStancesMissing(t *testing.T) {
	r := testutil.NewRound(2).
		Turn(testutil.NewTurn("a", 2).Text("no idea").Build()).
		Turn(testutil.NewTurn("b", 2).Text("still thinking").Build()).
		Build()

	m := Matrix(r)
	require.Len(t, m.Pairs, 1)
	assert.False(t, m.Pairs[0].Defined())
	assert.Nil(t, m.Mean, "no data is not total disagreement")
	_, ok := m.MeanAgreement()
	assert.False(t, ok)
}

func TestMatrix_PartialStances(t *testing.T) {
	r := testutil.NewRound(1).
		Turn(testutil.NewTurn("a", 1).Stance(core.Oppose, 0.5).Build()).
		Turn(testutil.NewTurn("b", 1).Text("rambling").Build()).
		Turn(testutil.NewTurn("c", 1).Stance(core.Oppose, 0.5).Build()).
		Build()

	m := Matrix(r)
	assert.Len(t, m.Pairs, 3)
	assert.Equal(t, 1, m.DefinedPairs())
	assert.Equal(t, 1.0, *m.Mean)
}

func TestAggregator_Annotate(t *testing.T) {
	a := New()

	turn := a.Annotate(testutil.NewTurn("a", 1).Text("Stance: oppose\nConfidence: 60%").Build())
	require.NotNil(t, turn.Stance)
	assert.Equal(t, core.Oppose, turn.Stance.Label)
	assert.InDelta(t, 0.6, turn.Stance.Confidence, 1e-9)

	failed := a.Annotate(testutil.NewTurn("b", 1).Failed("boom").Build())
	assert.Nil(t, failed.Stance)

	custom := New(WithExtractor(StanceExtractorFunc(func(string) (core.Stance, bool) {
		return core.Stance{Label: core.StronglySupport, Confidence: 3}, true
	})))
	turn = custom.Annotate(testutil.NewTurn("c", 1).Text("anything").Build())
	assert.Equal(t, core.StronglySupport, turn.Stance.Label)
	assert.Equal(t, 1.0, turn.Stance.Confidence)
}

func TestConsensus(t *testing.T) {
	ids := []string{"a", "b", "c"}
	agree := testutil.NewRound(1).Stances(ids, core.Support, core.Support, core.StronglySupport).Build()
	assert.True(t, Consensus(agree, Matrix(agree), ids, 0.75))
	assert.False(t, Consensus(agree, Matrix(agree), ids, 0.9))

	partial := testutil.NewRound(1).
		Turn(testutil.NewTurn("a", 1).Stance(core.Support, 1).Build()).
		Turn(testutil.NewTurn("b", 1).Failed("x").Build()).
		Turn(testutil.NewTurn("c", 1).Stance(core.Support, 1).Build()).
		Build()
	assert.False(t, Consensus(partial, Matrix(partial), ids, 0.5))
}

func genRound() gopter.Gen {
	return gen.SliceOfN(len(roles), gen.IntRange(-1, core.StanceScaleMax)).Map(func(labels []int) core.Round {
		b := testutil.NewRound(1)
		for i, l := range labels {
			switch {
			case l < 0:
				b.Turn(testutil.NewTurn(roles[i], 1).Text("n/a").Build())
			case l == core.StanceScaleMax && i%2 == 1:
				b.Turn(testutil.NewTurn(roles[i], 1).Failed("boom").Build())
			default:
				b.Turn(testutil.NewTurn(roles[i], 1).Stance(core.StanceLabel(l), 0.5).Build())
			}
		}
		return b.Build()
	})
}

func TestMatrixProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("scores are symmetric and bounded", prop.ForAll(
		func(r core.Round) bool {
			m := Matrix(r)
			for _, a := range m.Roles {
				for _, b := range m.Roles {
					if a == b {
						continue
					}
					s1, ok1 := m.Score(a, b)
					s2, ok2 := m.Score(b, a)
					if ok1 != ok2 || s1 != s2 || s1 < 0 || s1 > 1 {
						return false
					}
				}
			}
			return true
		},
		genRound(),
	))

	properties.Property("mean is defined iff some pair is defined", prop.ForAll(
		func(r core.Round) bool {
			m := Matrix(r)
			return (m.Mean != nil) == (m.DefinedPairs() > 0)
		},
		genRound(),
	))

	properties.Property("turn order does not change scores", prop.ForAll(
		func(r core.Round, seed int64) bool {
			shuffled := r.Clone()
			rng := rand.New(rand.NewSource(seed))
			rng.Shuffle(len(shuffled.Turns), func(i, j int) {
				shuffled.Turns[i], shuffled.Turns[j] = shuffled.Turns[j], shuffled.Turns[i]
			})

			m1, m2 := Matrix(r), Matrix(shuffled)
			if (m1.Mean == nil) != (m2.Mean == nil) {
				return false
			}
			if m1.Mean != nil && *m1.Mean != *m2.Mean {
				return false
			}
			for _, p := range m1.Pairs {
				s, ok := m2.Score(p.A, p.B)
				if ok != p.Defined() || (ok && s != *p.Score) {
					return false
				}
			}
			return true
		},
		genRound(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
