package memory

import (
	"testing"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/internal/testutil"
)

func rounds() []core.Round {
	r1 := testutil.NewRound(1).
		Turn(testutil.NewTurn("a", 1).Text("a1").Build()).
		Turn(testutil.NewTurn("b", 1).Failed("boom").Build()).
		Turn(testutil.NewTurn("c", 1).Text("c1").Build()).
		Build()
	r2 := testutil.NewRound(2).
		Turn(testutil.NewTurn("a", 2).Text("a2").Stance(core.Support, 0.5).Build()).
		Turn(testutil.NewTurn("b", 2).Text("b2").Build()).
		Turn(testutil.NewTurn("c", 2).Skipped().Build()).
		Build()
	return []core.Round{r1, r2}
}

func texts(turns []core.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Text
	}
	return out
}

func TestWindow_TruncatesOldestFirst(t *testing.T) {
	got := texts(Window(rounds(), 3))
	want := []string{"c1", "a2", "b2"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestWindow_LargerThanHistory(t *testing.T) {
	got := Window(rounds(), 10)
	if len(got) != 4 {
		t.Fatalf("expected all 4 ok turns, got %d", len(got))
	}
}

func TestWindow_ZeroSize(t *testing.T) {
	if got := Window(rounds(), 0); len(got) != 0 {
		t.Fatalf("expected empty window, got %v", got)
	}
	if got := Window(nil, 5); len(got) != 0 {
		t.Fatalf("expected empty window for first round, got %v", got)
	}
}

func TestWindow_ReturnsCopies(t *testing.T) {
	src := rounds()
	got := Window(src, 5)
	got[2].Stance.Label = core.StronglyOppose
	if src[1].Turns[0].Stance.Label != core.Support {
		t.Fatal("window must not alias round turns")
	}
}

func TestEntries(t *testing.T) {
	entries := Entries(Window(rounds(), 2), map[string]string{"a": "Ethicist"}, 1)
	if entries[0].Name != "Ethicist" || entries[0].Stance != "support" || entries[0].Text != "a..." {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if entries[1].Name != "b" {
		t.Fatalf("expected id fallback, got %q", entries[1].Name)
	}
}
