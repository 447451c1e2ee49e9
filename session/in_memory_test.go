package session

import (
	"testing"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/internal/testutil"
)

// Interface compliance (compile-time assertion)
var _ core.SnapshotStore = (*InMemoryStore)(nil)

func TestInMemoryStore_SaveGet(t *testing.T) {
	store := NewInMemoryStore()
	sess := testutil.NewSessionBuilder("s1", "case", "a", "b").
		Round(testutil.NewRound(1).Stances([]string{"a", "b"}, core.Support, core.Oppose).Build()).
		Build()

	if err := store.Save(sess.Snapshot()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Get("s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.TurnCount() != 2 {
		t.Fatalf("expected 2 turns, got %d", got.TurnCount())
	}

	got.Rounds[0].Turns[0].Text = "mutated"
	again, _ := store.Get("s1")
	if again.Rounds[0].Turns[0].Text == "mutated" {
		t.Fatal("store must return copies")
	}

	if ids := store.List(); len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestInMemoryStore_NotFound(t *testing.T) {
	store := NewInMemoryStore()
	if _, err := store.Get("missing"); err == nil {
		t.Fatal("expected error")
	}
	if err := store.Save(core.Snapshot{}); err == nil {
		t.Fatal("expected error for empty id")
	}

	store.Save(core.Snapshot{ID: "x"}) //nolint:errcheck
	store.Delete("x")
	if _, err := store.Get("x"); err == nil {
		t.Fatal("expected deleted snapshot to be gone")
	}
}
