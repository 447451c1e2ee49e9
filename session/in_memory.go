package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/consultmesh/core"
)

// InMemoryStore is a volatile SnapshotStore implementation storing finalized
// session snapshots in a process local map. It is safe for concurrent access
// and best suited for tests or one-shot CLI runs. Snapshots are copied on the
// way in and out so callers never share state with the store.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]core.Snapshot
}

// NewInMemoryStore constructs an empty in‑memory snapshot store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[string]core.Snapshot)}
}

// Save stores a copy of the snapshot, replacing any previous one with the same id.
func (s *InMemoryStore) Save(snapshot core.Snapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot without session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.ID] = cloneSnapshot(snapshot)
	return nil
}

// Get returns a copy of the stored snapshot.
func (s *InMemoryStore) Get(sessionID string) (core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return core.Snapshot{}, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	return cloneSnapshot(snap), nil
}

// List returns the stored session ids in lexical order.
func (s *InMemoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete removes a snapshot; unknown ids are ignored.
func (s *InMemoryStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
}

func cloneSnapshot(in core.Snapshot) core.Snapshot {
	out := in
	out.Roles = append([]string(nil), in.Roles...)
	out.Settings = in.Settings.Clone()
	out.Cost = in.Cost.Clone()
	if in.Rounds != nil {
		out.Rounds = make([]core.Round, len(in.Rounds))
		for i, r := range in.Rounds {
			out.Rounds[i] = r.Clone()
		}
	}
	if in.Evaluation != nil {
		e := in.Evaluation.Clone()
		out.Evaluation = &e
	}
	return out
}
