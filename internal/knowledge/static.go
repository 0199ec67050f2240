package knowledge

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
)

// StaticStore returns a fixed fact set for every query. Useful for tests and
// scripted demos where retrieval must be deterministic.
type StaticStore struct {
	mu      sync.Mutex
	facts   []contextstore.Fact
	written []contextstore.Turn

	// Err, when set, is returned by Search and Write.
	Err error
}

// NewStaticStore creates a store over a fixed fact set.
func NewStaticStore(facts []contextstore.Fact) *StaticStore {
	return &StaticStore{facts: facts}
}

func (s *StaticStore) Search(_ context.Context, _ string, topK int) ([]contextstore.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	out := make([]contextstore.Fact, len(s.facts))
	copy(out, s.facts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

func (s *StaticStore) Write(_ context.Context, turn contextstore.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.written = append(s.written, turn)
	return nil
}

// Written returns the turns recorded so far.
func (s *StaticStore) Written() []contextstore.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contextstore.Turn, len(s.written))
	copy(out, s.written)
	return out
}

func (s *StaticStore) Close() error { return nil }
