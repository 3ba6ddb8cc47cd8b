package battle

import (
	"context"
	"sort"
	"sync"
)

// InMemoryBattleStore serializes every mutation behind one mutex. It backs tests
// and single-process deployments without Redis.
type InMemoryBattleStore struct {
	mu sync.Mutex
	m  map[string]Battle
}

func NewInMemoryBattleStore() *InMemoryBattleStore {
	return &InMemoryBattleStore{
		m: make(map[string]Battle),
	}
}

func (s *InMemoryBattleStore) Create(ctx context.Context, b Battle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[b.ID]; exists {
		return precondition("battle %s already exists", b.ID)
	}
	s.m[b.ID] = b.Clone()
	return nil
}

func (s *InMemoryBattleStore) Load(ctx context.Context, battleID string) (Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[battleID]
	if !ok {
		return Battle{}, notFound("battle %s not found", battleID)
	}
	return b.Clone(), nil
}

func (s *InMemoryBattleStore) Mutate(ctx context.Context, battleID string, fn MutateFunc) (Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[battleID]
	if !ok {
		return Battle{}, notFound("battle %s not found", battleID)
	}
	next, changed, err := fn(cur.Clone())
	if err != nil {
		return Battle{}, err
	}
	if !changed {
		return cur.Clone(), nil
	}
	s.m[battleID] = next.Clone()
	return next, nil
}

func (s *InMemoryBattleStore) ListActiveByUser(ctx context.Context, userID string) ([]Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Battle
	for _, b := range s.m {
		if b.Status == StatusActive && b.IsParticipant(userID) {
			out = append(out, b.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(bs []Battle) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].ID < bs[j].ID
		}
		return bs[i].CreatedAt.Before(bs[j].CreatedAt)
	})
}
