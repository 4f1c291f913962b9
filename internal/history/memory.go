package history

import (
	"context"
	"sync"

	"github.com/kalambet/fitgate/internal/storage"
)

// MemoryStore is a process-local Backend. Used by tests and ephemeral mode.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string][]storage.Interaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string][]storage.Interaction),
	}
}

func (s *MemoryStore) AppendInteraction(_ context.Context, i storage.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[i.UserID] = append(s.users[i.UserID], i)
	return nil
}

func (s *MemoryStore) RecentInteractions(_ context.Context, userID string, limit int) ([]storage.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.users[userID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]storage.Interaction, len(all))
	copy(out, all)
	return out, nil
}

func (s *MemoryStore) PurgeInteractions(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.users[userID])
	delete(s.users, userID)
	return n, nil
}
