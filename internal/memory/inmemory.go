package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a conversation does not exist (or has been
// soft-deleted) in either store implementation.
var ErrNotFound = errors.New("not found")

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	appMemory     map[string][]AppMemory
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]Conversation),
		appMemory:     make(map[string][]AppMemory),
	}
}

func (s *InMemoryStore) SaveConversation(_ context.Context, c Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	c.DeletedAt = nil
	s.conversations[c.TitleID] = c
	return nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, titleID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[titleID]
	if !ok || c.DeletedAt != nil {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, limit int) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if c.DeletedAt != nil {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) SoftDeleteConversation(_ context.Context, titleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[titleID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	s.conversations[titleID] = c
	return nil
}

func (s *InMemoryStore) SaveAppMemory(_ context.Context, m AppMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.appMemory[m.UserID] = append(s.appMemory[m.UserID], m)
	return nil
}

func (s *InMemoryStore) SearchAppMemory(_ context.Context, userID string, query []float32, limit int) ([]AppMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := s.appMemory[userID]
	if len(candidates) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	type scored struct {
		m    AppMemory
		dist float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, m := range candidates {
		ranked = append(ranked, scored{m: m, dist: euclidean(query, m.Embedding)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]AppMemory, len(ranked))
	for i, r := range ranked {
		out[i] = r.m
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func euclidean(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
