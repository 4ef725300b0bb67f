package readstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the projection in process memory. It backs local runs
// with read_store.driver=memory and the projection tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Item
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Item)}
}

func (s *MemoryStore) Upsert(_ context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = item.clone()
	return nil
}

func (s *MemoryStore) ApplyPartial(_ context.Context, id string, fields Fields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		item = Item{ID: id}
	}
	fields.applyTo(&item)
	s.items[id] = item
	return !ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[id]
	delete(s.items, id)
	return ok, nil
}

func (s *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[id]
	return ok, nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.items)), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := item.clone()
	return &clone, nil
}
