package store

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in memory. Values are copied through their
// encoded form so callers never share maps with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (Data, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	raw, ok := s.docs[key]
	s.mu.RUnlock()
	if !ok {
		return Data{}, nil
	}
	return Decode(raw)
}

func (s *MemoryStore) Save(ctx context.Context, key string, data Data) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	raw, err := Encode(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[key] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
