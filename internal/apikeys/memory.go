package apikeys

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/ocrflow/internal/models"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]models.APIKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]models.APIKey)}
}

func (s *MemoryStore) Create(_ context.Context, key models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.KeyHash]; ok {
		return fmt.Errorf("api key record already exists")
	}
	s.keys[key.KeyHash] = key
	return nil
}

func (s *MemoryStore) Get(_ context.Context, keyHash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	return &key, nil
}

func (s *MemoryStore) Touch(_ context.Context, keyHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyHash]
	if !ok {
		return ErrNotFound
	}
	key.LastUsedAt = at
	key.UsageCount++
	s.keys[keyHash] = key
	return nil
}

func (s *MemoryStore) ListByEmail(_ context.Context, email string) ([]models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []models.APIKey
	for _, k := range s.keys {
		if k.Email == email {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (s *MemoryStore) SetActive(_ context.Context, keyHash string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyHash]
	if !ok {
		return ErrNotFound
	}
	key.IsActive = active
	s.keys[keyHash] = key
	return nil
}
