// Package store persists registry entries.
package store

import (
	"context"
	"fmt"
	"sync"

	"peppolrelay/internal/registry/models"
	"peppolrelay/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.Entry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*models.Entry)}
}

func (s *InMemoryStore) FindByPeppolID(_ context.Context, peppolID string) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[peppolID]
	if !ok {
		return nil, fmt.Errorf("registry entry %s: %w", peppolID, sentinel.ErrNotFound)
	}
	return e.Clone(), nil
}

// Save inserts or replaces the entry.
func (s *InMemoryStore) Save(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[entry.PeppolID]; ok {
		c := entry.Clone()
		c.CreatedOn = existing.CreatedOn
		s.entries[entry.PeppolID] = c
		return nil
	}
	s.entries[entry.PeppolID] = entry.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, peppolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[peppolID]; !ok {
		return fmt.Errorf("registry entry %s: %w", peppolID, sentinel.ErrNotFound)
	}
	delete(s.entries, peppolID)
	return nil
}
