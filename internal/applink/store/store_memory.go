package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"peppolrelay/internal/applink/models"
)

type linkKey struct {
	peppolID string
	uid      uuid.UUID
}

// InMemoryStore keeps app links in a map keyed by (participant, uid).
type InMemoryStore struct {
	mu    sync.RWMutex
	links map[linkKey]models.Link
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{links: make(map[linkKey]models.Link)}
}

// Save is idempotent; an existing link keeps its CreatedOn.
func (s *InMemoryStore) Save(_ context.Context, link models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{link.PeppolID, link.LinkedUID}
	if _, ok := s.links[key]; ok {
		return nil
	}
	s.links[key] = link
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, peppolID string, uid uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, linkKey{peppolID, uid})
	return nil
}

func (s *InMemoryStore) Exists(_ context.Context, peppolID string, uid uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.links[linkKey{peppolID, uid}]
	return ok, nil
}

// FindPeppolIDs returns the participants linked to uid in lexical order.
func (s *InMemoryStore) FindPeppolIDs(_ context.Context, uid uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for key := range s.links {
		if key.uid == uid {
			out = append(out, key.peppolID)
		}
	}
	sort.Strings(out)
	return out, nil
}
