package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"peppolrelay/internal/document/models"
	"peppolrelay/pkg/domain"
	"peppolrelay/pkg/platform/sentinel"
)

// InMemoryStore keeps documents in a map. Unique constraints mirror the
// postgres schema: id, (direction, hash) and tracking id.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]*models.Document
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{docs: make(map[uuid.UUID]*models.Document)}
}

func (s *InMemoryStore) Create(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return fmt.Errorf("document %s: %w", doc.ID, sentinel.ErrConflict)
	}
	if err := s.checkUniqueLocked(doc); err != nil {
		return err
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; !exists {
		return fmt.Errorf("document %s: %w", doc.ID, sentinel.ErrNotFound)
	}
	if err := s.checkUniqueLocked(doc); err != nil {
		return err
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *InMemoryStore) checkUniqueLocked(doc *models.Document) error {
	for id, other := range s.docs {
		if id == doc.ID {
			continue
		}
		if other.Direction == doc.Direction && other.Hash == doc.Hash {
			return fmt.Errorf("fingerprint %s: %w", doc.Hash, sentinel.ErrConflict)
		}
		if doc.TrackingID != nil && other.TrackingID != nil && *other.TrackingID == *doc.TrackingID {
			return fmt.Errorf("tracking id %s: %w", *doc.TrackingID, sentinel.ErrConflict)
		}
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, sentinel.ErrNotFound)
	}
	return doc.Clone(), nil
}

func (s *InMemoryStore) FindByIDs(_ context.Context, ids []uuid.UUID, ownerID string) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*models.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok && doc.OwnerID == ownerID {
			result = append(result, doc.Clone())
		}
	}
	return result, nil
}

func (s *InMemoryStore) ExistsByHash(_ context.Context, direction domain.Direction, hash string, excludeID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, doc := range s.docs {
		if id != excludeID && doc.Direction == direction && doc.Hash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ExistsByTrackingID(_ context.Context, trackingID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.docs {
		if doc.TrackingID != nil && *doc.TrackingID == trackingID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) FindDueOutgoing(_ context.Context, now time.Time, limit int) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*models.Document
	for _, doc := range s.docs {
		if doc.Direction != domain.DirectionOutgoing || doc.Gateway != nil {
			continue
		}
		if doc.ScheduledOn != nil && doc.ScheduledOn.After(now) {
			continue
		}
		due = append(due, doc)
	}
	sort.Slice(due, func(i, j int) bool {
		si, sj := scheduledOrCreated(due[i]), scheduledOrCreated(due[j])
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return due[i].CreatedOn.Before(due[j].CreatedOn)
	})
	return cloneLimit(due, limit), nil
}

func (s *InMemoryStore) FindInFlightOutgoing(_ context.Context, limit int) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var inFlight []*models.Document
	for _, doc := range s.docs {
		if doc.Direction != domain.DirectionOutgoing || doc.ProcessedOn != nil {
			continue
		}
		if doc.Gateway == nil || doc.Gateway.IsNone() {
			continue
		}
		inFlight = append(inFlight, doc)
	}
	sort.Slice(inFlight, func(i, j int) bool {
		return inFlight[i].UpdatedOn.Before(inFlight[j].UpdatedOn)
	})
	return cloneLimit(inFlight, limit), nil
}

func (s *InMemoryStore) FindNewIncoming(_ context.Context, ownerIDs []string, limit int, newestFirst bool) ([]*models.Document, error) {
	owners := make(map[string]struct{}, len(ownerIDs))
	for _, o := range ownerIDs {
		owners[o] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []*models.Document
	for _, doc := range s.docs {
		if doc.Direction != domain.DirectionIncoming || doc.DownloadCount != 0 {
			continue
		}
		if _, ok := owners[doc.OwnerID]; !ok {
			continue
		}
		found = append(found, doc)
	}
	sort.Slice(found, func(i, j int) bool {
		if newestFirst {
			return found[i].CreatedOn.After(found[j].CreatedOn)
		}
		return found[i].CreatedOn.Before(found[j].CreatedOn)
	})
	return cloneLimit(found, limit), nil
}

func (s *InMemoryStore) CountPendingScheduled(_ context.Context, ownerID, partnerID string, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, doc := range s.docs {
		if doc.Direction != domain.DirectionOutgoing || doc.OwnerID != ownerID {
			continue
		}
		if partnerID != "" && doc.PartnerID != partnerID {
			continue
		}
		if doc.ProcessedOn != nil || doc.Gateway != nil || doc.ScheduledOn == nil {
			continue
		}
		if !doc.ScheduledOn.Before(from) && doc.ScheduledOn.Before(to) {
			count++
		}
	}
	return count, nil
}

func scheduledOrCreated(doc *models.Document) time.Time {
	if doc.ScheduledOn != nil {
		return *doc.ScheduledOn
	}
	return doc.CreatedOn
}

func cloneLimit(docs []*models.Document, limit int) []*models.Document {
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	out := make([]*models.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc.Clone()
	}
	return out
}
