package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryOutbox is the outbox used with memory storage. Events are lost on
// restart like the documents they describe.
type InMemoryOutbox struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
}

func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{records: make(map[uuid.UUID]*Record)}
}

func (o *InMemoryOutbox) Append(_ context.Context, e Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records[e.ID] = &Record{Event: e}
	return nil
}

func (o *InMemoryOutbox) Pending(_ context.Context, limit int) ([]Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Record
	for _, r := range o.records {
		if r.PublishedAt == nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o *InMemoryOutbox) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		if r, ok := o.records[id]; ok {
			t := at
			r.PublishedAt = &t
		}
	}
	return nil
}

func (o *InMemoryOutbox) MarkFailed(_ context.Context, ids []uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		if r, ok := o.records[id]; ok {
			r.Attempts++
		}
	}
	return nil
}

// Purge drops published records older than before.
func (o *InMemoryOutbox) Purge(_ context.Context, before time.Time) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for id, r := range o.records {
		if r.PublishedAt != nil && r.PublishedAt.Before(before) {
			delete(o.records, id)
			n++
		}
	}
	return n, nil
}
