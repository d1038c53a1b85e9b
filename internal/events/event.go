// Package events records document lifecycle transitions in an outbox and
// relays them to a publisher.
package events

import (
	"time"

	"github.com/google/uuid"

	"peppolrelay/internal/document/models"
)

// Type names a lifecycle transition.
type Type string

const (
	DocumentCreated     Type = "document.created"
	DocumentUpdated     Type = "document.updated"
	DocumentRescheduled Type = "document.rescheduled"
	DocumentCancelled   Type = "document.cancelled"
	DocumentClaimed     Type = "document.claimed"
	DocumentPostponed   Type = "document.postponed"
	DocumentDelivered   Type = "document.delivered"
	DocumentReceived    Type = "document.received"
	DocumentDownloaded  Type = "document.downloaded"
)

// Event is the published JSON shape.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	DocumentID uuid.UUID `json:"documentId"`
	OwnerID    string    `json:"ownerId"`
	Direction  string    `json:"direction"`
	Gateway    string    `json:"gateway,omitempty"`
	TrackingID string    `json:"trackingId,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// New snapshots doc into an event of type t.
func New(t Type, doc *models.Document, now time.Time) Event {
	e := Event{
		ID:         uuid.New(),
		Type:       t,
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		Direction:  doc.Direction.String(),
		Gateway:    string(doc.GatewayID()),
		OccurredAt: now,
	}
	if doc.TrackingID != nil {
		e.TrackingID = *doc.TrackingID
	}
	if doc.ProcessedStatus != nil {
		e.Status = *doc.ProcessedStatus
	}
	return e
}

// Record is an outbox row.
type Record struct {
	Event
	Attempts    int
	PublishedAt *time.Time
}
