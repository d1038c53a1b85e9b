package models

import (
	"time"

	"github.com/google/uuid"

	"peppolrelay/pkg/domain"
)

// NoArchiveDownloadCount marks a document whose payload must be dropped the
// first time the owner or the network takes custody of it.
const NoArchiveDownloadCount = -1

// Document is a relayed Peppol document, outgoing or incoming.
//
// Lifecycle of an outgoing document:
//
//	unclaimed  Gateway == nil, ScheduledOn <= now
//	claimed    Gateway != nil, ProcessedOn == nil
//	delivered  ProcessedOn != nil (ProcessedStatus nil on success)
type Document struct {
	ID              uuid.UUID
	Direction       domain.Direction
	Kind            domain.DocumentKind
	OwnerID         string
	PartnerID       string
	CreatedOn       time.Time
	ScheduledOn     *time.Time
	ProcessedOn     *time.Time
	ProcessedStatus *string
	Payload         *string
	Hash            string
	DownloadCount   int
	UpdatedOn       time.Time
	Gateway         *domain.AccessPoint
	TrackingID      *string
}

// IsClaimed reports whether a gateway binding exists (including the NONE
// binding of cancelled or unroutable documents).
func (d *Document) IsClaimed() bool {
	return d.Gateway != nil
}

func (d *Document) IsProcessed() bool {
	return d.ProcessedOn != nil
}

func (d *Document) IsNoArchive() bool {
	return d.DownloadCount < 0
}

// GatewayID returns the bound access point or "" when unclaimed.
func (d *Document) GatewayID() domain.AccessPoint {
	if d.Gateway == nil {
		return ""
	}
	return *d.Gateway
}

func (d *Document) PayloadText() string {
	if d.Payload == nil {
		return ""
	}
	return *d.Payload
}

// Clone returns a deep copy so in-memory stores never share pointers with
// callers.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.ScheduledOn = cloneTime(d.ScheduledOn)
	c.ProcessedOn = cloneTime(d.ProcessedOn)
	c.ProcessedStatus = cloneString(d.ProcessedStatus)
	c.Payload = cloneString(d.Payload)
	c.TrackingID = cloneString(d.TrackingID)
	if d.Gateway != nil {
		g := *d.Gateway
		c.Gateway = &g
	}
	return &c
}

// Claim binds the document to a gateway with its tracking id.
func (d *Document) Claim(ap domain.AccessPoint, trackingID *string, now time.Time) {
	d.Gateway = &ap
	d.TrackingID = cloneString(trackingID)
	d.UpdatedOn = now
}

// Deliver records the network outcome. status is nil on success.
func (d *Document) Deliver(status *string, now time.Time) {
	d.ProcessedOn = &now
	d.ProcessedStatus = cloneString(status)
	d.UpdatedOn = now
}

// ClearPayload drops the payload and resets the no-archive marker.
func (d *Document) ClearPayload() {
	d.Payload = nil
	d.DownloadCount = 0
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Ptr is a small helper for optional fields.
func Ptr[T any](v T) *T {
	return &v
}
