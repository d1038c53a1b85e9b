package models

import (
	"time"

	"github.com/google/uuid"

	"peppolrelay/pkg/domain"
)

// DocumentDTO is the wire shape of a document on the participant API. The
// same shape is accepted on create, update and reschedule; direction and
// processing fields are ignored on input.
type DocumentDTO struct {
	ID              uuid.UUID           `json:"id"`
	Direction       domain.Direction    `json:"direction,omitempty"`
	Type            domain.DocumentKind `json:"type,omitempty"`
	OwnerPeppolID   string              `json:"ownerPeppolId"`
	PartnerPeppolID string              `json:"partnerPeppolId"`
	CreatedOn       *time.Time          `json:"createdOn,omitempty"`
	ScheduledOn     *time.Time          `json:"scheduledOn,omitempty"`
	ProcessedOn     *time.Time          `json:"processedOn,omitempty"`
	ProcessedStatus *string             `json:"processedStatus,omitempty"`
	UBL             *string             `json:"ubl,omitempty"`
}

// SendRequest converts an inbound DTO into the sender input.
func (d DocumentDTO) SendRequest() SendRequest {
	req := SendRequest{
		ID:          d.ID,
		Kind:        d.Type,
		OwnerID:     d.OwnerPeppolID,
		PartnerID:   d.PartnerPeppolID,
		ScheduledOn: d.ScheduledOn,
	}
	if d.UBL != nil {
		req.Payload = *d.UBL
	}
	return req
}

func ToDTO(doc *Document) DocumentDTO {
	created := doc.CreatedOn
	return DocumentDTO{
		ID:              doc.ID,
		Direction:       doc.Direction,
		Type:            doc.Kind,
		OwnerPeppolID:   doc.OwnerID,
		PartnerPeppolID: doc.PartnerID,
		CreatedOn:       &created,
		ScheduledOn:     cloneTime(doc.ScheduledOn),
		ProcessedOn:     cloneTime(doc.ProcessedOn),
		ProcessedStatus: cloneString(doc.ProcessedStatus),
		UBL:             cloneString(doc.Payload),
	}
}

func ToDTOs(docs []*Document) []DocumentDTO {
	out := make([]DocumentDTO, 0, len(docs))
	for _, doc := range docs {
		out = append(out, ToDTO(doc))
	}
	return out
}
