package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
)

// SendRequest is the caller supplied part of an outgoing document.
// ID is optional on create; apps may pre-generate it for drafts.
type SendRequest struct {
	ID          uuid.UUID
	Kind        domain.DocumentKind
	OwnerID     string
	PartnerID   string
	ScheduledOn *time.Time
	Payload     string
}

// Validate checks the fields the dispatch engine relies on. Business rule
// validation of the payload happens before this point.
func (r *SendRequest) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return dErrors.New(dErrors.CodeValidation, "owner participant id is required")
	}
	if strings.TrimSpace(r.PartnerID) == "" {
		return dErrors.New(dErrors.CodeValidation, "partner participant id is required")
	}
	if strings.TrimSpace(r.Payload) == "" {
		return dErrors.New(dErrors.CodeValidation, "missing UBL content")
	}
	if r.Kind == "" {
		r.Kind = domain.DocumentKindInvoice
	}
	if _, err := domain.ParseDocumentKind(string(r.Kind)); err != nil {
		return err
	}
	return nil
}

// ReceivedDocument is what a gateway hands to the inbound receiver.
type ReceivedDocument struct {
	Kind       domain.DocumentKind
	SenderID   string
	ReceiverID string
	Payload    string
	Gateway    domain.AccessPoint
	TrackingID string
}
