// Package gateway defines the contract every outbound access point honours
// and the registry that resolves an access point to its implementation.
package gateway

import (
	"context"

	"peppolrelay/internal/document/models"
	"peppolrelay/pkg/domain"
)

// Variables is provider-owned registration state. Only the gateway that
// wrote it interprets it.
type Variables map[string]string

// RegistrationRequest carries the business entity published to the network.
type RegistrationRequest struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Country  string `json:"country"`
}

// StatusReport is a final delivery outcome.
type StatusReport struct {
	Success bool
	Message string
}

// Gateway is one outbound access point.
type Gateway interface {
	ID() domain.AccessPoint

	// Register publishes participantID on the network. A failure leaves the
	// local registry untouched.
	Register(ctx context.Context, participantID string, req RegistrationRequest) (Variables, error)

	// Unregister is best-effort; callers log and swallow the error.
	Unregister(ctx context.Context, participantID string, vars Variables) error

	// SendDocument returns the tracking id. An empty id with a nil error means
	// "try again later".
	SendDocument(ctx context.Context, doc *models.Document) (string, error)

	// GetStatus returns nil while the outcome is still unknown.
	GetStatus(ctx context.Context, doc *models.Document) (*StatusReport, error)
}

// Receiver is implemented by gateways that must be polled for inbound
// documents.
type Receiver interface {
	ReceiveDocuments(ctx context.Context) error
}
