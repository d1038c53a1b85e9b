// Package loopback delivers documents a participant addresses to itself
// without leaving the relay.
package loopback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/gateway"
	"peppolrelay/pkg/domain"
	"peppolrelay/pkg/platform/tx"
)

// Store persists the incoming copy. It must join the unit of work carried by
// ctx so the copy and the claim of the source commit together. The copy is
// written under a savepoint.
type Store interface {
	Create(ctx context.Context, doc *models.Document) error
}

type Archiver interface {
	Write(ctx context.Context, doc *models.Document) error
}

type Gateway struct {
	store    Store
	archiver Archiver
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Gateway)

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func New(store Store, archiver Archiver, opts ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		archiver: archiver,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) ID() domain.AccessPoint {
	return domain.AccessPointLoopback
}

// Register always fails: loopback is chosen by routing, never by a
// participant.
func (g *Gateway) Register(context.Context, string, gateway.RegistrationRequest) (gateway.Variables, error) {
	return nil, gateway.NewError(gateway.ErrorRejected, g.ID(), "loopback cannot be selected at registration", nil)
}

func (g *Gateway) Unregister(context.Context, string, gateway.Variables) error {
	return nil
}

// SendDocument stores the incoming copy and returns its id as tracking id.
func (g *Gateway) SendDocument(ctx context.Context, doc *models.Document) (string, error) {
	if doc.OwnerID != doc.PartnerID {
		return "", gateway.NewError(gateway.ErrorBadData, g.ID(),
			fmt.Sprintf("document %s is not addressed to its owner", doc.ID), nil)
	}
	now := g.now()
	trackingID := doc.ID.String()
	incoming := &models.Document{
		ID:          uuid.New(),
		Direction:   domain.DirectionIncoming,
		Kind:        doc.Kind,
		OwnerID:     doc.PartnerID,
		PartnerID:   doc.OwnerID,
		CreatedOn:   now,
		ProcessedOn: &now,
		Payload:     models.Ptr(doc.PayloadText()),
		Hash:        doc.Hash,
		UpdatedOn:   now,
		Gateway:     models.Ptr(domain.AccessPointLoopback),
		TrackingID:  &trackingID,
	}
	// A rejected copy must leave the unit of work usable for recording the
	// failure on the source.
	err := tx.Savepoint(ctx, func(ctx context.Context) error {
		if err := g.store.Create(ctx, incoming); err != nil {
			return gateway.NewError(gateway.ErrorInternal, g.ID(), "store loopback copy", err)
		}
		if err := g.archiver.Write(ctx, incoming); err != nil {
			return gateway.NewError(gateway.ErrorInternal, g.ID(), "archive loopback copy", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	g.logger.InfoContext(ctx, "document looped back to its owner",
		"document_id", doc.ID,
		"copy_id", incoming.ID,
		"owner_id", doc.OwnerID,
	)
	return incoming.ID.String(), nil
}

// GetStatus reports success: the copy was stored when the source was claimed.
func (g *Gateway) GetStatus(ctx context.Context, doc *models.Document) (*gateway.StatusReport, error) {
	g.logger.WarnContext(ctx, "synchronizing a loopback document", "document_id", doc.ID)
	return &gateway.StatusReport{Success: true}, nil
}
