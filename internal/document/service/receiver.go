package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/events"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/sentinel"
)

// CreateAsReceived ingests a document pushed or fetched from an access point.
//
// A replayed tracking id or an already received payload is a conflict; the
// callback still runs for duplicates so the provider stops replaying them.
// afterCommit runs only once the document is durable and its failure is
// logged, not returned.
func (s *Service) CreateAsReceived(ctx context.Context, in models.ReceivedDocument, afterCommit func(ctx context.Context) error) (*models.Document, error) {
	if err := validateReceived(&in); err != nil {
		return nil, err
	}
	hash := domain.Fingerprint(in.Payload)

	var (
		doc       *models.Document
		duplicate bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		seen, err := s.store.ExistsByTrackingID(ctx, in.TrackingID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check tracking id")
		}
		if !seen {
			seen, err = s.store.ExistsByHash(ctx, domain.DirectionIncoming, hash, uuid.Nil)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check document fingerprint")
			}
		}
		if seen {
			duplicate = true
			return nil
		}

		now := s.now()
		gw := in.Gateway
		doc = &models.Document{
			ID:          uuid.New(),
			Direction:   domain.DirectionIncoming,
			Kind:        in.Kind,
			OwnerID:     in.ReceiverID,
			PartnerID:   in.SenderID,
			CreatedOn:   now,
			ProcessedOn: &now,
			Payload:     models.Ptr(in.Payload),
			Hash:        hash,
			UpdatedOn:   now,
			Gateway:     &gw,
			TrackingID:  models.Ptr(in.TrackingID),
		}
		if err := s.store.Create(ctx, doc); err != nil {
			return translateStoreError(err, "failed to save received document")
		}
		if err := s.record(ctx, events.DocumentReceived, doc); err != nil {
			return err
		}
		if err := s.archiver.Write(ctx, doc); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to archive received document")
		}
		return nil
	})
	if err != nil {
		return nil, coded(err)
	}

	if duplicate {
		s.runAfterCommit(ctx, in, afterCommit)
		s.logger.WarnContext(ctx, "duplicate inbound document",
			"tracking_id", in.TrackingID,
			"access_point", in.Gateway,
			"receiver", in.ReceiverID,
		)
		return nil, dErrors.New(dErrors.CodeConflict,
			"document with tracking id "+in.TrackingID+" was already received")
	}

	s.decrementBalance(ctx)
	if s.metrics != nil {
		s.metrics.IncrementReceived()
	}
	s.runAfterCommit(ctx, in, afterCommit)
	s.logger.InfoContext(ctx, "document received",
		"document_id", doc.ID,
		"owner_id", doc.OwnerID,
		"access_point", in.Gateway,
		"tracking_id", in.TrackingID,
	)
	return doc, nil
}

func (s *Service) runAfterCommit(ctx context.Context, in models.ReceivedDocument, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	if err := fn(ctx); err != nil {
		s.logger.ErrorContext(ctx, "after commit callback failed",
			"tracking_id", in.TrackingID,
			"access_point", in.Gateway,
			"error", err,
		)
	}
}

func validateReceived(in *models.ReceivedDocument) error {
	switch {
	case strings.TrimSpace(in.ReceiverID) == "":
		return dErrors.New(dErrors.CodeValidation, "receiver participant id is required")
	case strings.TrimSpace(in.SenderID) == "":
		return dErrors.New(dErrors.CodeValidation, "sender participant id is required")
	case strings.TrimSpace(in.TrackingID) == "":
		return dErrors.New(dErrors.CodeValidation, "tracking id is required")
	case strings.TrimSpace(in.Payload) == "":
		return dErrors.New(dErrors.CodeValidation, "missing UBL content")
	case in.Gateway.IsNone():
		return dErrors.New(dErrors.CodeValidation, "access point is required")
	}
	if in.Kind == "" {
		in.Kind = domain.DocumentKindInvoice
	}
	return nil
}

// FindAllNew lists incoming documents the owner has not downloaded yet,
// oldest first.
func (s *Service) FindAllNew(ctx context.Context, ownerID string, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	docs, err := s.store.FindNewIncoming(ctx, []string{ownerID}, limit, false)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list new documents")
	}
	return docs, nil
}

// FindAllNewByApp lists new incoming documents of every participant linked to
// the application, newest first.
func (s *Service) FindAllNewByApp(ctx context.Context, appUID uuid.UUID, limit int) ([]*models.Document, error) {
	if s.links == nil {
		return nil, dErrors.New(dErrors.CodeForbidden, "application access is not enabled")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	owners, err := s.links.LinkedParticipants(ctx, appUID)
	if err != nil {
		return nil, err
	}
	if len(owners) == 0 {
		return []*models.Document{}, nil
	}
	docs, err := s.store.FindNewIncoming(ctx, owners, limit, true)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list new documents")
	}
	return docs, nil
}

// Downloaded marks documents of ownerID as consumed.
func (s *Service) Downloaded(ctx context.Context, ids []uuid.UUID, ownerID string, noArchive bool) error {
	return s.downloaded(ctx, ids, noArchive, func(_ context.Context, doc *models.Document) (bool, error) {
		return doc.OwnerID == ownerID, nil
	})
}

// DownloadedByApp marks documents of any participant linked to appUID as
// consumed.
func (s *Service) DownloadedByApp(ctx context.Context, ids []uuid.UUID, appUID uuid.UUID, noArchive bool) error {
	if s.links == nil {
		return dErrors.New(dErrors.CodeForbidden, "application access is not enabled")
	}
	return s.downloaded(ctx, ids, noArchive, func(ctx context.Context, doc *models.Document) (bool, error) {
		return s.links.IsLinked(ctx, doc.OwnerID, appUID)
	})
}

// downloaded skips, with an error log, ids that are unknown, not accessible or
// never claimed by an access point.
func (s *Service) downloaded(ctx context.Context, ids []uuid.UUID, noArchive bool, allowed func(context.Context, *models.Document) (bool, error)) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			doc, err := s.store.FindByID(ctx, id)
			if err != nil {
				if errors.Is(err, sentinel.ErrNotFound) {
					s.logger.ErrorContext(ctx, "downloaded document does not exist", "document_id", id)
					continue
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
			}
			ok, err := allowed(ctx, doc)
			if err != nil {
				return err
			}
			if !ok {
				s.logger.ErrorContext(ctx, "downloaded document belongs to another owner",
					"document_id", id,
					"owner_id", doc.OwnerID,
				)
				continue
			}
			if !doc.IsClaimed() {
				s.logger.ErrorContext(ctx, "downloaded document was never picked up", "document_id", id)
				continue
			}

			drop := noArchive || doc.IsNoArchive()
			if doc.IsNoArchive() {
				doc.DownloadCount = 0
			}
			doc.DownloadCount++
			if drop {
				doc.Payload = nil
			}
			doc.UpdatedOn = s.now()
			if err := s.store.Update(ctx, doc); err != nil {
				return translateStoreError(err, "failed to mark document downloaded")
			}
			if err := s.record(ctx, events.DocumentDownloaded, doc); err != nil {
				return err
			}
			if drop {
				if err := s.archiver.Clear(ctx, doc); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear archived document")
				}
			}
		}
		return nil
	})
	return coded(err)
}
