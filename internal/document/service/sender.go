package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/events"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/sentinel"
)

// Create stores a new outgoing document and archives its payload. The id may
// be supplied by the caller; a known id or an already sent payload is a
// conflict.
func (s *Service) Create(ctx context.Context, req models.SendRequest, noArchive bool) (*models.Document, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash := domain.Fingerprint(req.Payload)
	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var doc *models.Document
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.store.FindByID(ctx, id)
		switch {
		case err == nil:
			return dErrors.New(dErrors.CodeConflict,
				"document "+id.String()+" is already created, please use the update call")
		case !errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
		}
		if err := s.checkFingerprint(ctx, hash, uuid.Nil); err != nil {
			return err
		}
		scheduled, err := s.calculateSchedule(ctx, req.OwnerID, req.PartnerID, req.ScheduledOn)
		if err != nil {
			return err
		}

		now := s.now()
		doc = &models.Document{
			ID:          id,
			Direction:   domain.DirectionOutgoing,
			Kind:        req.Kind,
			OwnerID:     req.OwnerID,
			PartnerID:   req.PartnerID,
			CreatedOn:   now,
			ScheduledOn: &scheduled,
			Payload:     models.Ptr(req.Payload),
			Hash:        hash,
			UpdatedOn:   now,
		}
		if noArchive {
			doc.DownloadCount = models.NoArchiveDownloadCount
		}
		if err := s.store.Create(ctx, doc); err != nil {
			return translateStoreError(err, "failed to save document")
		}
		if err := s.record(ctx, events.DocumentCreated, doc); err != nil {
			return err
		}
		if err := s.archiver.Write(ctx, doc); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to archive document")
		}
		return nil
	})
	if err != nil {
		return nil, coded(err)
	}
	s.logger.InfoContext(ctx, "document queued",
		"document_id", doc.ID,
		"owner_id", doc.OwnerID,
		"scheduled_on", doc.ScheduledOn,
		"no_archive", noArchive,
	)
	return doc, nil
}

// Update replaces the payload and addressing of a document that has not been
// picked up yet.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req models.SendRequest, noArchive bool) (*models.Document, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash := domain.Fingerprint(req.Payload)

	var doc *models.Document
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.loadUnclaimed(ctx, id, req.OwnerID)
		if err != nil {
			return err
		}
		if err := s.checkFingerprint(ctx, hash, id); err != nil {
			return err
		}
		scheduled, err := s.calculateSchedule(ctx, req.OwnerID, req.PartnerID, req.ScheduledOn)
		if err != nil {
			return err
		}

		doc.Kind = req.Kind
		doc.PartnerID = req.PartnerID
		doc.ScheduledOn = &scheduled
		doc.Payload = models.Ptr(req.Payload)
		doc.Hash = hash
		if noArchive {
			doc.DownloadCount = models.NoArchiveDownloadCount
		} else if doc.IsNoArchive() {
			doc.DownloadCount = 0
		}
		doc.UpdatedOn = s.now()
		if err := s.store.Update(ctx, doc); err != nil {
			return translateStoreError(err, "failed to update document")
		}
		if err := s.record(ctx, events.DocumentUpdated, doc); err != nil {
			return err
		}
		if err := s.archiver.Write(ctx, doc); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to archive document")
		}
		return nil
	})
	if err != nil {
		return nil, coded(err)
	}
	s.logger.InfoContext(ctx, "document updated", "document_id", id, "owner_id", doc.OwnerID)
	return doc, nil
}

// Reschedule moves the due time of an unclaimed document. Nothing is written
// when the computed time equals the stored one.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, ownerID string, scheduledOn *time.Time) (*models.Document, error) {
	var (
		doc     *models.Document
		changed bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.loadUnclaimed(ctx, id, ownerID)
		if err != nil {
			return err
		}
		scheduled, err := s.calculateSchedule(ctx, doc.OwnerID, doc.PartnerID, scheduledOn)
		if err != nil {
			return err
		}
		if doc.ScheduledOn != nil && doc.ScheduledOn.Equal(scheduled) {
			return nil
		}
		changed = true
		doc.ScheduledOn = &scheduled
		doc.UpdatedOn = s.now()
		if err := s.store.Update(ctx, doc); err != nil {
			return translateStoreError(err, "failed to reschedule document")
		}
		return s.record(ctx, events.DocumentRescheduled, doc)
	})
	if err != nil {
		return nil, coded(err)
	}
	if changed {
		if s.metrics != nil {
			s.metrics.IncrementRescheduled()
		}
		s.logger.InfoContext(ctx, "document rescheduled",
			"document_id", id,
			"scheduled_on", doc.ScheduledOn,
		)
	}
	return doc, nil
}

// Cancel binds an unclaimed document to NONE so it is never dispatched. The
// payload is dropped when no-archive is requested or was requested on create.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, ownerID string, noArchive bool) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := s.loadUnclaimed(ctx, id, ownerID)
		if err != nil {
			return err
		}
		doc.Gateway = models.Ptr(domain.AccessPointNone)
		drop := noArchive || doc.IsNoArchive()
		if drop {
			doc.ClearPayload()
		}
		doc.UpdatedOn = s.now()
		if err := s.store.Update(ctx, doc); err != nil {
			return translateStoreError(err, "failed to cancel document")
		}
		if err := s.record(ctx, events.DocumentCancelled, doc); err != nil {
			return err
		}
		if drop {
			if err := s.archiver.Clear(ctx, doc); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear archived document")
			}
		}
		return nil
	})
	if err != nil {
		return coded(err)
	}
	s.logger.InfoContext(ctx, "document cancelled", "document_id", id, "owner_id", ownerID)
	return nil
}

func (s *Service) loadUnclaimed(ctx context.Context, id uuid.UUID, ownerID string) (*models.Document, error) {
	doc, err := s.load(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if doc.Direction != domain.DirectionOutgoing {
		return nil, dErrors.New(dErrors.CodeBadRequest, "document "+id.String()+" is not an outgoing document")
	}
	if doc.IsClaimed() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "document "+id.String()+" is already picked up by AP")
	}
	return doc, nil
}

func (s *Service) checkFingerprint(ctx context.Context, hash string, excludeID uuid.UUID) error {
	exists, err := s.store.ExistsByHash(ctx, domain.DirectionOutgoing, hash, excludeID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check document fingerprint")
	}
	if exists {
		return dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("document seems to be sent already, fingerprint %s is not unique", hash))
	}
	return nil
}
