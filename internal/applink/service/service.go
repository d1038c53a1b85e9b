package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"peppolrelay/internal/applink/models"
	dErrors "peppolrelay/pkg/domain-errors"
)

type Store interface {
	Save(ctx context.Context, link models.Link) error
	Delete(ctx context.Context, peppolID string, uid uuid.UUID) error
	Exists(ctx context.Context, peppolID string, uid uuid.UUID) (bool, error)
	FindPeppolIDs(ctx context.Context, uid uuid.UUID) ([]string, error)
}

// Service manages which applications may act on behalf of a participant.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add links uid to peppolID. Linking twice is a no-op.
func (s *Service) Add(ctx context.Context, peppolID string, uid uuid.UUID) error {
	if err := validate(peppolID, uid); err != nil {
		return err
	}
	link := models.Link{PeppolID: strings.TrimSpace(peppolID), LinkedUID: uid, CreatedOn: s.now()}
	if err := s.store.Save(ctx, link); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save app link")
	}
	s.logger.InfoContext(ctx, "app linked",
		"peppol_id", link.PeppolID,
		"app_uid", uid,
	)
	return nil
}

// Remove deletes the link if present.
func (s *Service) Remove(ctx context.Context, peppolID string, uid uuid.UUID) error {
	if err := validate(peppolID, uid); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, strings.TrimSpace(peppolID), uid); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete app link")
	}
	s.logger.InfoContext(ctx, "app unlinked",
		"peppol_id", peppolID,
		"app_uid", uid,
	)
	return nil
}

// LinkedParticipants lists the participants uid may read for.
func (s *Service) LinkedParticipants(ctx context.Context, uid uuid.UUID) ([]string, error) {
	ids, err := s.store.FindPeppolIDs(ctx, uid)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load app links")
	}
	return ids, nil
}

func (s *Service) IsLinked(ctx context.Context, peppolID string, uid uuid.UUID) (bool, error) {
	ok, err := s.store.Exists(ctx, peppolID, uid)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check app link")
	}
	return ok, nil
}

func validate(peppolID string, uid uuid.UUID) error {
	if strings.TrimSpace(peppolID) == "" {
		return dErrors.New(dErrors.CodeValidation, "peppol id is required")
	}
	if uid == uuid.Nil {
		return dErrors.New(dErrors.CodeValidation, "app uid is required")
	}
	return nil
}
