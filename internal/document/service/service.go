// Package service holds the outbound sender and the inbound receiver of
// relayed documents.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/events"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/sentinel"
	"peppolrelay/pkg/platform/tx"
)

const (
	defaultPageSize = 100
	scheduleZone    = "Europe/Brussels"
)

type Store interface {
	Create(ctx context.Context, doc *models.Document) error
	Update(ctx context.Context, doc *models.Document) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID, ownerID string) ([]*models.Document, error)
	ExistsByHash(ctx context.Context, direction domain.Direction, hash string, excludeID uuid.UUID) (bool, error)
	ExistsByTrackingID(ctx context.Context, trackingID string) (bool, error)
	FindNewIncoming(ctx context.Context, ownerIDs []string, limit int, newestFirst bool) ([]*models.Document, error)
	CountPendingScheduled(ctx context.Context, ownerID, partnerID string, from, to time.Time) (int, error)
}

type Archiver interface {
	Write(ctx context.Context, doc *models.Document) error
	Clear(ctx context.Context, doc *models.Document) error
}

type Balance interface {
	IsPositive(ctx context.Context) (bool, error)
	Decrement(ctx context.Context) (int64, error)
}

// Outbox receives lifecycle events inside the unit of work of the change.
type Outbox interface {
	Append(ctx context.Context, e events.Event) error
}

// Links resolves the participants an application may act for.
type Links interface {
	LinkedParticipants(ctx context.Context, uid uuid.UUID) ([]string, error)
	IsLinked(ctx context.Context, peppolID string, uid uuid.UUID) (bool, error)
}

type Metrics interface {
	IncrementReceived()
	IncrementRescheduled()
}

type Service struct {
	store    Store
	archiver Archiver
	balance  Balance
	tx       tx.Runner
	outbox   Outbox
	links    Links
	metrics  Metrics
	loc      *time.Location
	throttle bool
	now      func() time.Time
	logger   *slog.Logger
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

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithOutbox(o Outbox) Option {
	return func(s *Service) {
		s.outbox = o
	}
}

func WithLinks(l Links) Option {
	return func(s *Service) {
		s.links = l
	}
}

// WithThrottle spreads documents over calendar days while the balance is
// exhausted. Without it a document is due at the requested time or now.
func WithThrottle(enabled bool) Option {
	return func(s *Service) {
		s.throttle = enabled
	}
}

// WithLocation sets the zone whose calendar days bound the send throttle.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(store Store, archiver Archiver, balance Balance, runner tx.Runner, opts ...Option) *Service {
	loc, err := time.LoadLocation(scheduleZone)
	if err != nil {
		loc = time.UTC
	}
	s := &Service{
		store:    store,
		archiver: archiver,
		balance:  balance,
		tx:       runner,
		loc:      loc,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindByID returns a document owned by ownerID.
func (s *Service) FindByID(ctx context.Context, id uuid.UUID, ownerID string) (*models.Document, error) {
	doc, err := s.load(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FindByIDs returns the documents among ids owned by ownerID. Unknown ids are
// left out.
func (s *Service) FindByIDs(ctx context.Context, ids []uuid.UUID, ownerID string) ([]*models.Document, error) {
	if len(ids) == 0 {
		return []*models.Document{}, nil
	}
	docs, err := s.store.FindByIDs(ctx, ids, ownerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load documents")
	}
	return docs, nil
}

// load fetches a document and hides documents of other owners as not found.
func (s *Service) load(ctx context.Context, id uuid.UUID, ownerID string) (*models.Document, error) {
	doc, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
	}
	if doc.OwnerID != ownerID {
		return nil, notFound(id)
	}
	return doc, nil
}

func (s *Service) record(ctx context.Context, t events.Type, doc *models.Document) error {
	if s.outbox == nil {
		return nil
	}
	if err := s.outbox.Append(ctx, events.New(t, doc, s.now())); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record document event")
	}
	return nil
}

func (s *Service) decrementBalance(ctx context.Context) {
	if s.balance == nil {
		return
	}
	if _, err := s.balance.Decrement(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to decrement balance", "error", err)
	}
}

func notFound(id uuid.UUID) error {
	return dErrors.New(dErrors.CodeNotFound, "document "+id.String()+" does not exist")
}

// translateStoreError maps a store write failure to a client facing error.
func translateStoreError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, msg+": document is not unique")
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg+": document does not exist")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

// coded leaves domain errors alone and marks everything else internal.
func coded(err error) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "unit of work failed")
}
