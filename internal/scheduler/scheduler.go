// Package scheduler moves outgoing documents through their lifecycle: it hands
// due documents to the bound access point, polls in-flight documents for their
// delivery outcome and pulls inbound documents from polling gateways.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/events"
	"peppolrelay/internal/gateway"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/tx"
)

// Failure statuses recorded on documents that can never be delivered.
const (
	StatusNotRegistered  = "Proxy error : PeppolId is not registered to send"
	StatusNotActive      = "Proxy error : Peppol Access Point not active"
	StatusNoLongerActive = "Proxy error : Peppol Access Point no longer active"
	statusErrorPrefix    = "Proxy error : "
)

// Dispatch outcomes, used as metric label values.
const (
	OutcomeClaimed    = "claimed"
	OutcomePostponed  = "postponed"
	OutcomeUnroutable = "unroutable"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
)

const (
	defaultSyncLimit      = 60
	defaultSlowDownFactor = 2
	defaultStuckAfter     = 24 * time.Hour
	backoff               = time.Hour
)

type Store interface {
	Update(ctx context.Context, doc *models.Document) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	FindDueOutgoing(ctx context.Context, now time.Time, limit int) ([]*models.Document, error)
	FindInFlightOutgoing(ctx context.Context, limit int) ([]*models.Document, error)
}

// Registry answers which access point a participant sends through.
type Registry interface {
	AccessPoint(ctx context.Context, peppolID string) (domain.AccessPoint, error)
}

// Gateways resolves the active gateway of an access point.
type Gateways interface {
	Get(ap domain.AccessPoint) (gateway.Gateway, bool)
	Receivers() []gateway.Receiver
}

type Archiver interface {
	Clear(ctx context.Context, doc *models.Document) error
	Reconcile(ctx context.Context, docs []*models.Document) (int, error)
}

type Balance interface {
	Get(ctx context.Context) (int64, error)
	Decrement(ctx context.Context) (int64, error)
}

type Outbox interface {
	Append(ctx context.Context, e events.Event) error
}

type Metrics interface {
	IncrementDispatched(outcome string)
}

type Scheduler struct {
	store          Store
	registry       Registry
	gateways       Gateways
	archiver       Archiver
	balance        Balance
	tx             tx.Runner
	outbox         Outbox
	metrics        Metrics
	syncLimit      int
	slowDownFactor int64
	stuckAfter     time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func WithOutbox(o Outbox) Option {
	return func(s *Scheduler) {
		s.outbox = o
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithSyncLimit bounds the number of in-flight documents polled per pass.
func WithSyncLimit(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.syncLimit = n
		}
	}
}

// WithSlowDownFactor divides the balance to size a dispatch batch.
func WithSlowDownFactor(n int64) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.slowDownFactor = n
		}
	}
}

func New(store Store, registry Registry, gateways Gateways, archiver Archiver, balance Balance, runner tx.Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:          store,
		registry:       registry,
		gateways:       gateways,
		archiver:       archiver,
		balance:        balance,
		tx:             runner,
		syncLimit:      defaultSyncLimit,
		slowDownFactor: defaultSlowDownFactor,
		stuckAfter:     defaultStuckAfter,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendDueOutgoing hands due documents to their access point, oldest first.
// The batch is the balance divided by the slow down factor, and at least one.
// Every document is dispatched in its own unit of work; a failing document
// never stops the others. It returns the number of documents claimed.
func (s *Scheduler) SendDueOutgoing(ctx context.Context) (int, error) {
	batch := s.batchSize(ctx)
	due, err := s.store.FindDueOutgoing(ctx, s.now(), batch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load due documents")
	}

	claimed := 0
	for _, doc := range due {
		outcome, err := s.dispatch(ctx, doc.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "dispatch failed",
				"document_id", doc.ID,
				"error", err,
			)
			outcome = OutcomeFailed
		}
		if s.metrics != nil {
			s.metrics.IncrementDispatched(outcome)
		}
		if outcome == OutcomeClaimed {
			claimed++
		}
	}
	return claimed, nil
}

func (s *Scheduler) batchSize(ctx context.Context) int {
	balance, err := s.balance.Get(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read balance, dispatching one document", "error", err)
		return 1
	}
	return int(max(balance/s.slowDownFactor, 1))
}

// dispatch claims one document. The row is re-read inside the unit of work so
// a document claimed by an overlapping tick is skipped. When the unit of work
// cannot commit, the document is set aside so it does not hold the head of
// the queue.
func (s *Scheduler) dispatch(ctx context.Context, id uuid.UUID) (string, error) {
	var (
		outcome string
		ap      domain.AccessPoint
		settle  string
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := s.store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if doc.IsClaimed() || doc.IsProcessed() || (doc.ScheduledOn != nil && doc.ScheduledOn.After(now)) {
			outcome = OutcomeSkipped
			return nil
		}

		ap, err = s.registry.AccessPoint(ctx, doc.OwnerID)
		if err != nil {
			return err
		}
		if ap.IsNone() {
			outcome, settle = OutcomeUnroutable, StatusNotRegistered
			return s.fail(ctx, doc, domain.AccessPointNone, settle)
		}
		if _, ok := s.gateways.Get(ap); !ok {
			outcome, settle = OutcomeUnroutable, StatusNotActive
			return s.fail(ctx, doc, ap, settle)
		}
		if doc.OwnerID == doc.PartnerID {
			ap = domain.AccessPointLoopback
		}
		gw, ok := s.gateways.Get(ap)
		if !ok {
			outcome, settle = OutcomeUnroutable, StatusNotActive
			return s.fail(ctx, doc, ap, settle)
		}

		trackingID, err := gw.SendDocument(ctx, doc)
		if err != nil {
			s.logger.ErrorContext(ctx, "access point rejected document",
				"document_id", doc.ID,
				"access_point", ap,
				"error", err,
			)
			outcome, settle = OutcomeFailed, statusErrorPrefix+gatewayMessage(err)
			return s.fail(ctx, doc, ap, settle)
		}
		if trackingID == "" {
			outcome = OutcomePostponed
			return s.postpone(ctx, doc)
		}
		// From here on the network holds the document; it must never be
		// sent again.
		settle = statusErrorPrefix + "sent with tracking id " + trackingID + " but not recorded"
		outcome = OutcomeClaimed
		return s.claim(ctx, doc, ap, trackingID)
	})
	if err != nil {
		s.setAside(ctx, id, ap, settle, err)
		return OutcomeFailed, err
	}
	if outcome == OutcomeClaimed {
		if _, err := s.balance.Decrement(ctx); err != nil {
			s.logger.WarnContext(ctx, "failed to decrement balance", "error", err)
		}
	}
	return outcome, nil
}

// setAside records, in a fresh unit of work, what is left of a dispatch that
// could not commit. With a settled status the document is closed as failed;
// without one nothing reached the network and it is retried an hour from now.
// Only the row update is required to succeed.
func (s *Scheduler) setAside(ctx context.Context, id uuid.UUID, ap domain.AccessPoint, status string, cause error) {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := s.store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if doc.IsClaimed() || doc.IsProcessed() {
			return nil
		}
		now := s.now()
		event := events.DocumentPostponed
		if status == "" {
			next := now.Add(backoff)
			doc.ScheduledOn = &next
		} else {
			event = events.DocumentDelivered
			doc.Claim(ap, nil, now)
			doc.Deliver(&status, now)
			if doc.IsNoArchive() {
				doc.ClearPayload()
				if err := s.archiver.Clear(ctx, doc); err != nil {
					s.logger.WarnContext(ctx, "failed to clear archive", "document_id", doc.ID, "error", err)
				}
			}
		}
		doc.UpdatedOn = now
		if err := s.store.Update(ctx, doc); err != nil {
			return err
		}
		if err := tx.Savepoint(ctx, func(ctx context.Context) error {
			return s.record(ctx, event, doc)
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to record event", "document_id", doc.ID, "error", err)
		}
		s.logger.WarnContext(ctx, "document set aside",
			"document_id", doc.ID,
			"access_point", ap,
			"status", status,
			"cause", cause,
		)
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to set document aside",
			"document_id", id,
			"cause", cause,
			"error", err,
		)
	}
}

// postpone keeps the document unclaimed and retries it an hour later.
func (s *Scheduler) postpone(ctx context.Context, doc *models.Document) error {
	base := s.now()
	if doc.ScheduledOn != nil {
		base = *doc.ScheduledOn
	}
	next := base.Add(backoff)
	doc.ScheduledOn = &next
	doc.UpdatedOn = s.now()
	if err := s.store.Update(ctx, doc); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "document postponed",
		"document_id", doc.ID,
		"scheduled_on", next,
	)
	return s.record(ctx, events.DocumentPostponed, doc)
}

// claim binds the document to its gateway. A no-archive payload leaves the
// relay at this point.
func (s *Scheduler) claim(ctx context.Context, doc *models.Document, ap domain.AccessPoint, trackingID string) error {
	now := s.now()
	doc.Claim(ap, &trackingID, now)
	if err := s.dropNoArchive(ctx, doc); err != nil {
		return err
	}
	if err := s.store.Update(ctx, doc); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "document claimed",
		"document_id", doc.ID,
		"access_point", ap,
		"tracking_id", trackingID,
	)
	return s.record(ctx, events.DocumentClaimed, doc)
}

// fail binds the document without tracking id and records a terminal failure.
func (s *Scheduler) fail(ctx context.Context, doc *models.Document, ap domain.AccessPoint, status string) error {
	now := s.now()
	doc.Claim(ap, nil, now)
	doc.Deliver(&status, now)
	if err := s.dropNoArchive(ctx, doc); err != nil {
		return err
	}
	if err := s.store.Update(ctx, doc); err != nil {
		return err
	}
	s.logger.WarnContext(ctx, "document cannot be delivered",
		"document_id", doc.ID,
		"owner_id", doc.OwnerID,
		"access_point", ap,
		"status", status,
	)
	return s.record(ctx, events.DocumentDelivered, doc)
}

func (s *Scheduler) dropNoArchive(ctx context.Context, doc *models.Document) error {
	if !doc.IsNoArchive() {
		return nil
	}
	doc.ClearPayload()
	return s.archiver.Clear(ctx, doc)
}

// SynchronizeOutgoing polls the outcome of claimed documents, least recently
// updated first. Unknown outcomes and status errors leave the document as is.
// It returns the number of documents that reached a final state.
func (s *Scheduler) SynchronizeOutgoing(ctx context.Context) (int, error) {
	inFlight, err := s.store.FindInFlightOutgoing(ctx, s.syncLimit)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load in-flight documents")
	}
	if len(inFlight) == 0 {
		return 0, nil
	}
	if restored, err := s.archiver.Reconcile(ctx, inFlight); err != nil {
		s.logger.ErrorContext(ctx, "backup reconciliation failed", "repaired", restored, "error", err)
	} else if restored > 0 {
		s.logger.WarnContext(ctx, "repaired backup files", "repaired", restored)
	}

	delivered := 0
	for _, doc := range inFlight {
		done, err := s.synchronize(ctx, doc.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "synchronize failed",
				"document_id", doc.ID,
				"error", err,
			)
			continue
		}
		if done {
			delivered++
		}
	}
	return delivered, nil
}

func (s *Scheduler) synchronize(ctx context.Context, id uuid.UUID) (bool, error) {
	var done bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := s.store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if doc.IsProcessed() || !doc.IsClaimed() || doc.GatewayID().IsNone() {
			return nil
		}
		now := s.now()
		if now.Sub(doc.UpdatedOn) > s.stuckAfter {
			s.logger.WarnContext(ctx, "document has been in flight for too long",
				"document_id", doc.ID,
				"access_point", doc.GatewayID(),
				"updated_on", doc.UpdatedOn,
			)
		}

		gw, ok := s.gateways.Get(doc.GatewayID())
		if !ok {
			done = true
			return s.deliver(ctx, doc, models.Ptr(StatusNoLongerActive))
		}
		report, err := gw.GetStatus(ctx, doc)
		if err != nil {
			s.logger.WarnContext(ctx, "status unavailable",
				"document_id", doc.ID,
				"access_point", doc.GatewayID(),
				"error", err,
			)
			return nil
		}
		if report == nil {
			return nil
		}
		done = true
		if report.Success {
			return s.deliver(ctx, doc, nil)
		}
		return s.deliver(ctx, doc, models.Ptr(report.Message))
	})
	return done, err
}

func (s *Scheduler) deliver(ctx context.Context, doc *models.Document, status *string) error {
	doc.Deliver(status, s.now())
	if err := s.dropNoArchive(ctx, doc); err != nil {
		return err
	}
	if err := s.store.Update(ctx, doc); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "document delivered",
		"document_id", doc.ID,
		"access_point", doc.GatewayID(),
		"success", status == nil,
	)
	return s.record(ctx, events.DocumentDelivered, doc)
}

// ReceiveIncoming pulls inbound documents from every polling gateway. One
// gateway failing does not stop the others.
func (s *Scheduler) ReceiveIncoming(ctx context.Context) error {
	var errs []error
	for _, r := range s.gateways.Receivers() {
		if err := r.ReceiveDocuments(ctx); err != nil {
			s.logger.ErrorContext(ctx, "receiving documents failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) record(ctx context.Context, t events.Type, doc *models.Document) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Append(ctx, events.New(t, doc, s.now()))
}

func gatewayMessage(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return err.Error()
}
