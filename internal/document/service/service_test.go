package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	applinkservice "peppolrelay/internal/applink/service"
	applinkstore "peppolrelay/internal/applink/store"
	"peppolrelay/internal/backup"
	"peppolrelay/internal/balance"
	"peppolrelay/internal/document/models"
	"peppolrelay/internal/document/store"
	"peppolrelay/internal/events"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/tx"
)

const (
	owner   = "0208:0123456789"
	partner = "0208:0987654321"
)

type countingMetrics struct {
	received    int
	rescheduled int
}

func (m *countingMetrics) IncrementReceived()    { m.received++ }
func (m *countingMetrics) IncrementRescheduled() { m.rescheduled++ }

type failingArchiver struct{}

func (failingArchiver) Write(context.Context, *models.Document) error {
	return errors.New("disk full")
}

func (failingArchiver) Clear(context.Context, *models.Document) error {
	return errors.New("disk full")
}

type DocumentServiceSuite struct {
	suite.Suite
	store    *store.InMemoryStore
	archiver *backup.Archiver
	balance  *balance.Service
	outbox   *events.InMemoryOutbox
	links    *applinkservice.Service
	metrics  *countingMetrics
	service  *Service
	now      time.Time
	brussels *time.Location
}

func TestDocumentServiceSuite(t *testing.T) {
	suite.Run(t, new(DocumentServiceSuite))
}

func (s *DocumentServiceSuite) SetupTest() {
	var err error
	s.brussels, err = time.LoadLocation("Europe/Brussels")
	s.Require().NoError(err)

	s.now = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	s.store = store.NewInMemory()
	s.archiver, err = backup.New(s.T().TempDir(), "peppol-relay")
	s.Require().NoError(err)
	s.balance = balance.New(balance.NewAtomicCounter())
	s.outbox = events.NewInMemoryOutbox()
	s.links = applinkservice.New(applinkstore.NewInMemory())
	s.metrics = &countingMetrics{}
	s.service = s.newService(s.archiver)
}

func (s *DocumentServiceSuite) newService(archiver Archiver, opts ...Option) *Service {
	opts = append([]Option{
		WithClock(func() time.Time { return s.now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithOutbox(s.outbox),
		WithLinks(s.links),
		WithMetrics(s.metrics),
	}, opts...)
	return New(s.store, archiver, s.balance, tx.NewLockRunner(0), opts...)
}

func (s *DocumentServiceSuite) fund(n int64) {
	_, err := s.balance.IncrementBy(context.Background(), n)
	s.Require().NoError(err)
}

func (s *DocumentServiceSuite) request(payload string) models.SendRequest {
	return models.SendRequest{
		Kind:      domain.DocumentKindInvoice,
		OwnerID:   owner,
		PartnerID: partner,
		Payload:   payload,
	}
}

func (s *DocumentServiceSuite) eventTypes() []events.Type {
	records, err := s.outbox.Pending(context.Background(), 100)
	s.Require().NoError(err)
	types := make([]events.Type, 0, len(records))
	for _, r := range records {
		types = append(types, r.Type)
	}
	return types
}

func (s *DocumentServiceSuite) claim(id uuid.UUID, ap domain.AccessPoint) {
	doc, err := s.store.FindByID(context.Background(), id)
	s.Require().NoError(err)
	doc.Claim(ap, models.Ptr("T-"+id.String()), s.now)
	s.Require().NoError(s.store.Update(context.Background(), doc))
}

func (s *DocumentServiceSuite) dayStart(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, s.brussels)
}

func (s *DocumentServiceSuite) TestCreateIsDueImmediatelyWithPositiveBalance() {
	s.fund(10)
	doc, err := s.service.Create(context.Background(), s.request("<Invoice>A</Invoice>"), false)
	s.Require().NoError(err)

	s.Equal(domain.DirectionOutgoing, doc.Direction)
	s.Equal(domain.Fingerprint("<Invoice>A</Invoice>"), doc.Hash)
	s.Require().NotNil(doc.ScheduledOn)
	s.True(doc.ScheduledOn.Equal(s.now))
	s.Zero(doc.DownloadCount)
	s.Nil(doc.Gateway)
	s.Nil(doc.TrackingID)

	archived, err := s.archiver.Read(doc)
	s.Require().NoError(err)
	s.Equal("<Invoice>A</Invoice>", archived)
	s.Equal([]events.Type{events.DocumentCreated}, s.eventTypes())
}

func (s *DocumentServiceSuite) TestCreateKeepsCallerID() {
	s.fund(1)
	req := s.request("A")
	req.ID = uuid.New()

	doc, err := s.service.Create(context.Background(), req, true)
	s.Require().NoError(err)
	s.Equal(req.ID, doc.ID)
	s.Equal(models.NoArchiveDownloadCount, doc.DownloadCount)
	s.Require().NotNil(doc.Payload)

	req.Payload = "B"
	_, err = s.service.Create(context.Background(), req, false)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *DocumentServiceSuite) TestCreateRejectsDuplicatePayload() {
	s.fund(1)
	first := s.request("same")
	first.ID = uuid.New()
	second := s.request("same")
	second.ID = uuid.New()

	_, err := s.service.Create(context.Background(), first, false)
	s.Require().NoError(err)
	_, err = s.service.Create(context.Background(), second, false)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *DocumentServiceSuite) TestCreateFailsWhenArchiveFails() {
	s.fund(1)
	svc := s.newService(failingArchiver{})
	_, err := svc.Create(context.Background(), s.request("A"), false)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *DocumentServiceSuite) TestCreateRejectsInvalidRequest() {
	req := s.request("")
	_, err := s.service.Create(context.Background(), req, false)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *DocumentServiceSuite) TestCreateHonoursRequestedTimeWithoutBalance() {
	ctx := context.Background()
	doc, err := s.service.Create(ctx, s.request("A"), false)
	s.Require().NoError(err)
	s.True(doc.ScheduledOn.Equal(s.now), "due now")

	later := s.now.Add(5 * time.Hour)
	req := s.request("B")
	req.ScheduledOn = &later
	doc, err = s.service.Create(ctx, req, false)
	s.Require().NoError(err)
	s.True(doc.ScheduledOn.Equal(later))
}

func (s *DocumentServiceSuite) TestScheduleThrottlesWithoutBalance() {
	ctx := context.Background()
	throttled := s.newService(s.archiver, WithThrottle(true))
	create := func(partnerID, payload string) time.Time {
		req := s.request(payload)
		req.PartnerID = partnerID
		doc, err := throttled.Create(ctx, req, false)
		s.Require().NoError(err)
		return *doc.ScheduledOn
	}

	tomorrow := s.dayStart(2026, 3, 11)
	dayAfter := s.dayStart(2026, 3, 12)

	s.True(create("p1", "1").Equal(tomorrow))
	s.True(create("p1", "2").Equal(tomorrow))
	s.True(create("p1", "3").Equal(dayAfter), "two per partner per day")
	s.True(create("p2", "4").Equal(tomorrow))
	s.True(create("p2", "5").Equal(tomorrow))
	s.True(create("p3", "6").Equal(dayAfter), "four per owner per day")
}

func (s *DocumentServiceSuite) TestScheduleKeepsRequestedFutureDay() {
	requested := time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)
	got, err := s.newService(s.archiver, WithThrottle(true)).calculateSchedule(context.Background(), owner, partner, &requested)
	s.Require().NoError(err)
	s.True(got.Equal(s.dayStart(2026, 3, 20)))
}

func (s *DocumentServiceSuite) TestScheduleWithBalanceButLaterRequest() {
	s.fund(5)
	throttled := s.newService(s.archiver, WithThrottle(true))
	requested := s.now.Add(3 * time.Hour)
	got, err := throttled.calculateSchedule(context.Background(), owner, partner, &requested)
	s.Require().NoError(err)
	s.True(got.Equal(s.dayStart(2026, 3, 11)))

	soon := s.now.Add(30 * time.Minute)
	got, err = throttled.calculateSchedule(context.Background(), owner, partner, &soon)
	s.Require().NoError(err)
	s.True(got.Equal(s.now))
}

func (s *DocumentServiceSuite) TestUpdate() {
	s.fund(1)
	ctx := context.Background()
	doc, err := s.service.Create(ctx, s.request("A"), true)
	s.Require().NoError(err)
	other, err := s.service.Create(ctx, s.request("B"), false)
	s.Require().NoError(err)

	s.Run("rewrites payload and archive", func() {
		updated, err := s.service.Update(ctx, doc.ID, s.request("A2"), false)
		s.Require().NoError(err)
		s.Equal("A2", updated.PayloadText())
		s.Equal(domain.Fingerprint("A2"), updated.Hash)
		s.Zero(updated.DownloadCount)

		archived, err := s.archiver.Read(updated)
		s.Require().NoError(err)
		s.Equal("A2", archived)
	})

	s.Run("same payload is not a duplicate of itself", func() {
		_, err := s.service.Update(ctx, doc.ID, s.request("A2"), false)
		s.Require().NoError(err)
	})

	s.Run("payload of another document is a duplicate", func() {
		_, err := s.service.Update(ctx, doc.ID, s.request("B"), false)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("claimed document is rejected", func() {
		s.claim(other.ID, domain.AccessPointScrada)
		_, err := s.service.Update(ctx, other.ID, s.request("B2"), false)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("foreign owner does not see the document", func() {
		req := s.request("C")
		req.OwnerID = partner
		_, err := s.service.Update(ctx, doc.ID, req, false)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *DocumentServiceSuite) TestReschedule() {
	ctx := context.Background()
	s.fund(1)
	doc, err := s.service.Create(ctx, s.request("A"), false)
	s.Require().NoError(err)

	later := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	moved, err := s.service.Reschedule(ctx, doc.ID, owner, &later)
	s.Require().NoError(err)
	s.True(moved.ScheduledOn.Equal(later))
	s.Equal(1, s.metrics.rescheduled)

	_, err = s.service.Reschedule(ctx, doc.ID, owner, &later)
	s.Require().NoError(err)
	s.Equal(1, s.metrics.rescheduled, "unchanged schedule is not counted")
	s.Equal([]events.Type{events.DocumentCreated, events.DocumentRescheduled}, s.eventTypes())

	_, err = s.service.Reschedule(ctx, doc.ID, partner, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	s.claim(doc.ID, domain.AccessPointScrada)
	_, err = s.service.Reschedule(ctx, doc.ID, owner, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	stored, err := s.store.FindByID(ctx, doc.ID)
	s.Require().NoError(err)
	s.True(stored.ScheduledOn.Equal(later), "claimed document keeps its schedule")
}

func (s *DocumentServiceSuite) TestCancel() {
	ctx := context.Background()
	s.fund(1)

	s.Run("keeps payload by default", func() {
		doc, err := s.service.Create(ctx, s.request("keep"), false)
		s.Require().NoError(err)
		s.Require().NoError(s.service.Cancel(ctx, doc.ID, owner, false))

		stored, err := s.store.FindByID(ctx, doc.ID)
		s.Require().NoError(err)
		s.Equal(domain.AccessPointNone, stored.GatewayID())
		s.Equal("keep", stored.PayloadText())
		s.Nil(stored.ProcessedOn)
	})

	s.Run("drops payload of a no-archive document", func() {
		doc, err := s.service.Create(ctx, s.request("drop"), true)
		s.Require().NoError(err)
		s.Require().NoError(s.service.Cancel(ctx, doc.ID, owner, false))

		stored, err := s.store.FindByID(ctx, doc.ID)
		s.Require().NoError(err)
		s.Nil(stored.Payload)
		s.Zero(stored.DownloadCount)
		archived, err := s.archiver.Read(stored)
		s.Require().NoError(err)
		s.Equal(backup.NoArchiveContent, archived)
	})

	s.Run("cannot cancel twice", func() {
		doc, err := s.service.Create(ctx, s.request("twice"), false)
		s.Require().NoError(err)
		s.Require().NoError(s.service.Cancel(ctx, doc.ID, owner, false))
		err = s.service.Cancel(ctx, doc.ID, owner, false)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown document", func() {
		err := s.service.Cancel(ctx, uuid.New(), owner, false)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *DocumentServiceSuite) TestFindByID() {
	s.fund(1)
	doc, err := s.service.Create(context.Background(), s.request("A"), false)
	s.Require().NoError(err)

	found, err := s.service.FindByID(context.Background(), doc.ID, owner)
	s.Require().NoError(err)
	s.Equal(doc.ID, found.ID)

	_, err = s.service.FindByID(context.Background(), doc.ID, partner)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	docs, err := s.service.FindByIDs(context.Background(), []uuid.UUID{doc.ID, uuid.New()}, owner)
	s.Require().NoError(err)
	s.Len(docs, 1)
}
