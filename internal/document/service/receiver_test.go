package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"peppolrelay/internal/backup"
	"peppolrelay/internal/document/models"
	"peppolrelay/internal/events"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
)

func (s *DocumentServiceSuite) received(payload, trackingID string) models.ReceivedDocument {
	return models.ReceivedDocument{
		Kind:       domain.DocumentKindInvoice,
		SenderID:   partner,
		ReceiverID: owner,
		Payload:    payload,
		Gateway:    domain.AccessPointScrada,
		TrackingID: trackingID,
	}
}

func (s *DocumentServiceSuite) TestCreateAsReceived() {
	ctx := context.Background()
	s.fund(3)
	confirmed := 0
	confirm := func(context.Context) error {
		confirmed++
		return nil
	}

	doc, err := s.service.CreateAsReceived(ctx, s.received("<Invoice>in</Invoice>", "scrada-1"), confirm)
	s.Require().NoError(err)
	s.Equal(domain.DirectionIncoming, doc.Direction)
	s.Equal(owner, doc.OwnerID)
	s.Equal(partner, doc.PartnerID)
	s.Require().NotNil(doc.ProcessedOn)
	s.Equal(domain.AccessPointScrada, doc.GatewayID())
	s.Equal("scrada-1", *doc.TrackingID)
	s.Equal(1, confirmed)
	s.Equal(1, s.metrics.received)

	remaining, err := s.balance.Get(ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), remaining)

	archived, err := s.archiver.Read(doc)
	s.Require().NoError(err)
	s.Equal("<Invoice>in</Invoice>", archived)

	s.Run("replayed tracking id", func() {
		_, err := s.service.CreateAsReceived(ctx, s.received("<Invoice>other</Invoice>", "scrada-1"), confirm)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(2, confirmed, "duplicates are confirmed too")
	})

	s.Run("same content under a new tracking id", func() {
		_, err := s.service.CreateAsReceived(ctx, s.received("<Invoice>in</Invoice>", "scrada-2"), confirm)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	docs, err := s.service.FindAllNew(ctx, owner, 0)
	s.Require().NoError(err)
	s.Len(docs, 1, "replays never create a second record")
	s.Equal(1, s.metrics.received)
	s.Equal([]events.Type{events.DocumentReceived}, s.eventTypes())
}

func (s *DocumentServiceSuite) TestCreateAsReceivedCallbackFailureIsNotFatal() {
	doc, err := s.service.CreateAsReceived(context.Background(), s.received("x", "t-1"), func(context.Context) error {
		return errors.New("confirm failed")
	})
	s.Require().NoError(err)
	s.NotNil(doc)
}

func (s *DocumentServiceSuite) TestCreateAsReceivedSkipsCallbackWhenStoreFails() {
	called := false
	svc := s.newService(failingArchiver{})
	_, err := svc.CreateAsReceived(context.Background(), s.received("x", "t-1"), func(context.Context) error {
		called = true
		return nil
	})
	s.Require().Error(err)
	s.False(called)
}

func (s *DocumentServiceSuite) TestCreateAsReceivedValidates() {
	in := s.received("x", "")
	_, err := s.service.CreateAsReceived(context.Background(), in, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *DocumentServiceSuite) TestDownloaded() {
	ctx := context.Background()
	first, err := s.service.CreateAsReceived(ctx, s.received("one", "t-1"), nil)
	s.Require().NoError(err)
	second, err := s.service.CreateAsReceived(ctx, s.received("two", "t-2"), nil)
	s.Require().NoError(err)

	s.fund(1)
	unclaimed, err := s.service.Create(ctx, s.request("out"), false)
	s.Require().NoError(err)

	err = s.service.Downloaded(ctx, []uuid.UUID{first.ID, uuid.New(), unclaimed.ID}, owner, false)
	s.Require().NoError(err)

	stored, err := s.store.FindByID(ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(1, stored.DownloadCount)
	s.Equal("one", stored.PayloadText())

	stored, err = s.store.FindByID(ctx, unclaimed.ID)
	s.Require().NoError(err)
	s.Zero(stored.DownloadCount, "unclaimed documents are skipped")

	s.Require().NoError(s.service.Downloaded(ctx, []uuid.UUID{second.ID}, partner, true))
	stored, err = s.store.FindByID(ctx, second.ID)
	s.Require().NoError(err)
	s.Zero(stored.DownloadCount, "foreign owner is skipped")

	s.Require().NoError(s.service.Downloaded(ctx, []uuid.UUID{second.ID}, owner, true))
	stored, err = s.store.FindByID(ctx, second.ID)
	s.Require().NoError(err)
	s.Equal(1, stored.DownloadCount)
	s.Nil(stored.Payload)
	archived, err := s.archiver.Read(stored)
	s.Require().NoError(err)
	s.Equal(backup.NoArchiveContent, archived)

	docs, err := s.service.FindAllNew(ctx, owner, 10)
	s.Require().NoError(err)
	s.Empty(docs)
}

func (s *DocumentServiceSuite) TestDownloadedClearsNoArchiveDocument() {
	ctx := context.Background()
	s.fund(1)
	doc, err := s.service.Create(ctx, s.request("secret"), true)
	s.Require().NoError(err)
	s.claim(doc.ID, domain.AccessPointScrada)

	s.Require().NoError(s.service.Downloaded(ctx, []uuid.UUID{doc.ID}, owner, false))
	stored, err := s.store.FindByID(ctx, doc.ID)
	s.Require().NoError(err)
	s.Nil(stored.Payload)
	s.Equal(1, stored.DownloadCount)
}

func (s *DocumentServiceSuite) TestAppAccess() {
	ctx := context.Background()
	app := uuid.New()
	s.Require().NoError(s.links.Add(ctx, owner, app))

	older, err := s.service.CreateAsReceived(ctx, s.received("one", "t-1"), nil)
	s.Require().NoError(err)
	s.now = s.now.Add(1)
	newer, err := s.service.CreateAsReceived(ctx, s.received("two", "t-2"), nil)
	s.Require().NoError(err)

	other := s.received("three", "t-3")
	other.ReceiverID = "0208:1111111111"
	foreign, err := s.service.CreateAsReceived(ctx, other, nil)
	s.Require().NoError(err)

	docs, err := s.service.FindAllNewByApp(ctx, app, 0)
	s.Require().NoError(err)
	s.Require().Len(docs, 2)
	s.Equal(newer.ID, docs[0].ID)
	s.Equal(older.ID, docs[1].ID)

	s.Require().NoError(s.service.DownloadedByApp(ctx, []uuid.UUID{older.ID, foreign.ID}, app, false))

	stored, err := s.store.FindByID(ctx, older.ID)
	s.Require().NoError(err)
	s.Equal(1, stored.DownloadCount)
	stored, err = s.store.FindByID(ctx, foreign.ID)
	s.Require().NoError(err)
	s.Zero(stored.DownloadCount, "participant not linked to the app")

	docs, err = s.service.FindAllNewByApp(ctx, uuid.New(), 0)
	s.Require().NoError(err)
	s.Empty(docs)
}
