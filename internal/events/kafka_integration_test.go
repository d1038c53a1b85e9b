//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/events"
	"peppolrelay/internal/platform/kafka"
	"peppolrelay/pkg/domain"
	"peppolrelay/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	postgres *containers.PostgresContainer
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
	s.postgres = containers.GetManager().GetPostgres(s.T())
}

func (s *KafkaPublisherSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "document_events"))
}

func (s *KafkaPublisherSuite) TestOutboxToKafka() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	topic := "peppol.documents." + uuid.NewString()[:8]
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	producer, err := kafka.NewClient(s.redpanda.Brokers, "relay-test")
	s.Require().NoError(err)
	defer producer.Close()
	s.Require().NoError(kafka.EnsureTopic(ctx, producer, topic, 1, 1, logger))
	s.Require().NoError(kafka.EnsureTopic(ctx, producer, topic, 1, 1, logger), "second call is a no-op")

	outbox := events.NewPostgresOutbox(s.postgres.Pool)
	doc := &models.Document{ID: uuid.New(), Direction: domain.DirectionIncoming, OwnerID: "0208:1"}
	s.Require().NoError(outbox.Append(ctx, events.New(events.DocumentReceived, doc, time.Now().UTC())))

	worker := events.NewWorker(outbox, events.NewKafkaPublisher(producer, topic), events.WithLogger(logger))
	n, err := worker.ProcessOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	pending, err := outbox.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())
	records := fetches.Records()
	s.Require().Len(records, 1)
	s.Equal(doc.ID.String(), string(records[0].Key))

	var got events.Event
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(events.DocumentReceived, got.Type)
	s.Equal(doc.ID, got.DocumentID)
}
