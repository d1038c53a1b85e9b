package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher hands a batch of events to the outside world.
type Publisher interface {
	Publish(ctx context.Context, batch []Event) error
}

// KafkaPublisher produces one record per event keyed by document id, so
// every transition of a document lands on the same partition in order.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(client *kgo.Client, topic string) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, batch []Event) error {
	records := make([]*kgo.Record, 0, len(batch))
	for _, e := range batch {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(e.DocumentID.String()),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "type", Value: []byte(e.Type)},
			},
		})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce events: %w", err)
	}
	return nil
}

// LogPublisher writes events to the log when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, batch []Event) error {
	for _, e := range batch {
		p.logger.InfoContext(ctx, "document event",
			"event_type", e.Type,
			"document_id", e.DocumentID,
			"owner_id", e.OwnerID,
			"gateway", e.Gateway,
			"status", e.Status,
		)
	}
	return nil
}
