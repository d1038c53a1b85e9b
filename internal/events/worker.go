package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Outbox is the storage side of the relay.
type Outbox interface {
	Append(ctx context.Context, e Event) error
	Pending(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, ids []uuid.UUID) error
	Purge(ctx context.Context, before time.Time) (int, error)
}

// PublishCounter is satisfied by the platform metrics.
type PublishCounter interface {
	IncrementEventsPublished(n int)
}

// Worker drains the outbox on a fixed interval. Delivery is at least once:
// a crash between publish and MarkPublished republishes the batch.
type Worker struct {
	outbox    Outbox
	publisher Publisher
	interval  time.Duration
	batchSize int
	retention time.Duration
	logger    *slog.Logger
	metrics   PublishCounter
	now       func() time.Time
}

type WorkerOption func(*Worker)

func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithRetention sets how long published events are kept.
func WithRetention(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.retention = d
	}
}

func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m PublishCounter) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

func NewWorker(outbox Outbox, publisher Publisher, opts ...WorkerOption) *Worker {
	w := &Worker{
		outbox:    outbox,
		publisher: publisher,
		interval:  2 * time.Second,
		batchSize: 100,
		retention: 7 * 24 * time.Hour,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "outbox iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce publishes at most one batch and returns how many events went
// out.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	records, err := w.outbox.Pending(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, w.purge(ctx)
	}

	batch := make([]Event, len(records))
	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		batch[i] = r.Event
		ids[i] = r.ID
	}

	if err := w.publisher.Publish(ctx, batch); err != nil {
		w.logger.WarnContext(ctx, "outbox publish failed; retry scheduled",
			"events", len(batch),
			"error", err,
		)
		if markErr := w.outbox.MarkFailed(ctx, ids); markErr != nil {
			w.logger.ErrorContext(ctx, "failed to count outbox attempt", "error", markErr)
		}
		return 0, err
	}
	if err := w.outbox.MarkPublished(ctx, ids, w.now()); err != nil {
		return 0, err
	}
	if w.metrics != nil {
		w.metrics.IncrementEventsPublished(len(batch))
	}
	return len(batch), nil
}

func (w *Worker) purge(ctx context.Context) error {
	if w.retention <= 0 {
		return nil
	}
	n, err := w.outbox.Purge(ctx, w.now().Add(-w.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.DebugContext(ctx, "purged published events", "count", n)
	}
	return nil
}
