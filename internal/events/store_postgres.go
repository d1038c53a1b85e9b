package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"peppolrelay/pkg/platform/tx"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresOutbox stores events in document_events. Append joins the pgx
// transaction carried by ctx so an event commits with its document change.
type PostgresOutbox struct {
	pool *pgxpool.Pool
}

func NewPostgresOutbox(pool *pgxpool.Pool) *PostgresOutbox {
	return &PostgresOutbox{pool: pool}
}

func (o *PostgresOutbox) conn(ctx context.Context) execer {
	if pgxTx, ok := tx.PgxFrom(ctx); ok {
		return pgxTx
	}
	return o.pool
}

func (o *PostgresOutbox) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = o.conn(ctx).Exec(ctx, `
		INSERT INTO document_events (id, document_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.DocumentID, string(e.Type), payload, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (o *PostgresOutbox) Pending(ctx context.Context, limit int) ([]Record, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT payload, attempts FROM document_events
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var (
			payload []byte
			rec     Record
		)
		if err := row.Scan(&payload, &rec.Attempts); err != nil {
			return Record{}, err
		}
		if err := json.Unmarshal(payload, &rec.Event); err != nil {
			return Record{}, fmt.Errorf("decode event: %w", err)
		}
		return rec, nil
	})
}

func (o *PostgresOutbox) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if _, err := o.pool.Exec(ctx,
		`UPDATE document_events SET published_at = $2 WHERE id = ANY($1)`, ids, at); err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

func (o *PostgresOutbox) MarkFailed(ctx context.Context, ids []uuid.UUID) error {
	if _, err := o.pool.Exec(ctx,
		`UPDATE document_events SET attempts = attempts + 1 WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("mark events failed: %w", err)
	}
	return nil
}

func (o *PostgresOutbox) Purge(ctx context.Context, before time.Time) (int, error) {
	tag, err := o.pool.Exec(ctx,
		`DELETE FROM document_events WHERE published_at IS NOT NULL AND published_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
