package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"peppolrelay/internal/document/models"
	"peppolrelay/pkg/domain"
	"peppolrelay/pkg/platform/sentinel"
	"peppolrelay/pkg/platform/tx"
)

const documentColumns = `id, direction, kind, owner_id, partner_id, created_on, scheduled_on,
	processed_on, processed_status, payload, hash, download_count, updated_on, gateway, tracking_id`

// querier is the subset shared by pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists documents in the documents table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) q(ctx context.Context) (querier, bool) {
	if t, ok := tx.PgxFrom(ctx); ok {
		return t, true
	}
	return s.pool, false
}

func (s *PostgresStore) Create(ctx context.Context, doc *models.Document) error {
	q, _ := s.q(ctx)
	_, err := q.Exec(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		doc.ID, string(doc.Direction), string(doc.Kind), doc.OwnerID, doc.PartnerID,
		doc.CreatedOn, doc.ScheduledOn, doc.ProcessedOn, doc.ProcessedStatus, doc.Payload,
		doc.Hash, doc.DownloadCount, doc.UpdatedOn, gatewayArg(doc.Gateway), doc.TrackingID,
	)
	if err != nil {
		return mapWriteErr("insert document", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, doc *models.Document) error {
	q, _ := s.q(ctx)
	tag, err := q.Exec(ctx, `UPDATE documents SET
		kind = $2, owner_id = $3, partner_id = $4, scheduled_on = $5, processed_on = $6,
		processed_status = $7, payload = $8, hash = $9, download_count = $10,
		updated_on = $11, gateway = $12, tracking_id = $13
		WHERE id = $1`,
		doc.ID, string(doc.Kind), doc.OwnerID, doc.PartnerID, doc.ScheduledOn, doc.ProcessedOn,
		doc.ProcessedStatus, doc.Payload, doc.Hash, doc.DownloadCount, doc.UpdatedOn,
		gatewayArg(doc.Gateway), doc.TrackingID,
	)
	if err != nil {
		return mapWriteErr("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, sentinel.ErrNotFound)
	}
	return nil
}

// FindByID locks the row when called inside a transaction.
func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	q, inTx := s.q(ctx)
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	if inTx {
		query += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) FindByIDs(ctx context.Context, ids []uuid.UUID, ownerID string) ([]*models.Document, error) {
	if len(ids) == 0 {
		return []*models.Document{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	q, _ := s.q(ctx)
	return s.queryDocuments(ctx, q, `SELECT `+documentColumns+` FROM documents
		WHERE id = ANY($1::uuid[]) AND owner_id = $2`, keys, ownerID)
}

func (s *PostgresStore) ExistsByHash(ctx context.Context, direction domain.Direction, hash string, excludeID uuid.UUID) (bool, error) {
	q, _ := s.q(ctx)
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents
		WHERE direction = $1 AND hash = $2 AND id <> $3)`, string(direction), hash, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document hash: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ExistsByTrackingID(ctx context.Context, trackingID string) (bool, error) {
	q, _ := s.q(ctx)
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE tracking_id = $1)`, trackingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tracking id: %w", err)
	}
	return exists, nil
}

// FindDueOutgoing lists due unclaimed documents, oldest first. Inside a
// transaction it locks them and skips rows another transaction holds. The
// scheduler reads outside one and relies on the locked FindByID in dispatch.
func (s *PostgresStore) FindDueOutgoing(ctx context.Context, now time.Time, limit int) ([]*models.Document, error) {
	q, inTx := s.q(ctx)
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE direction = 'OUTGOING' AND gateway IS NULL
		  AND (scheduled_on IS NULL OR scheduled_on <= $1)
		ORDER BY COALESCE(scheduled_on, created_on), created_on
		LIMIT $2`
	if inTx {
		query += ` FOR UPDATE SKIP LOCKED`
	}
	return s.queryDocuments(ctx, q, query, now, limit)
}

func (s *PostgresStore) FindInFlightOutgoing(ctx context.Context, limit int) ([]*models.Document, error) {
	q, _ := s.q(ctx)
	return s.queryDocuments(ctx, q, `SELECT `+documentColumns+` FROM documents
		WHERE direction = 'OUTGOING' AND processed_on IS NULL
		  AND gateway IS NOT NULL AND gateway <> 'NONE'
		ORDER BY updated_on
		LIMIT $1`, limit)
}

func (s *PostgresStore) FindNewIncoming(ctx context.Context, ownerIDs []string, limit int, newestFirst bool) ([]*models.Document, error) {
	if len(ownerIDs) == 0 {
		return []*models.Document{}, nil
	}
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	q, _ := s.q(ctx)
	return s.queryDocuments(ctx, q, `SELECT `+documentColumns+` FROM documents
		WHERE direction = 'INCOMING' AND download_count = 0 AND owner_id = ANY($1)
		ORDER BY created_on `+order+`
		LIMIT $2`, ownerIDs, limit)
}

func (s *PostgresStore) CountPendingScheduled(ctx context.Context, ownerID, partnerID string, from, to time.Time) (int, error) {
	q, _ := s.q(ctx)
	var count int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM documents
		WHERE direction = 'OUTGOING' AND owner_id = $1
		  AND ($2 = '' OR partner_id = $2)
		  AND processed_on IS NULL AND gateway IS NULL
		  AND scheduled_on >= $3 AND scheduled_on < $4`,
		ownerID, partnerID, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count scheduled documents: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) queryDocuments(ctx context.Context, q querier, query string, args ...any) ([]*models.Document, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var (
		doc       models.Document
		direction string
		kind      string
		gateway   *string
	)
	if err := row.Scan(&doc.ID, &direction, &kind, &doc.OwnerID, &doc.PartnerID, &doc.CreatedOn,
		&doc.ScheduledOn, &doc.ProcessedOn, &doc.ProcessedStatus, &doc.Payload, &doc.Hash,
		&doc.DownloadCount, &doc.UpdatedOn, &gateway, &doc.TrackingID); err != nil {
		return nil, err
	}
	doc.Direction = domain.Direction(direction)
	doc.Kind = domain.DocumentKind(kind)
	if gateway != nil {
		ap := domain.AccessPoint(*gateway)
		doc.Gateway = &ap
	}
	return &doc, nil
}

func gatewayArg(ap *domain.AccessPoint) *string {
	if ap == nil {
		return nil
	}
	v := string(*ap)
	return &v
}

func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
