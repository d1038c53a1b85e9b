package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"peppolrelay/internal/applink/models"
	"peppolrelay/pkg/platform/tx"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists app links in the app_links table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) dbtx {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, link models.Link) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO app_links (peppol_id, linked_uid, created_on)
		VALUES ($1, $2, $3)
		ON CONFLICT (peppol_id, linked_uid) DO NOTHING`,
		link.PeppolID, link.LinkedUID, link.CreatedOn,
	)
	if err != nil {
		return fmt.Errorf("save app link: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, peppolID string, uid uuid.UUID) error {
	if _, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM app_links WHERE peppol_id = $1 AND linked_uid = $2`, peppolID, uid); err != nil {
		return fmt.Errorf("delete app link: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, peppolID string, uid uuid.UUID) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM app_links WHERE peppol_id = $1 AND linked_uid = $2)`,
		peppolID, uid,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check app link: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) FindPeppolIDs(ctx context.Context, uid uuid.UUID) ([]string, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT peppol_id FROM app_links WHERE linked_uid = $1 ORDER BY peppol_id`, uid)
	if err != nil {
		return nil, fmt.Errorf("find app links: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan app link: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate app links: %w", err)
	}
	return out, nil
}
