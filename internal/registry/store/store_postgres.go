package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"peppolrelay/internal/registry/models"
	"peppolrelay/pkg/domain"
	"peppolrelay/pkg/platform/sentinel"
	"peppolrelay/pkg/platform/tx"
)

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists registry entries in PostgreSQL. Calls join the
// database/sql transaction carried by ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) (dbtx, bool) {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx, true
	}
	return s.db, false
}

func (s *PostgresStore) FindByPeppolID(ctx context.Context, peppolID string) (*models.Entry, error) {
	conn, inTx := s.conn(ctx)
	query := `SELECT peppol_id, access_point, variables, created_on, updated_on FROM registry WHERE peppol_id = $1`
	if inTx {
		query += ` FOR UPDATE`
	}

	var (
		entry models.Entry
		ap    string
		vars  []byte
	)
	err := conn.QueryRowContext(ctx, query, peppolID).Scan(&entry.PeppolID, &ap, &vars, &entry.CreatedOn, &entry.UpdatedOn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("registry entry %s: %w", peppolID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find registry entry: %w", err)
	}
	entry.AccessPoint = domain.AccessPoint(ap)
	if len(vars) > 0 && string(vars) != "null" {
		if err := json.Unmarshal(vars, &entry.Variables); err != nil {
			return nil, fmt.Errorf("decode registry variables: %w", err)
		}
	}
	return &entry, nil
}

func (s *PostgresStore) Save(ctx context.Context, entry *models.Entry) error {
	var vars []byte
	if entry.Variables != nil {
		var err error
		if vars, err = json.Marshal(entry.Variables); err != nil {
			return fmt.Errorf("encode registry variables: %w", err)
		}
	}
	conn, _ := s.conn(ctx)
	_, err := conn.ExecContext(ctx, `
		INSERT INTO registry (peppol_id, access_point, variables, created_on, updated_on)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (peppol_id) DO UPDATE
		SET access_point = EXCLUDED.access_point,
		    variables = EXCLUDED.variables,
		    updated_on = EXCLUDED.updated_on`,
		entry.PeppolID, entry.AccessPoint.String(), nullJSON(vars), entry.CreatedOn, entry.UpdatedOn,
	)
	if err != nil {
		return fmt.Errorf("save registry entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, peppolID string) error {
	conn, _ := s.conn(ctx)
	res, err := conn.ExecContext(ctx, `DELETE FROM registry WHERE peppol_id = $1`, peppolID)
	if err != nil {
		return fmt.Errorf("delete registry entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete registry entry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("registry entry %s: %w", peppolID, sentinel.ErrNotFound)
	}
	return nil
}

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
