// Package queue persists received envelopes until they are processed.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/dbx"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, identity_id, format, body, received_at, error`

// owner matches identity_id against $1, treating NULL as the public queue.
const owner = `identity_id IS NOT DISTINCT FROM $1`

func ownerArg(identityID *int64) sql.NullInt64 {
	if identityID == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *identityID, Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.QueueItem, error) {
	var (
		it     models.QueueItem
		ident  sql.NullInt64
		errMsg sql.NullString
	)
	if err := s.Scan(&it.ID, &ident, &it.Format, &it.Body, &it.ReceivedAt, &errMsg); err != nil {
		return nil, err
	}
	if ident.Valid {
		it.IdentityID = &ident.Int64
	}
	if errMsg.Valid {
		it.Error = &errMsg.String
	}
	return &it, nil
}

func (r *PostgresRepository) Enqueue(ctx context.Context, item *models.QueueItem) (*models.QueueItem, error) {
	query :=
		`INSERT INTO inbound_queue (identity_id, format, body)
		 VALUES ($1, $2, $3)
		 RETURNING id, received_at`

	err := r.db.QueryRowContext(ctx, query, ownerArg(item.IdentityID), item.Format, item.Body).
		Scan(&item.ID, &item.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return item, nil
}

func (r *PostgresRepository) Next(ctx context.Context, identityID *int64) (*models.QueueItem, error) {
	query := `SELECT ` + selectColumns + ` FROM inbound_queue WHERE ` + owner + ` ORDER BY received_at, id LIMIT 1`
	return r.getOne(ctx, query, ownerArg(identityID))
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*models.QueueItem, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM inbound_queue WHERE id = $1`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.QueueItem, error) {
	it, err := scan(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return it, nil
}

func (r *PostgresRepository) List(ctx context.Context, identityID *int64) ([]*models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM inbound_queue WHERE `+owner+` ORDER BY received_at, id`, ownerArg(identityID))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.QueueItem
	for rows.Next() {
		it, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM inbound_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) SetError(ctx context.Context, id int64, msg string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE inbound_queue SET error = $2 WHERE id = $1`, id, msg)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ClearError(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE inbound_queue SET error = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Has(ctx context.Context, identityID *int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM inbound_queue WHERE `+owner+`)`, ownerArg(identityID)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}
