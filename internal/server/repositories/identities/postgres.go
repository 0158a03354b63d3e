// Package identities provides PostgreSQL-backed storage for local actors
// and their sealed private keys.
package identities

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

const selectColumns = `id, contact_id, handle, guid, server_url, public_key, encrypted_private_key, created_at`

func (r *PostgresRepository) Create(ctx context.Context, i *models.Identity) (*models.Identity, error) {
	query :=
		`INSERT INTO identities (contact_id, handle, guid, server_url, public_key, encrypted_private_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		i.ContactID, i.Handle, i.GUID, i.ServerURL, i.PublicKey, i.EncryptedPrivateKey,
	).Scan(&i.ID, &i.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return i, nil
}

// SetHandle replaces the signup placeholder handle. It is only called once,
// inside the signup transaction, before the handle is ever published.
func (r *PostgresRepository) SetHandle(ctx context.Context, id int64, handle string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE identities SET handle = $2 WHERE id = $1`, id, handle)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
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

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM identities WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByHandle(ctx context.Context, handle string) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM identities WHERE handle = $1`, handle)
}

func (r *PostgresRepository) GetByGUID(ctx context.Context, guid string) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM identities WHERE guid = $1`, guid)
}

func (r *PostgresRepository) GetByContactID(ctx context.Context, contactID int64) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM identities WHERE contact_id = $1`, contactID)
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.Identity, error) {
	i := &models.Identity{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&i.ID, &i.ContactID, &i.Handle, &i.GUID, &i.ServerURL, &i.PublicKey, &i.EncryptedPrivateKey, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return i, nil
}
