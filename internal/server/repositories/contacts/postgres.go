// Package contacts provides PostgreSQL-backed storage for local and remote
// actors.
package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/dbx"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
)

// PostgresRepository implements contact storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, handle, guid, server_url, public_key, display_name, bio, avatar_key, tags, local, created_at, updated_at`

// Create inserts c and fills in its ID and timestamps. A handle or GUID
// that is already taken yields common.ErrAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	query :=
		`INSERT INTO contacts (handle, guid, server_url, public_key, display_name, bio, avatar_key, tags, local)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		c.Handle, c.GUID, c.ServerURL, c.PublicKey, c.DisplayName, c.Bio, c.AvatarKey, joinTags(c.Tags), c.Local,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

// Update overwrites the mutable fields of the contact with c.ID.
func (r *PostgresRepository) Update(ctx context.Context, c *models.Contact) error {
	query :=
		`UPDATE contacts
		 SET handle = $2, server_url = $3, public_key = $4, display_name = $5, bio = $6,
		     avatar_key = $7, tags = $8, updated_at = now()
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		c.ID, c.Handle, c.ServerURL, c.PublicKey, c.DisplayName, c.Bio, c.AvatarKey, joinTags(c.Tags))
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

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Contact, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM contacts WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByHandle(ctx context.Context, handle string) (*models.Contact, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM contacts WHERE handle = $1`, handle)
}

func (r *PostgresRepository) GetByGUID(ctx context.Context, guid string) (*models.Contact, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM contacts WHERE guid = $1`, guid)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.Contact, error) {
	c, err := Scan(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Scan reads one contact in selectColumns order. Other repositories that
// join contacts reuse it.
func Scan(s Scanner) (*models.Contact, error) {
	var (
		c    models.Contact
		tags string
	)
	if err := s.Scan(&c.ID, &c.Handle, &c.GUID, &c.ServerURL, &c.PublicKey, &c.DisplayName, &c.Bio,
		&c.AvatarKey, &tags, &c.Local, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Tags = splitTags(tags)
	return &c, nil
}

// Columns is the column list Scan expects, qualified with alias.
func Columns(alias string) string {
	cols := strings.Split(selectColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func joinTags(tags []string) string {
	return strings.Join(tags, " ")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
