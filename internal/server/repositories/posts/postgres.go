// Package posts stores posts, their ordered parts, and per-contact shares.
package posts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

const postColumns = `id, author_id, parent_id, guid, visibility, created_at, thread_modified_at`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(s scanner) (*models.Post, error) {
	var (
		p          models.Post
		parent     sql.NullInt64
		guid       sql.NullString
		visibility sql.NullString
	)
	if err := s.Scan(&p.ID, &p.AuthorID, &parent, &guid, &visibility, &p.CreatedAt, &p.ThreadModifiedAt); err != nil {
		return nil, err
	}
	if parent.Valid {
		p.ParentID = &parent.Int64
	}
	p.GUID = guid.String
	p.Visibility = models.Visibility(visibility.String)
	return &p, nil
}

// Create inserts p. An empty GUID is stored as NULL so unfederated posts
// do not collide.
func (r *PostgresRepository) Create(ctx context.Context, p *models.Post) (*models.Post, error) {
	query :=
		`INSERT INTO posts (author_id, parent_id, guid, visibility)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, thread_modified_at`

	err := r.db.QueryRowContext(ctx, query,
		p.AuthorID, nullInt(p.ParentID), nullString(p.GUID), nullString(string(p.Visibility)),
	).Scan(&p.ID, &p.CreatedAt, &p.ThreadModifiedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	return r.getOne(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByGUID(ctx context.Context, guid string) (*models.Post, error) {
	if guid == "" {
		return nil, common.ErrorNotFound
	}
	return r.getOne(ctx, `SELECT `+postColumns+` FROM posts WHERE guid = $1`, guid)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) SetGUID(ctx context.Context, id int64, guid string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE posts SET guid = $2 WHERE id = $1`, id, guid)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return requireOne(res)
}

func (r *PostgresRepository) SetVisibility(ctx context.Context, id int64, v models.Visibility) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE posts SET visibility = $2 WHERE id = $1 AND visibility IS NULL`, id, string(v))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) TouchThread(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE posts SET thread_modified_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOne(res)
}

func (r *PostgresRepository) Replies(ctx context.Context, parentID int64) ([]*models.Post, error) {
	return r.list(ctx, `SELECT `+postColumns+` FROM posts WHERE parent_id = $1 ORDER BY created_at, id`, parentID)
}

// PublicByAuthor returns the author's public top-level posts, newest first.
func (r *PostgresRepository) PublicByAuthor(ctx context.Context, authorID int64, limit int) ([]*models.Post, error) {
	return r.list(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE author_id = $1 AND parent_id IS NULL AND visibility = 'public'
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, authorID, limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountLocal counts posts written by local contacts. With replies set it
// counts comments instead of top-level posts.
func (r *PostgresRepository) CountLocal(ctx context.Context, replies bool) (int64, error) {
	cond := "p.parent_id IS NULL"
	if replies {
		cond = "p.parent_id IS NOT NULL"
	}
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM posts p JOIN contacts c ON c.id = p.author_id WHERE c.local AND `+cond).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

const partColumns = `id, post_id, guid, type, body, media_key, text_preview, ord, inline`

func scanPart(s scanner) (*models.Part, error) {
	var p models.Part
	if err := s.Scan(&p.ID, &p.PostID, &p.GUID, &p.Type, &p.Body, &p.MediaKey, &p.TextPreview, &p.Order, &p.Inline); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) AddPart(ctx context.Context, part *models.Part) (*models.Part, error) {
	query :=
		`INSERT INTO parts (post_id, guid, type, body, media_key, text_preview, ord, inline)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		part.PostID, part.GUID, part.Type, part.Body, part.MediaKey, part.TextPreview, part.Order, part.Inline,
	).Scan(&part.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return part, nil
}

func (r *PostgresRepository) Parts(ctx context.Context, postID int64) ([]*models.Part, error) {
	return r.listParts(ctx, `SELECT `+partColumns+` FROM parts WHERE post_id = $1 ORDER BY ord, id`, postID)
}

func (r *PostgresRepository) FindPartsByGUID(ctx context.Context, guid string) ([]*models.Part, error) {
	if guid == "" {
		return nil, nil
	}
	return r.listParts(ctx, `SELECT `+partColumns+` FROM parts WHERE guid = $1 ORDER BY id`, guid)
}

func (r *PostgresRepository) listParts(ctx context.Context, query string, arg any) ([]*models.Part, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Share(ctx context.Context, s *models.Share) (bool, error) {
	query :=
		`INSERT INTO shares (post_id, contact_id, public, hidden)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, s.PostID, s.ContactID, s.Public, s.Hidden)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

const shareColumns = `post_id, contact_id, public, hidden, shared_at`

func (r *PostgresRepository) GetShare(ctx context.Context, postID, contactID int64) (*models.Share, error) {
	var s models.Share
	err := r.db.QueryRowContext(ctx,
		`SELECT `+shareColumns+` FROM shares WHERE post_id = $1 AND contact_id = $2`, postID, contactID,
	).Scan(&s.PostID, &s.ContactID, &s.Public, &s.Hidden, &s.SharedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) Shares(ctx context.Context, postID int64) ([]*models.Share, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+shareColumns+` FROM shares WHERE post_id = $1 ORDER BY contact_id`, postID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Share
	for rows.Next() {
		var s models.Share
		if err := rows.Scan(&s.PostID, &s.ContactID, &s.Public, &s.Hidden, &s.SharedAt); err != nil {
			return nil, err
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
