package posts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.Post) (*models.Post, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	GetByGUID(ctx context.Context, guid string) (*models.Post, error)
	SetGUID(ctx context.Context, id int64, guid string) error
	// SetVisibility assigns v only if the post has none yet and reports
	// whether it did.
	SetVisibility(ctx context.Context, id int64, v models.Visibility) (bool, error)
	TouchThread(ctx context.Context, id int64, at time.Time) error
	Replies(ctx context.Context, parentID int64) ([]*models.Post, error)
	PublicByAuthor(ctx context.Context, authorID int64, limit int) ([]*models.Post, error)
	CountLocal(ctx context.Context, replies bool) (int64, error)

	AddPart(ctx context.Context, part *models.Part) (*models.Part, error)
	Parts(ctx context.Context, postID int64) ([]*models.Part, error)
	FindPartsByGUID(ctx context.Context, guid string) ([]*models.Part, error)

	// Share records s and reports whether it was new.
	Share(ctx context.Context, s *models.Share) (bool, error)
	GetShare(ctx context.Context, postID, contactID int64) (*models.Share, error)
	Shares(ctx context.Context, postID int64) ([]*models.Share, error)
}
