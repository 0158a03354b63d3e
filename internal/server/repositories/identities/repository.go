package identities

import (
	"context"

	"github.com/dmitrijs2005/fedinode/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, i *models.Identity) (*models.Identity, error)
	SetHandle(ctx context.Context, id int64, handle string) error
	GetByID(ctx context.Context, id int64) (*models.Identity, error)
	GetByHandle(ctx context.Context, handle string) (*models.Identity, error)
	GetByGUID(ctx context.Context, guid string) (*models.Identity, error)
	GetByContactID(ctx context.Context, contactID int64) (*models.Identity, error)
	Count(ctx context.Context) (int64, error)
}
