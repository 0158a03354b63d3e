package contacts

import (
	"context"

	"github.com/dmitrijs2005/fedinode/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Contact) (*models.Contact, error)
	Update(ctx context.Context, c *models.Contact) error
	GetByID(ctx context.Context, id int64) (*models.Contact, error)
	GetByHandle(ctx context.Context, handle string) (*models.Contact, error)
	GetByGUID(ctx context.Context, guid string) (*models.Contact, error)
}
