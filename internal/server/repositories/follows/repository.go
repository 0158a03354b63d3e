package follows

import (
	"context"

	"github.com/dmitrijs2005/fedinode/internal/server/models"
)

type Repository interface {
	// Add creates the edge and reports whether it was new.
	Add(ctx context.Context, followerID, followedID int64) (bool, error)
	Remove(ctx context.Context, followerID, followedID int64) error
	RemoveByFollower(ctx context.Context, followerID int64) (int64, error)
	Exists(ctx context.Context, followerID, followedID int64) (bool, error)
	// Followers lists the contacts following followedID.
	Followers(ctx context.Context, followedID int64) ([]*models.Contact, error)
}
