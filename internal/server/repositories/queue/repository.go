package queue

import (
	"context"

	"github.com/dmitrijs2005/fedinode/internal/server/models"
)

// Repository is the persistent inbound queue. A nil identity ID addresses
// the public queue.
type Repository interface {
	Enqueue(ctx context.Context, item *models.QueueItem) (*models.QueueItem, error)
	// Next returns the oldest item of the queue, or common.ErrorNotFound.
	Next(ctx context.Context, identityID *int64) (*models.QueueItem, error)
	List(ctx context.Context, identityID *int64) ([]*models.QueueItem, error)
	Get(ctx context.Context, id int64) (*models.QueueItem, error)
	Delete(ctx context.Context, id int64) error
	SetError(ctx context.Context, id int64, msg string) error
	// ClearError drops the error of one item so it is retried.
	ClearError(ctx context.Context, id int64) error
	Has(ctx context.Context, identityID *int64) (bool, error)
}
