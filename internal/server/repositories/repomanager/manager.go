package repomanager

import (
	"context"

	"github.com/dmitrijs2005/fedinode/internal/dbx"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/contacts"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/follows"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/identities"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/posts"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/queue"
)

// RepositoryManager vends repositories bound to a connection or to the
// transaction handed out by WithTx.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Conn() dbx.DBTX
	WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error

	Identities(db dbx.DBTX) identities.Repository
	Contacts(db dbx.DBTX) contacts.Repository
	Follows(db dbx.DBTX) follows.Repository
	Posts(db dbx.DBTX) posts.Repository
	Queue(db dbx.DBTX) queue.Repository
}
