package client

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/adminrpc"
)

type Client interface {
	Close() error
	Ping(ctx context.Context) error
	LoggedIn() bool

	Signup(ctx context.Context, password []byte) (*adminrpc.SignupResponse, error)
	Login(ctx context.Context, handle string, password []byte) error
	Logout(ctx context.Context) error
	DeleteAccount(ctx context.Context) error

	QueueStatus(ctx context.Context, public bool) ([]adminrpc.QueueItem, error)
	QueueRun(ctx context.Context, public bool, budget time.Duration) (*adminrpc.QueueRunResponse, error)
	QueueClear(ctx context.Context, id int64) error
	QueueDiscard(ctx context.Context, id int64) error

	Follow(ctx context.Context, handle string, unfollow bool) error
	Publish(ctx context.Context, req *adminrpc.PublishRequest) (*adminrpc.PublishResponse, error)
	Reply(ctx context.Context, req *adminrpc.ReplyRequest) (*adminrpc.PublishResponse, error)
	Reshare(ctx context.Context, guid string) (*adminrpc.PublishResponse, error)
	UpdateProfile(ctx context.Context, req *adminrpc.ProfileRequest) error
}
