// Package grpc serves the node's admin API: account signup and sessions,
// inbound queue control and local publishing.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/adminrpc"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/services"
	"google.golang.org/grpc"
)

type identitySvc interface {
	Signup(ctx context.Context, password string) (*models.Identity, error)
	Login(ctx context.Context, handle, password string) (string, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*services.Actor, error)
}

type queueSvc interface {
	Items(ctx context.Context, actor *services.Actor) ([]*models.QueueItem, error)
	Drain(ctx context.Context, actor *services.Actor, budget time.Duration) (services.DrainStats, error)
	ProcessPublicQueue(ctx context.Context, budget time.Duration) (services.DrainStats, error)
	ClearError(ctx context.Context, actor *services.Actor, itemID int64) error
	Discard(ctx context.Context, actor *services.Actor, itemID int64) error
}

type publisherSvc interface {
	Publish(ctx context.Context, actor *services.Actor, d services.Draft) (*models.Post, error)
	Reply(ctx context.Context, actor *services.Actor, parentGUID, text string, requested models.Visibility) (*models.Post, error)
	Reshare(ctx context.Context, actor *services.Actor, guid string) (*models.Post, error)
	Subscribe(ctx context.Context, actor *services.Actor, handle string) error
	Unsubscribe(ctx context.Context, actor *services.Actor, handle string) error
	UpdateProfile(ctx context.Context, actor *services.Actor, d services.ProfileDraft) error
	DeleteAccount(ctx context.Context, actor *services.Actor) error
}

type GRPCServer struct {
	address   string
	identity  identitySvc
	queue     queueSvc
	publisher publisherSvc
	logger    logging.Logger

	// defaultBudget bounds a QueueRun call that names no budget.
	defaultBudget time.Duration
}

var _ adminrpc.AdminServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, is identitySvc, qs queueSvc, ps publisherSvc, defaultBudget time.Duration) *GRPCServer {
	return &GRPCServer{
		address:       a,
		logger:        l.With("module", "grpc_server"),
		identity:      is,
		queue:         qs,
		publisher:     ps,
		defaultBudget: defaultBudget,
	}
}

// NewServer builds the grpc.Server with the admin service registered.
func (s *GRPCServer) NewServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	adminrpc.RegisterAdminServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
