package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/fedinode/internal/adminrpc"
	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	actorKey ctxKey = "actor"
	tokenKey ctxKey = "token"
)

// openMethods do not need a session.
var openMethods = map[string]bool{
	adminrpc.MethodPing:   true,
	adminrpc.MethodSignup: true,
	adminrpc.MethodLogin:  true,
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if !openMethods[info.FullMethod] {

		var accessToken string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			values := md.Get(common.AccessTokenHeaderName)
			if len(values) > 0 {
				accessToken = values[0]
			}
		}
		if len(accessToken) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}

		actor, err := s.identity.Authenticate(ctx, accessToken)
		if err != nil {
			if errors.Is(err, common.ErrTokenExpired) {
				return nil, status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
			}
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		ctx = context.WithValue(ctx, actorKey, actor)
		ctx = context.WithValue(ctx, tokenKey, accessToken)
	}

	return handler(ctx, req)
}

func actorFrom(ctx context.Context) (*services.Actor, error) {
	a, ok := ctx.Value(actorKey).(*services.Actor)
	if !ok || a == nil {
		return nil, status.Error(codes.Unauthenticated, "no session")
	}
	return a, nil
}
