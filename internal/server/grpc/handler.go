package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/fedinode/internal/adminrpc"
	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors onto gRPC codes.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.PermissionDenied, "permission denied")
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrRemoteUnreachable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		s.logger.Error(ctx, err.Error())
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *GRPCServer) Ping(ctx context.Context, req *adminrpc.Empty) (*adminrpc.PingResponse, error) {

	return &adminrpc.PingResponse{Status: "OK"}, nil

}

func (s *GRPCServer) Signup(ctx context.Context, req *adminrpc.SignupRequest) (*adminrpc.SignupResponse, error) {

	s.logger.Info(ctx, "Signup request")

	identity, err := s.identity.Signup(ctx, req.Password)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Signed up", "handle", identity.Handle)
	return &adminrpc.SignupResponse{Handle: identity.Handle, GUID: identity.GUID}, nil

}

func (s *GRPCServer) Login(ctx context.Context, req *adminrpc.LoginRequest) (*adminrpc.LoginResponse, error) {

	token, err := s.identity.Login(ctx, req.Handle, req.Password)

	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		return nil, s.toStatus(ctx, err)
	}

	return &adminrpc.LoginResponse{AccessToken: token}, nil

}

func (s *GRPCServer) Logout(ctx context.Context, req *adminrpc.Empty) (*adminrpc.Empty, error) {

	token, _ := ctx.Value(tokenKey).(string)
	if err := s.identity.Logout(ctx, token); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &adminrpc.Empty{}, nil

}

func (s *GRPCServer) QueueStatus(ctx context.Context, req *adminrpc.QueueStatusRequest) (*adminrpc.QueueStatusResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	owner := actor
	if req.Public {
		owner = nil
	}

	items, err := s.queue.Items(ctx, owner)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &adminrpc.QueueStatusResponse{Items: make([]adminrpc.QueueItem, 0, len(items))}
	for _, it := range items {
		qi := adminrpc.QueueItem{
			ID:         it.ID,
			Public:     it.IdentityID == nil,
			ReceivedAt: it.ReceivedAt,
			Size:       len(it.Body),
		}
		if it.Error != nil {
			qi.Error = *it.Error
		}
		resp.Items = append(resp.Items, qi)
	}
	return resp, nil
}

func (s *GRPCServer) QueueRun(ctx context.Context, req *adminrpc.QueueRunRequest) (*adminrpc.QueueRunResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	budget := req.Budget
	if budget <= 0 {
		budget = s.defaultBudget
	}

	var st services.DrainStats
	if req.Public {
		st, err = s.queue.ProcessPublicQueue(ctx, budget)
	} else {
		st, err = s.queue.Drain(ctx, actor, budget)
	}
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	return &adminrpc.QueueRunResponse{
		Processed: st.Processed,
		Deferred:  st.Deferred,
		Blocked:   st.Blocked,
		More:      st.More,
	}, nil
}

func (s *GRPCServer) QueueClear(ctx context.Context, req *adminrpc.QueueItemRequest) (*adminrpc.Empty, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.queue.ClearError(ctx, actor, req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &adminrpc.Empty{}, nil
}

func (s *GRPCServer) QueueDiscard(ctx context.Context, req *adminrpc.QueueItemRequest) (*adminrpc.Empty, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Discard(ctx, actor, req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &adminrpc.Empty{}, nil
}

func (s *GRPCServer) Follow(ctx context.Context, req *adminrpc.FollowRequest) (*adminrpc.Empty, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	if req.Unfollow {
		err = s.publisher.Unsubscribe(ctx, actor, req.Handle)
	} else {
		err = s.publisher.Subscribe(ctx, actor, req.Handle)
	}
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &adminrpc.Empty{}, nil
}

func draftImage(img *adminrpc.Image) *services.ImageDraft {
	if img == nil {
		return nil
	}
	return &services.ImageDraft{ContentType: img.ContentType, Data: img.Data, Caption: img.Caption}
}

// published builds the response for a post that may have been stored
// despite delivery failures.
func (s *GRPCServer) published(ctx context.Context, post *models.Post, err error) (*adminrpc.PublishResponse, error) {
	if post == nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &adminrpc.PublishResponse{GUID: post.GUID}
	if err != nil {
		s.logger.Warn(ctx, "delivery incomplete", "guid", post.GUID, "error", err)
		resp.DeliveryError = err.Error()
	}
	return resp, nil
}

func (s *GRPCServer) Publish(ctx context.Context, req *adminrpc.PublishRequest) (*adminrpc.PublishResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	d := services.Draft{
		Text:       req.Text,
		Subject:    req.Subject,
		Visibility: models.Visibility(req.Visibility),
		Recipients: req.Recipients,
		Image:      draftImage(req.Image),
	}
	if req.PollQuestion != "" {
		d.Poll = &services.PollDraft{Question: req.PollQuestion, Answers: req.PollAnswers}
	}

	post, err := s.publisher.Publish(ctx, actor, d)
	return s.published(ctx, post, err)
}

func (s *GRPCServer) Reply(ctx context.Context, req *adminrpc.ReplyRequest) (*adminrpc.PublishResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	post, err := s.publisher.Reply(ctx, actor, req.ParentGUID, req.Text, models.Visibility(req.Visibility))
	return s.published(ctx, post, err)
}

func (s *GRPCServer) Reshare(ctx context.Context, req *adminrpc.ReshareRequest) (*adminrpc.PublishResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	post, err := s.publisher.Reshare(ctx, actor, req.GUID)
	return s.published(ctx, post, err)
}

func (s *GRPCServer) UpdateProfile(ctx context.Context, req *adminrpc.ProfileRequest) (*adminrpc.Empty, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	err = s.publisher.UpdateProfile(ctx, actor, services.ProfileDraft{
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		Tags:        req.Tags,
		Avatar:      draftImage(req.Avatar),
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &adminrpc.Empty{}, nil
}

func (s *GRPCServer) DeleteAccount(ctx context.Context, req *adminrpc.Empty) (*adminrpc.Empty, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.publisher.DeleteAccount(ctx, actor); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	token, _ := ctx.Value(tokenKey).(string)
	_ = s.identity.Logout(ctx, token)
	return &adminrpc.Empty{}, nil
}
