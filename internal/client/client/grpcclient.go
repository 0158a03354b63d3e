package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/adminrpc"
	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/filex"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// tokenFile is the name of the saved access token inside the session dir.
const tokenFile = "access_token"

// adminAPI is the subset of *adminrpc.Client used here; tests swap in fakes.
type adminAPI interface {
	Ping(ctx context.Context, in *adminrpc.Empty, opts ...grpc.CallOption) (*adminrpc.PingResponse, error)
	Signup(ctx context.Context, in *adminrpc.SignupRequest, opts ...grpc.CallOption) (*adminrpc.SignupResponse, error)
	Login(ctx context.Context, in *adminrpc.LoginRequest, opts ...grpc.CallOption) (*adminrpc.LoginResponse, error)
	Logout(ctx context.Context, in *adminrpc.Empty, opts ...grpc.CallOption) (*adminrpc.Empty, error)
	QueueStatus(ctx context.Context, in *adminrpc.QueueStatusRequest, opts ...grpc.CallOption) (*adminrpc.QueueStatusResponse, error)
	QueueRun(ctx context.Context, in *adminrpc.QueueRunRequest, opts ...grpc.CallOption) (*adminrpc.QueueRunResponse, error)
	QueueClear(ctx context.Context, in *adminrpc.QueueItemRequest, opts ...grpc.CallOption) (*adminrpc.Empty, error)
	QueueDiscard(ctx context.Context, in *adminrpc.QueueItemRequest, opts ...grpc.CallOption) (*adminrpc.Empty, error)
	Follow(ctx context.Context, in *adminrpc.FollowRequest, opts ...grpc.CallOption) (*adminrpc.Empty, error)
	Publish(ctx context.Context, in *adminrpc.PublishRequest, opts ...grpc.CallOption) (*adminrpc.PublishResponse, error)
	Reply(ctx context.Context, in *adminrpc.ReplyRequest, opts ...grpc.CallOption) (*adminrpc.PublishResponse, error)
	Reshare(ctx context.Context, in *adminrpc.ReshareRequest, opts ...grpc.CallOption) (*adminrpc.PublishResponse, error)
	UpdateProfile(ctx context.Context, in *adminrpc.ProfileRequest, opts ...grpc.CallOption) (*adminrpc.Empty, error)
	DeleteAccount(ctx context.Context, in *adminrpc.Empty, opts ...grpc.CallOption) (*adminrpc.Empty, error)
}

type GRPCClient struct {
	endpointURL string
	sessionDir  string
	conn        *grpc.ClientConn
	client      adminAPI
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}

	return metadata.NewOutgoingContext(ctx, md)
}

// accessTokenInterceptor attaches the current token and forgets it once the
// server rejects it.
func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	ctx = withAccessToken(ctx, s.accessToken)

	err := invoker(ctx, method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if ok && st.Code() == codes.Unauthenticated && s.accessToken != "" {
		s.forgetToken()
	}
	return err
}

func NewGRPCClient(endpointURL, sessionDir string) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, sessionDir: sessionDir}

	token, err := filex.ReadSecret(sessionDir, tokenFile)
	if err != nil {
		return nil, err
	}
	c.accessToken = token

	if err := c.InitGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient() error {

	conn, err := grpc.NewClient(s.endpointURL, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithUnaryInterceptor(s.accessTokenInterceptor))
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = adminrpc.NewClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCClient) LoggedIn() bool {
	return s.accessToken != ""
}

func (s *GRPCClient) saveToken(token string) error {
	s.accessToken = token
	if s.sessionDir == "" {
		return nil
	}
	return filex.WriteSecret(s.sessionDir, tokenFile, token)
}

func (s *GRPCClient) forgetToken() {
	s.accessToken = ""
	if s.sessionDir != "" {
		_ = filex.RemoveSecret(s.sessionDir, tokenFile)
	}
}

func (s *GRPCClient) requireSession() error {
	if s.accessToken == "" {
		return ErrNotLoggedIn
	}
	return nil
}

func (s *GRPCClient) Ping(ctx context.Context) error {

	resp, err := s.client.Ping(ctx, &adminrpc.Empty{})
	if err != nil {
		return s.mapError(err)
	}

	if resp.Status != "OK" {
		return ErrUnavailable
	}

	return nil

}

func (s *GRPCClient) Signup(ctx context.Context, password []byte) (*adminrpc.SignupResponse, error) {

	resp, err := s.client.Signup(ctx, &adminrpc.SignupRequest{Password: string(password)})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil

}

func (s *GRPCClient) Login(ctx context.Context, handle string, password []byte) error {

	resp, err := s.client.Login(ctx, &adminrpc.LoginRequest{Handle: handle, Password: string(password)})
	if err != nil {
		return s.mapError(err)
	}

	return s.saveToken(resp.AccessToken)

}

func (s *GRPCClient) Logout(ctx context.Context) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	_, err := s.client.Logout(ctx, &adminrpc.Empty{})
	s.forgetToken()
	if err != nil && status.Code(err) != codes.Unauthenticated {
		return s.mapError(err)
	}
	return nil
}

func (s *GRPCClient) DeleteAccount(ctx context.Context) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if _, err := s.client.DeleteAccount(ctx, &adminrpc.Empty{}); err != nil {
		return s.mapError(err)
	}
	s.forgetToken()
	return nil
}

func (s *GRPCClient) QueueStatus(ctx context.Context, public bool) ([]adminrpc.QueueItem, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	resp, err := s.client.QueueStatus(ctx, &adminrpc.QueueStatusRequest{Public: public})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp.Items, nil
}

func (s *GRPCClient) QueueRun(ctx context.Context, public bool, budget time.Duration) (*adminrpc.QueueRunResponse, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	resp, err := s.client.QueueRun(ctx, &adminrpc.QueueRunRequest{Public: public, Budget: budget})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

func (s *GRPCClient) QueueClear(ctx context.Context, id int64) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	_, err := s.client.QueueClear(ctx, &adminrpc.QueueItemRequest{ID: id})
	return s.mapError(err)
}

func (s *GRPCClient) QueueDiscard(ctx context.Context, id int64) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	_, err := s.client.QueueDiscard(ctx, &adminrpc.QueueItemRequest{ID: id})
	return s.mapError(err)
}

func (s *GRPCClient) Follow(ctx context.Context, handle string, unfollow bool) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	_, err := s.client.Follow(ctx, &adminrpc.FollowRequest{Handle: handle, Unfollow: unfollow})
	return s.mapError(err)
}

func (s *GRPCClient) Publish(ctx context.Context, req *adminrpc.PublishRequest) (*adminrpc.PublishResponse, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	resp, err := s.client.Publish(ctx, req)
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

func (s *GRPCClient) Reply(ctx context.Context, req *adminrpc.ReplyRequest) (*adminrpc.PublishResponse, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	resp, err := s.client.Reply(ctx, req)
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

func (s *GRPCClient) Reshare(ctx context.Context, guid string) (*adminrpc.PublishResponse, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	resp, err := s.client.Reshare(ctx, &adminrpc.ReshareRequest{GUID: guid})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

func (s *GRPCClient) UpdateProfile(ctx context.Context, req *adminrpc.ProfileRequest) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	_, err := s.client.UpdateProfile(ctx, req)
	return s.mapError(err)
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.NotFound:
		return ErrNotFound
	case codes.InvalidArgument, codes.AlreadyExists:
		return fmt.Errorf("%w: %s", ErrInvalid, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
