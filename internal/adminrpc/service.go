// Package adminrpc defines the node's admin service: request and response
// types, the JSON wire codec and the gRPC service description shared by
// the server and the CLI client.
package adminrpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	ServiceName = "fedinode.admin.AdminService"
	CodecName   = "json"
)

// Full method names, as seen by interceptors.
const (
	MethodPing          = "/" + ServiceName + "/Ping"
	MethodSignup        = "/" + ServiceName + "/Signup"
	MethodLogin         = "/" + ServiceName + "/Login"
	MethodLogout        = "/" + ServiceName + "/Logout"
	MethodQueueStatus   = "/" + ServiceName + "/QueueStatus"
	MethodQueueRun      = "/" + ServiceName + "/QueueRun"
	MethodQueueClear    = "/" + ServiceName + "/QueueClear"
	MethodQueueDiscard  = "/" + ServiceName + "/QueueDiscard"
	MethodFollow        = "/" + ServiceName + "/Follow"
	MethodPublish       = "/" + ServiceName + "/Publish"
	MethodReply         = "/" + ServiceName + "/Reply"
	MethodReshare       = "/" + ServiceName + "/Reshare"
	MethodUpdateProfile = "/" + ServiceName + "/UpdateProfile"
	MethodDeleteAccount = "/" + ServiceName + "/DeleteAccount"
)

// Codec marshals messages as JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}

// AdminServer is implemented by the node.
type AdminServer interface {
	Ping(context.Context, *Empty) (*PingResponse, error)
	Signup(context.Context, *SignupRequest) (*SignupResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *Empty) (*Empty, error)
	QueueStatus(context.Context, *QueueStatusRequest) (*QueueStatusResponse, error)
	QueueRun(context.Context, *QueueRunRequest) (*QueueRunResponse, error)
	QueueClear(context.Context, *QueueItemRequest) (*Empty, error)
	QueueDiscard(context.Context, *QueueItemRequest) (*Empty, error)
	Follow(context.Context, *FollowRequest) (*Empty, error)
	Publish(context.Context, *PublishRequest) (*PublishResponse, error)
	Reply(context.Context, *ReplyRequest) (*PublishResponse, error)
	Reshare(context.Context, *ReshareRequest) (*PublishResponse, error)
	UpdateProfile(context.Context, *ProfileRequest) (*Empty, error)
	DeleteAccount(context.Context, *Empty) (*Empty, error)
}

func unary[Req, Resp any](name string, call func(AdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", AdminServer.Ping),
		unary("Signup", AdminServer.Signup),
		unary("Login", AdminServer.Login),
		unary("Logout", AdminServer.Logout),
		unary("QueueStatus", AdminServer.QueueStatus),
		unary("QueueRun", AdminServer.QueueRun),
		unary("QueueClear", AdminServer.QueueClear),
		unary("QueueDiscard", AdminServer.QueueDiscard),
		unary("Follow", AdminServer.Follow),
		unary("Publish", AdminServer.Publish),
		unary("Reply", AdminServer.Reply),
		unary("Reshare", AdminServer.Reshare),
		unary("UpdateProfile", AdminServer.UpdateProfile),
		unary("DeleteAccount", AdminServer.DeleteAccount),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adminrpc",
}

func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the admin service over cc.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, MethodPing, in, opts)
}

func (c *Client) Signup(ctx context.Context, in *SignupRequest, opts ...grpc.CallOption) (*SignupResponse, error) {
	return invoke[SignupResponse](ctx, c.cc, MethodSignup, in, opts)
}

func (c *Client) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, MethodLogin, in, opts)
}

func (c *Client) Logout(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodLogout, in, opts)
}

func (c *Client) QueueStatus(ctx context.Context, in *QueueStatusRequest, opts ...grpc.CallOption) (*QueueStatusResponse, error) {
	return invoke[QueueStatusResponse](ctx, c.cc, MethodQueueStatus, in, opts)
}

func (c *Client) QueueRun(ctx context.Context, in *QueueRunRequest, opts ...grpc.CallOption) (*QueueRunResponse, error) {
	return invoke[QueueRunResponse](ctx, c.cc, MethodQueueRun, in, opts)
}

func (c *Client) QueueClear(ctx context.Context, in *QueueItemRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodQueueClear, in, opts)
}

func (c *Client) QueueDiscard(ctx context.Context, in *QueueItemRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodQueueDiscard, in, opts)
}

func (c *Client) Follow(ctx context.Context, in *FollowRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodFollow, in, opts)
}

func (c *Client) Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*PublishResponse, error) {
	return invoke[PublishResponse](ctx, c.cc, MethodPublish, in, opts)
}

func (c *Client) Reply(ctx context.Context, in *ReplyRequest, opts ...grpc.CallOption) (*PublishResponse, error) {
	return invoke[PublishResponse](ctx, c.cc, MethodReply, in, opts)
}

func (c *Client) Reshare(ctx context.Context, in *ReshareRequest, opts ...grpc.CallOption) (*PublishResponse, error) {
	return invoke[PublishResponse](ctx, c.cc, MethodReshare, in, opts)
}

func (c *Client) UpdateProfile(ctx context.Context, in *ProfileRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodUpdateProfile, in, opts)
}

func (c *Client) DeleteAccount(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodDeleteAccount, in, opts)
}
