// Package client talks to the node admin gRPC service on behalf of the CLI.
//
// GRPCClient manages the connection, injects the access token through a
// unary interceptor and keeps the token in a session directory so that
// separate CLI invocations share one login. The token is dropped as soon as
// the server reports it expired or invalid; the unlocked key it stood for
// lives only in the server's memory, so there is nothing to refresh.
//
// gRPC status codes are mapped to the sentinel errors ErrUnauthorized,
// ErrUnavailable, ErrNotFound and ErrInvalid, which callers match with
// errors.Is.
package client
