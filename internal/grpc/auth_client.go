package grpc

import (
	"context"
	"errors"

	grpclib "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// validateTokenMethod takes a google.protobuf.StringValue token and answers with a
// google.protobuf.Int64Value user id; zero means the token was rejected.
const validateTokenMethod = "/auth.AuthService/ValidateToken"

var ErrInvalidToken = errors.New("invalid token")

// AuthClient wraps the auth-service gRPC connection.
type AuthClient struct {
	conn grpclib.ClientConnInterface
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn grpclib.ClientConnInterface) *AuthClient {
	return &AuthClient{conn: conn}
}

// ValidateToken verifies the token and returns the authenticated user id.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	resp := &wrapperspb.Int64Value{}
	if err := a.conn.Invoke(ctx, validateTokenMethod, wrapperspb.String(token), resp); err != nil {
		return 0, err
	}
	if resp.GetValue() <= 0 {
		return 0, ErrInvalidToken
	}
	return resp.GetValue(), nil
}
