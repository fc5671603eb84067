package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
)

// AuthClient wraps the auth-service RPC surface.
type AuthClient struct {
	conn *grpc.ClientConn
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn *grpc.ClientConn) *AuthClient {
	return &AuthClient{conn: conn}
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

type validateTokenResponse struct {
	Valid  bool  `json:"valid"`
	UserID int64 `json:"user_id"`
}

// ValidateToken verifies the JWT and returns the authenticated user id.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (int, error) {
	in := validateTokenRequest{Token: token}
	var out validateTokenResponse
	if err := a.conn.Invoke(ctx, "/auth.AuthService/ValidateToken", &in, &out, grpc.CallContentSubtype(CodecName)); err != nil {
		return 0, err
	}
	if !out.Valid || out.UserID == 0 {
		return 0, errors.New("invalid token")
	}
	return int(out.UserID), nil
}
