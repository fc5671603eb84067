package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// SocialClient wraps the social-graph service (friendship and blocking).
type SocialClient struct {
	conn *grpc.ClientConn
}

// NewSocialClient constructs the wrapper.
func NewSocialClient(conn *grpc.ClientConn) *SocialClient {
	return &SocialClient{conn: conn}
}

type pairRequest struct {
	UserID  int64 `json:"user_id"`
	OtherID int64 `json:"other_id"`
}

type boolResponse struct {
	Value bool `json:"value"`
}

// IsBlocked reports whether either side of the pair blocks the other.
func (s *SocialClient) IsBlocked(ctx context.Context, userID, otherID int) (bool, error) {
	in := pairRequest{UserID: int64(userID), OtherID: int64(otherID)}
	var out boolResponse
	if err := s.conn.Invoke(ctx, "/social.SocialGraph/IsBlocked", &in, &out, grpc.CallContentSubtype(CodecName)); err != nil {
		return false, err
	}
	return out.Value, nil
}

// AreFriends verifies friendship between two users.
func (s *SocialClient) AreFriends(ctx context.Context, userID, friendID int) (bool, error) {
	in := pairRequest{UserID: int64(userID), OtherID: int64(friendID)}
	var out boolResponse
	if err := s.conn.Invoke(ctx, "/social.SocialGraph/AreFriends", &in, &out, grpc.CallContentSubtype(CodecName)); err != nil {
		return false, err
	}
	return out.Value, nil
}
