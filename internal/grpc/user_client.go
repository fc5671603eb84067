package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
)

// Last-seen visibility preferences stored by the user-profile service.
const (
	VisibilityEveryone = "everyone"
	VisibilityContacts = "contacts"
	VisibilityNobody   = "nobody"
)

// Profile is the subset of the user-profile record this core consumes.
type Profile struct {
	ID                 int64      `json:"id"`
	Username           string     `json:"username"`
	Language           string     `json:"language"`
	LastSeenVisibility string     `json:"last_seen_visibility"`
	LastSeen           *time.Time `json:"last_seen"`
}

// UserClient wraps the user-profile service RPC surface.
type UserClient struct {
	conn *grpc.ClientConn
}

// NewUserClient constructs the wrapper.
func NewUserClient(conn *grpc.ClientConn) *UserClient {
	return &UserClient{conn: conn}
}

type getProfileRequest struct {
	UserID int64 `json:"user_id"`
}

// GetProfile retrieves a user's profile and preferences.
func (u *UserClient) GetProfile(ctx context.Context, userID int) (Profile, error) {
	in := getProfileRequest{UserID: int64(userID)}
	var out Profile
	if err := u.conn.Invoke(ctx, "/user.UserInternal/GetProfile", &in, &out, grpc.CallContentSubtype(CodecName)); err != nil {
		return Profile{}, err
	}
	if out.ID == 0 {
		return Profile{}, errors.New("user not found")
	}
	return out, nil
}

type setLastSeenRequest struct {
	UserID   int64     `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

type setLastSeenResponse struct {
	OK bool `json:"ok"`
}

// SetLastSeen records the user's last-seen timestamp on the profile service.
func (u *UserClient) SetLastSeen(ctx context.Context, userID int, lastSeen time.Time) error {
	in := setLastSeenRequest{UserID: int64(userID), LastSeen: lastSeen}
	var out setLastSeenResponse
	return u.conn.Invoke(ctx, "/user.UserInternal/SetLastSeen", &in, &out, grpc.CallContentSubtype(CodecName))
}

// GetLastSeen reads the user's recorded last-seen timestamp.
func (u *UserClient) GetLastSeen(ctx context.Context, userID int) (*time.Time, error) {
	profile, err := u.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profile.LastSeen, nil
}
