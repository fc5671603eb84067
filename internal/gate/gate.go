package gate

import (
	"context"

	"github.com/rs/zerolog"

	grpcclient "chat-core/internal/grpc"
)

// SocialGraph is the blocking/friendship collaborator surface the gate needs.
type SocialGraph interface {
	IsBlocked(ctx context.Context, userID, otherID int) (bool, error)
	AreFriends(ctx context.Context, userID, otherID int) (bool, error)
}

// ProfileDirectory reads user preferences from the user-profile collaborator.
type ProfileDirectory interface {
	GetProfile(ctx context.Context, userID int) (grpcclient.Profile, error)
}

// Gate is the block-aware fan-out filter. It is consulted before every
// presence broadcast, typing indicator, receipt, call invite and scheduled
// dispatch, and is never cached: block state can change between schedule
// time and dispatch time.
type Gate struct {
	social   SocialGraph
	profiles ProfileDirectory
	logger   zerolog.Logger
}

// New constructs a Gate.
func New(social SocialGraph, profiles ProfileDirectory, logger zerolog.Logger) *Gate {
	return &Gate{social: social, profiles: profiles, logger: logger}
}

// MayNotify reports whether an event caused by actor may reach target.
// Lookup failures deny: delivering across a block is worse than a dropped
// broadcast, and droppable broadcasts are re-derivable by the client.
func (g *Gate) MayNotify(ctx context.Context, actorID, targetID int) bool {
	if actorID == targetID {
		return true
	}
	blocked, err := g.social.IsBlocked(ctx, actorID, targetID)
	if err != nil {
		g.logger.Warn().Err(err).Int("actor_id", actorID).Int("target_id", targetID).Msg("block lookup failed, suppressing notification")
		return false
	}
	return !blocked
}

// MaySeeLastSeen applies the owner's last-seen visibility preference on top
// of the blocking relation.
func (g *Gate) MaySeeLastSeen(ctx context.Context, viewerID, ownerID int) bool {
	if viewerID == ownerID {
		return true
	}
	if !g.MayNotify(ctx, ownerID, viewerID) {
		return false
	}

	profile, err := g.profiles.GetProfile(ctx, ownerID)
	if err != nil {
		g.logger.Warn().Err(err).Int("owner_id", ownerID).Msg("profile lookup failed, hiding last seen")
		return false
	}
	switch profile.LastSeenVisibility {
	case grpcclient.VisibilityEveryone:
		return true
	case grpcclient.VisibilityContacts:
		friends, err := g.social.AreFriends(ctx, viewerID, ownerID)
		if err != nil {
			g.logger.Warn().Err(err).Int("viewer_id", viewerID).Int("owner_id", ownerID).Msg("friendship lookup failed, hiding last seen")
			return false
		}
		return friends
	default:
		return false
	}
}
