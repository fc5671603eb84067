package delivery

import (
	"github.com/samber/lo"

	"chat-core/internal/models"
)

// rank orders the forward path sent -> delivered -> seen.
var rank = map[string]int{
	models.StatusSent:      1,
	models.StatusDelivered: 2,
	models.StatusSeen:      3,
}

// CanAdvance reports whether a message may move between the two statuses.
// The machine only moves forward: cancelled is reachable from scheduled
// alone, scheduled leaves only via sent or cancelled, and seen may be
// reached directly from sent because seen implies delivered.
func CanAdvance(from, to string) bool {
	if from == to {
		return false
	}
	switch from {
	case models.StatusScheduled:
		return to == models.StatusSent || to == models.StatusCancelled
	case models.StatusCancelled, models.StatusSeen:
		return false
	}
	fromRank, ok := rank[from]
	toRank, ok2 := rank[to]
	return ok && ok2 && toRank > fromRank
}

// Rollup computes a group message's top-level status from its per-member
// receipts: the minimum progress across the active members other than the
// sender. With no such members the message stays sent.
func Rollup(activeMemberIDs []int, senderID int, receipts []models.Receipt) string {
	members := lo.Without(activeMemberIDs, senderID)
	if len(members) == 0 {
		return models.StatusSent
	}

	byMember := lo.KeyBy(receipts, func(r models.Receipt) int { return r.MemberID })
	allSeen := true
	allDelivered := true
	for _, memberID := range members {
		receipt, ok := byMember[memberID]
		if !ok {
			return models.StatusSent
		}
		if receipt.SeenAt == nil {
			allSeen = false
			if receipt.DeliveredAt == nil {
				allDelivered = false
			}
		}
	}

	switch {
	case allSeen:
		return models.StatusSeen
	case allDelivered:
		return models.StatusDelivered
	default:
		return models.StatusSent
	}
}
