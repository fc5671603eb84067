package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chat-core/internal/models"
)

func TestCanAdvance(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.StatusScheduled, models.StatusSent, true},
		{models.StatusScheduled, models.StatusCancelled, true},
		{models.StatusScheduled, models.StatusDelivered, false},
		{models.StatusScheduled, models.StatusSeen, false},
		{models.StatusSent, models.StatusDelivered, true},
		{models.StatusSent, models.StatusSeen, true},
		{models.StatusSent, models.StatusCancelled, false},
		{models.StatusSent, models.StatusScheduled, false},
		{models.StatusDelivered, models.StatusSeen, true},
		{models.StatusDelivered, models.StatusSent, false},
		{models.StatusDelivered, models.StatusCancelled, false},
		{models.StatusSeen, models.StatusDelivered, false},
		{models.StatusSeen, models.StatusSeen, false},
		{models.StatusCancelled, models.StatusSent, false},
		{models.StatusCancelled, models.StatusSeen, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanAdvance(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func stamp() *time.Time {
	ts := time.Now().UTC()
	return &ts
}

func TestRollupNoOtherMembers(t *testing.T) {
	assert.Equal(t, models.StatusSent, Rollup([]int{1}, 1, nil))
	assert.Equal(t, models.StatusSent, Rollup(nil, 1, nil))
}

func TestRollupAllSeen(t *testing.T) {
	receipts := []models.Receipt{
		{MessageID: 5, MemberID: 2, DeliveredAt: stamp(), SeenAt: stamp()},
		{MessageID: 5, MemberID: 3, DeliveredAt: stamp(), SeenAt: stamp()},
	}
	assert.Equal(t, models.StatusSeen, Rollup([]int{1, 2, 3}, 1, receipts))
}

func TestRollupSeenImpliesDelivered(t *testing.T) {
	// A receipt stamped seen without an explicit delivered stamp still
	// counts as delivered.
	receipts := []models.Receipt{
		{MessageID: 5, MemberID: 2, SeenAt: stamp()},
		{MessageID: 5, MemberID: 3, DeliveredAt: stamp()},
	}
	assert.Equal(t, models.StatusDelivered, Rollup([]int{1, 2, 3}, 1, receipts))
}

func TestRollupPartialAckStaysDelivered(t *testing.T) {
	receipts := []models.Receipt{
		{MessageID: 5, MemberID: 2, DeliveredAt: stamp(), SeenAt: stamp()},
		{MessageID: 5, MemberID: 3, DeliveredAt: stamp(), SeenAt: stamp()},
		{MessageID: 5, MemberID: 4, DeliveredAt: stamp()},
	}
	assert.Equal(t, models.StatusDelivered, Rollup([]int{1, 2, 3, 4}, 1, receipts))
}

func TestRollupUnackedMemberHoldsSent(t *testing.T) {
	receipts := []models.Receipt{
		{MessageID: 5, MemberID: 2, DeliveredAt: stamp(), SeenAt: stamp()},
	}
	assert.Equal(t, models.StatusSent, Rollup([]int{1, 2, 3}, 1, receipts))
}

func TestRollupMemberRemovalUnblocks(t *testing.T) {
	// Member 4 never acknowledged but left the group; the fresh membership
	// snapshot no longer includes them, so the roll-up advances.
	receipts := []models.Receipt{
		{MessageID: 5, MemberID: 2, DeliveredAt: stamp(), SeenAt: stamp()},
		{MessageID: 5, MemberID: 3, DeliveredAt: stamp(), SeenAt: stamp()},
	}
	assert.Equal(t, models.StatusSeen, Rollup([]int{1, 2, 3}, 1, receipts))
}
