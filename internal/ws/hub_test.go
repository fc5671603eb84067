package ws

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-core/internal/mocks"
	"chat-core/internal/observability"
)

func newTestHub() (*Hub, *mocks.GateMock, *mocks.ProfileDirectoryMock) {
	gate := new(mocks.GateMock)
	profiles := new(mocks.ProfileDirectoryMock)
	return NewHub(gate, profiles, zerolog.Nop()), gate, profiles
}

func register(h *Hub, connID string, userID int, deviceID string) {
	h.Register(nil, ConnInfo{ConnID: connID, UserID: userID, DeviceID: deviceID, ConnectedAt: time.Now()})
}

func TestRegisterSameDeviceEvicts(t *testing.T) {
	h, gate, _ := newTestHub()
	gate.On("MayNotify", mock.Anything, mock.Anything, mock.Anything).Return(true).Maybe()

	register(h, "c1", 1, "phone")
	register(h, "c2", 1, "phone")

	// The newer connection replaced the older one for the same device.
	assert.Equal(t, []string{"c2"}, h.ConnectionsFor(1))
	assert.True(t, h.IsOnline(1))
}

func TestEvictionBalancesActiveGauge(t *testing.T) {
	h, gate, profiles := newTestHub()
	gate.On("MayNotify", mock.Anything, mock.Anything, mock.Anything).Return(true).Maybe()
	gate.On("MaySeeLastSeen", mock.Anything, mock.Anything, mock.Anything).Return(true).Maybe()
	profiles.On("SetLastSeen", mock.Anything, 1, mock.Anything).Return(nil).Maybe()

	before := observability.WSActiveConnections()

	// A same-device reconnect evicts c1 outside the Unregister path, so the
	// eviction itself must account for the gauge.
	register(h, "c1", 1, "phone")
	register(h, "c2", 1, "phone")
	h.Unregister("c1")
	h.Unregister("c2")

	assert.Equal(t, before, observability.WSActiveConnections())
}

func TestRegisterOtherDeviceCoexists(t *testing.T) {
	h, gate, _ := newTestHub()
	gate.On("MayNotify", mock.Anything, mock.Anything, mock.Anything).Return(true).Maybe()

	register(h, "c1", 1, "phone")
	register(h, "c2", 1, "laptop")
	register(h, "c3", 1, "phone")

	assert.ElementsMatch(t, []string{"c2", "c3"}, h.ConnectionsFor(1))
}

func TestUnregisterLastConnectionGoesOffline(t *testing.T) {
	h, gate, profiles := newTestHub()
	gate.On("MayNotify", mock.Anything, mock.Anything, mock.Anything).Return(true).Maybe()
	gate.On("MaySeeLastSeen", mock.Anything, mock.Anything, mock.Anything).Return(true).Maybe()
	profiles.On("SetLastSeen", mock.Anything, 1, mock.Anything).Return(nil).Once()

	register(h, "c1", 1, "phone")
	register(h, "c2", 1, "laptop")

	h.Unregister("c1")
	assert.True(t, h.IsOnline(1), "one connection left, still online")
	profiles.AssertNotCalled(t, "SetLastSeen", mock.Anything, 1, mock.Anything)

	h.Unregister("c2")
	assert.False(t, h.IsOnline(1))
	profiles.AssertExpectations(t)
}

func TestUnregisterUnknownConnIsNoop(t *testing.T) {
	h, _, profiles := newTestHub()

	h.Unregister("nope")
	profiles.AssertNotCalled(t, "SetLastSeen", mock.Anything, mock.Anything, mock.Anything)
}

func TestOnlineUserIDsSorted(t *testing.T) {
	h, gate, _ := newTestHub()
	gate.On("MayNotify", mock.Anything, mock.Anything, mock.Anything).Return(true).Maybe()

	register(h, "c1", 3, "a")
	register(h, "c2", 1, "a")
	register(h, "c3", 2, "a")

	assert.Equal(t, []int{1, 2, 3}, h.OnlineUserIDs())
}

func TestPresenceBroadcastGated(t *testing.T) {
	h, gate, _ := newTestHub()

	// User 1 comes online first with nobody to tell.
	register(h, "c1", 1, "a")

	// When user 2 comes online the gate decides whether user 1 hears it.
	gate.On("MayNotify", mock.Anything, 2, 1).Return(false).Once()
	register(h, "c2", 2, "a")

	gate.AssertExpectations(t)
}

func TestOfflineBroadcastChecksLastSeenVisibility(t *testing.T) {
	h, gate, profiles := newTestHub()
	gate.On("MayNotify", mock.Anything, mock.Anything, mock.Anything).Return(true)
	profiles.On("SetLastSeen", mock.Anything, 2, mock.Anything).Return(nil).Once()

	register(h, "c1", 1, "a")
	register(h, "c2", 2, "a")

	// User 2 goes offline; user 1 may see the roster change but the
	// last-seen event is gated separately by the owner's preference.
	gate.On("MaySeeLastSeen", mock.Anything, 1, 2).Return(false).Once()
	h.Unregister("c2")

	gate.AssertExpectations(t)
	profiles.AssertExpectations(t)
}
