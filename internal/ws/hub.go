package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chat-core/internal/models"
	"chat-core/internal/observability"
)

// GateChecker filters every outbound broadcast by the blocking relation and,
// for last-seen events, the owner's visibility preference.
type GateChecker interface {
	MayNotify(ctx context.Context, actorID, targetID int) bool
	MaySeeLastSeen(ctx context.Context, viewerID, ownerID int) bool
}

// LastSeenRecorder persists the last-seen timestamp on the user-profile
// collaborator when a user goes offline.
type LastSeenRecorder interface {
	SetLastSeen(ctx context.Context, userID int, lastSeen time.Time) error
}

type client struct {
	conn *websocket.Conn
	info ConnInfo

	// guards writes; gorilla conns allow one concurrent writer.
	writeMu sync.Mutex
}

type deviceKey struct {
	userID   int
	deviceID string
}

// Hub is the connection registry. It owns every live connection for its
// lifetime and is the single fan-out path to sockets. Registry operations
// are in-memory and cannot fail; broadcast side effects are logged and
// swallowed so they never block connect/disconnect handling.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*client
	byUser   map[int]map[string]*client
	byDevice map[deviceKey]string

	gate     GateChecker
	profiles LastSeenRecorder
	logger   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(gate GateChecker, profiles LastSeenRecorder, logger zerolog.Logger) *Hub {
	return &Hub{
		conns:    make(map[string]*client),
		byUser:   make(map[int]map[string]*client),
		byDevice: make(map[deviceKey]string),
		gate:     gate,
		profiles: profiles,
		logger:   logger,
	}
}

// Register records a connection. A prior connection for the same
// (user, device) is forcibly closed first so a device never receives
// duplicate pushes; other devices of the same user are untouched.
func (h *Hub) Register(conn *websocket.Conn, info ConnInfo) {
	var evicted *client

	h.mu.Lock()
	if info.DeviceID != "" {
		key := deviceKey{userID: info.UserID, deviceID: info.DeviceID}
		if oldID, ok := h.byDevice[key]; ok {
			evicted = h.conns[oldID]
			h.removeLocked(oldID)
		}
		h.byDevice[key] = info.ConnID
	}
	c := &client{conn: conn, info: info}
	h.conns[info.ConnID] = c
	if _, ok := h.byUser[info.UserID]; !ok {
		h.byUser[info.UserID] = make(map[string]*client)
	}
	h.byUser[info.UserID][info.ConnID] = c
	online := len(h.byUser)
	h.mu.Unlock()

	if evicted != nil {
		evicted.close()
		// The evicted socket left the registry here, not through
		// Unregister, so its gauge decrement happens here too.
		observability.DecWSActive()
		h.logger.Info().
			Int("user_id", info.UserID).
			Str("device_id", info.DeviceID).
			Str("evicted_conn_id", evicted.info.ConnID).
			Msg("evicted prior connection for device")
		observability.IncWSEvent("ws_evicted")
	}

	observability.IncWSActive()
	observability.SetOnlineUsers(online)
	h.broadcastPresence(info.UserID, true, nil)
}

// Unregister removes the connection. When it was the user's last one, the
// user goes offline: last_seen is recorded on the profile service and a
// gated last-seen event is broadcast. Neither side effect may fail the
// disconnect.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.removeLocked(connID)
	userID := c.info.UserID
	_, stillOnline := h.byUser[userID]
	online := len(h.byUser)
	h.mu.Unlock()

	c.close()
	observability.DecWSActive()
	observability.SetOnlineUsers(online)

	if stillOnline {
		return
	}

	lastSeen := time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if h.profiles != nil {
		if err := h.profiles.SetLastSeen(ctx, userID, lastSeen); err != nil {
			h.logger.Warn().Err(err).Int("user_id", userID).Msg("recording last seen failed")
		}
	}
	h.broadcastPresence(userID, false, &lastSeen)
}

func (h *Hub) removeLocked(connID string) {
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	if userConns, ok := h.byUser[c.info.UserID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(h.byUser, c.info.UserID)
		}
	}
	if c.info.DeviceID != "" {
		key := deviceKey{userID: c.info.UserID, deviceID: c.info.DeviceID}
		if h.byDevice[key] == connID {
			delete(h.byDevice, key)
		}
	}
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// ConnectionsFor returns the connection ids used for fan-out to a user.
func (h *Hub) ConnectionsFor(userID int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := lo.Keys(h.byUser[userID])
	sort.Strings(ids)
	return ids
}

// OnlineUserIDs returns the current roster.
func (h *Hub) OnlineUserIDs() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := lo.Keys(h.byUser)
	sort.Ints(ids)
	return ids
}

// SendToUser delivers the event to every live connection of the user.
// Broken connections are closed and unregistered on the spot.
func (h *Hub) SendToUser(userID int, event models.Event) {
	h.mu.RLock()
	clients := lo.Values(h.byUser[userID])
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event.Type).Msg("event marshal failed")
		return
	}
	for _, c := range clients {
		if err := c.write(payload); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", c.info.ConnID).Msg("websocket write failed")
			observability.IncWSEvent("ws_error")
			h.Unregister(c.info.ConnID)
		}
	}
}

// broadcastPresence tells every connected user that changedUser went online
// or offline. The roster is re-sent in full; clients de-duplicate by
// content. The gate is re-evaluated per recipient, never cached.
func (h *Hub) broadcastPresence(changedUser int, online bool, lastSeen *time.Time) {
	roster := h.OnlineUserIDs()
	recipients := roster
	if !online {
		h.mu.RLock()
		recipients = lo.Keys(h.byUser)
		h.mu.RUnlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, recipient := range recipients {
		if recipient == changedUser {
			continue
		}
		if h.gate != nil && !h.gate.MayNotify(ctx, changedUser, recipient) {
			continue
		}
		h.SendToUser(recipient, models.Event{
			Type:          models.EventPresence,
			UserID:        changedUser,
			Online:        &online,
			OnlineUserIDs: roster,
		})
		if !online && lastSeen != nil && h.gate != nil && h.gate.MaySeeLastSeen(ctx, recipient, changedUser) {
			h.SendToUser(recipient, models.Event{
				Type:     models.EventLastSeen,
				UserID:   changedUser,
				LastSeen: lastSeen,
			})
		}
	}
}

func (c *client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *client) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "replaced by newer connection"),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}
