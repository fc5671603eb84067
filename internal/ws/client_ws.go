package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"chat-core/internal/models"
	"chat-core/internal/observability"
)

// DeliveryService applies delivery and seen acknowledgments.
type DeliveryService interface {
	RecordDelivered(ctx context.Context, actorID, messageID int) (models.Message, error)
	RecordSeen(ctx context.Context, actorID int, messageIDs []int) ([]models.Message, error)
}

// CallService drives call signaling.
type CallService interface {
	Invite(ctx context.Context, callerID, receiverID int) (models.CallSession, error)
	Accept(ctx context.Context, actorID int, callID string) (models.CallSession, error)
	Reject(ctx context.Context, actorID int, callID string) (models.CallSession, error)
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// Handler upgrades websocket connections and runs the inbound event loop.
type Handler struct {
	hub        *Hub
	auth       TokenValidator
	delivery   DeliveryService
	calls      CallService
	gate       GateChecker
	eventRate  rate.Limit
	eventBurst int
	logger     zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, auth TokenValidator, delivery DeliveryService, calls CallService, gate GateChecker, eventRate float64, eventBurst int, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:        hub,
		auth:       auth,
		delivery:   delivery,
		calls:      calls,
		gate:       gate,
		eventRate:  rate.Limit(eventRate),
		eventBurst: eventBurst,
		logger:     logger,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and registers the connection, then reads
// client events until the socket closes.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-core/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.Register(conn, info)

	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.chat", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   wsPayload(info, "ws_connect", 0, ""),
	}, observability.BuildHeaders(requestID, traceID))

	go h.readLoop(context.WithoutCancel(ctx), conn, info)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.Unregister(info.ConnID)
		observability.IncWSEvent("ws_disconnect")
		_ = observability.PublishEvent(ctx, "ws_events.chat", observability.EventEnvelope{
			EventType: "ws_events",
			EventName: "ws_disconnect",
			Payload:   wsPayload(info, "ws_disconnect", time.Since(info.ConnectedAt).Milliseconds(), closeReason),
		}, observability.BuildHeaders(info.RequestID, info.TraceID))
	}()

	limiter := rate.NewLimiter(h.eventRate, h.eventBurst)
	for {
		var event models.Event
		if err := conn.ReadJSON(&event); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		if !limiter.Allow() {
			observability.IncWSEvent("ws_throttled")
			h.sendError(info.UserID, "rate limit exceeded")
			continue
		}
		h.handleEvent(ctx, info, event)
	}
}

// handleEvent routes one inbound event. A rejected event answers the sender
// with an error event; the connection stays up.
func (h *Handler) handleEvent(ctx context.Context, info ConnInfo, event models.Event) {
	observability.IncWSEvent(event.Type)

	switch event.Type {
	case models.EventDelivered:
		for _, messageID := range messageIDs(event) {
			if _, err := h.delivery.RecordDelivered(ctx, info.UserID, messageID); err != nil {
				h.sendError(info.UserID, fmt.Sprintf("delivered ack rejected for message %d", messageID))
			}
		}

	case models.EventSeen:
		if _, err := h.delivery.RecordSeen(ctx, info.UserID, messageIDs(event)); err != nil {
			h.sendError(info.UserID, "seen ack rejected")
		}

	case models.EventTyping:
		if event.ReceiverID == 0 || event.ReceiverID == info.UserID {
			return
		}
		if h.gate != nil && !h.gate.MayNotify(ctx, info.UserID, event.ReceiverID) {
			return
		}
		h.hub.SendToUser(event.ReceiverID, models.Event{
			Type:       models.EventTyping,
			UserID:     info.UserID,
			ReceiverID: event.ReceiverID,
		})

	case models.EventCallInvite:
		session, err := h.calls.Invite(ctx, info.UserID, event.ReceiverID)
		if err != nil {
			h.sendError(info.UserID, "call not allowed")
			return
		}
		// Echo the session id back so the caller can reference the call.
		h.hub.SendToUser(info.UserID, models.Event{
			Type:       models.EventCallInvite,
			CallID:     session.ID,
			CallerID:   session.CallerID,
			ReceiverID: session.ReceiverID,
			Status:     session.Status,
		})

	case models.EventCallAccept:
		if _, err := h.calls.Accept(ctx, info.UserID, event.CallID); err != nil {
			h.sendError(info.UserID, "call accept rejected")
		}

	case models.EventCallReject:
		if _, err := h.calls.Reject(ctx, info.UserID, event.CallID); err != nil {
			h.sendError(info.UserID, "call reject rejected")
		}

	default:
		h.sendError(info.UserID, "unknown event type "+event.Type)
	}
}

func messageIDs(event models.Event) []int {
	if len(event.MessageIDs) > 0 {
		return event.MessageIDs
	}
	if event.MessageID != 0 {
		return []int{event.MessageID}
	}
	return nil
}

func (h *Handler) sendError(userID int, reason string) {
	h.hub.SendToUser(userID, models.Event{Type: models.EventError, Reason: reason})
}

func (h *Handler) validateToken(ctx context.Context, header string) (int, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.auth.ValidateToken(ctx, parts[1])
	}
	return 0, fmt.Errorf("invalid token")
}

func wsPayload(info ConnInfo, event string, durationMS int64, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}
