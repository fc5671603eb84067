package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chat-core/internal/delivery"
	"chat-core/internal/models"
	"chat-core/internal/repositories"
	"chat-core/internal/telemetry"
)

type deliveryService interface {
	Send(ctx context.Context, senderID int, req delivery.SendRequest) (models.Message, error)
	Schedule(ctx context.Context, senderID int, req delivery.SendRequest, scheduledFor time.Time) (models.Message, error)
	CancelScheduled(ctx context.Context, senderID, messageID int) error
	MessageStatus(ctx context.Context, actorID, messageID int) (delivery.StatusView, error)
}

// MessageHandler exposes message creation, scheduling and delivery state
// over REST. Acknowledgments travel over the websocket, not here.
type MessageHandler struct {
	delivery deliveryService
	audit    *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(delivery deliveryService, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{delivery: delivery, audit: audit}
}

type sendMessageRequest struct {
	ReceiverID      *int    `json:"receiver_id"`
	GroupID         *int    `json:"group_id"`
	Content         string  `json:"content" binding:"required"`
	ClientMessageID *string `json:"client_message_id"`
}

func (r sendMessageRequest) toSendRequest() delivery.SendRequest {
	return delivery.SendRequest{
		ReceiverID:      r.ReceiverID,
		GroupID:         r.GroupID,
		Content:         r.Content,
		ClientMessageID: r.ClientMessageID,
	}
}

// SendMessage creates and fans out an immediate message.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.delivery.Send(c.Request.Context(), userID, req.toSendRequest())
	if err != nil {
		h.writeDeliveryError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// ScheduleMessage creates a message for later dispatch.
func (h *MessageHandler) ScheduleMessage(c *gin.Context) {
	var req struct {
		sendMessageRequest
		ScheduledFor time.Time `json:"scheduled_for" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.delivery.Schedule(c.Request.Context(), userID, req.toSendRequest(), req.ScheduledFor)
	if err != nil {
		h.writeDeliveryError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// CancelScheduled cancels a scheduled message. A message the dispatcher has
// already claimed answers 409: the cancellation lost the race.
func (h *MessageHandler) CancelScheduled(c *gin.Context) {
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	userID := c.GetInt("userID")
	if err := h.delivery.CancelScheduled(c.Request.Context(), userID, messageID); err != nil {
		switch {
		case errors.Is(err, repositories.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		case errors.Is(err, repositories.ErrAlreadyDispatched):
			c.JSON(http.StatusConflict, gin.H{"error": "message already dispatched"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not cancel message"})
		}
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", "scheduled message cancelled", requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusOK, gin.H{"status": models.StatusCancelled})
}

// MessageStatus returns the delivery state of one message, including group
// receipts, to the sender, the receiver or a group member.
func (h *MessageHandler) MessageStatus(c *gin.Context) {
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	userID := c.GetInt("userID")
	view, err := h.delivery.MessageStatus(c.Request.Context(), userID, messageID)
	if err != nil {
		h.writeDeliveryError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *MessageHandler) writeDeliveryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, delivery.ErrInvalidRecipient),
		errors.Is(err, delivery.ErrEmptyContent),
		errors.Is(err, delivery.ErrScheduleInPast):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, delivery.ErrNotAuthorized),
		errors.Is(err, delivery.ErrBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, delivery.ErrGroupInactive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrGroupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
