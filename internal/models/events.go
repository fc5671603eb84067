package models

import "time"

// Wire event types exchanged over the persistent connection.
const (
	EventMessage      = "message"
	EventStatus       = "status"
	EventPresence     = "presence"
	EventLastSeen     = "last_seen"
	EventTyping       = "typing"
	EventDelivered    = "message_delivered"
	EventSeen         = "message_seen"
	EventCallInvite   = "call_invite"
	EventCallAccept   = "call_accept"
	EventCallReject   = "call_reject"
	EventCallAnswered = "call_answered"
	EventCallRejected = "call_rejected"
	EventCallMissed   = "call_missed"
	EventError        = "error"
)

// Event is the single envelope marshalled in and out of websockets.
// Only the fields relevant to Type are set.
type Event struct {
	Type string `json:"type"`

	Message    *Message `json:"message,omitempty"`
	MessageID  int      `json:"message_id,omitempty"`
	MessageIDs []int    `json:"message_ids,omitempty"`
	Status     string   `json:"status,omitempty"`

	UserID        int        `json:"user_id,omitempty"`
	Online        *bool      `json:"online,omitempty"`
	OnlineUserIDs []int      `json:"online_user_ids,omitempty"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`

	CallID     string `json:"call_id,omitempty"`
	CallerID   int    `json:"caller_id,omitempty"`
	ReceiverID int    `json:"receiver_id,omitempty"`

	Reason string `json:"reason,omitempty"`
}
