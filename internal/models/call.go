package models

import "time"

// Call session status values. A session leaves "ringing" exactly once.
const (
	CallRinging  = "ringing"
	CallAnswered = "answered"
	CallRejected = "rejected"
	CallMissed   = "missed"
)

// CallSession represents one call invitation between two users.
type CallSession struct {
	ID         string     `db:"id" json:"id"`
	CallerID   int        `db:"caller_id" json:"caller_id"`
	ReceiverID int        `db:"receiver_id" json:"receiver_id"`
	Status     string     `db:"status" json:"status"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	EndedAt    *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}
