package ws

import "time"

// ConnInfo identifies one live connection: one transport session for one
// device of one user.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
