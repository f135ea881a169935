package models

import "time"

// User is the subset of the user record this service reads.
type User struct {
	ID        int64      `db:"id" json:"id"`
	Username  string     `db:"username" json:"username"`
	FullName  string     `db:"full_name" json:"full_name,omitempty"`
	LastSeen  *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Call log statuses.
const (
	CallStatusMissed   = "missed"
	CallStatusAccepted = "accepted"
	CallStatusRejected = "rejected"
)

// ValidCallStatus reports whether s is a known call status.
func ValidCallStatus(s string) bool {
	return s == CallStatusMissed || s == CallStatusAccepted || s == CallStatusRejected
}

// CallLog records a call attempt between two users.
type CallLog struct {
	ID         int64      `db:"id" json:"id"`
	CallerID   int64      `db:"caller_id" json:"caller_id"`
	ReceiverID int64      `db:"receiver_id" json:"receiver_id"`
	Status     string     `db:"status" json:"status"`
	StartTime  time.Time  `db:"start_time" json:"start_time"`
	EndTime    *time.Time `db:"end_time" json:"end_time,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
