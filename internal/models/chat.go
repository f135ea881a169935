package models

import "time"

// Conversation binds exactly two users. User1ID is always the smaller id.
type Conversation struct {
	ID        int64     `db:"id" json:"id"`
	User1ID   int64     `db:"user1_id" json:"user1_id"`
	User2ID   int64     `db:"user2_id" json:"user2_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Peer returns the participant that is not userID.
func (c Conversation) Peer(userID int64) int64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// Has reports whether userID participates in the conversation.
func (c Conversation) Has(userID int64) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// ContactSummary is the per-user view of a conversation.
type ContactSummary struct {
	ConversationID int64      `db:"conversation_id" json:"id"`
	ContactID      int64      `db:"contact_id" json:"contact_id"`
	Username       string     `db:"username" json:"username"`
	FullName       string     `db:"full_name" json:"full_name,omitempty"`
	LastSeen       *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	UnreadCount    int        `db:"unread_count" json:"unread_count"`
	Online         bool       `db:"-" json:"online"`
}
