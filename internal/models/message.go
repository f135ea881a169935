package models

import "time"

// Message types accepted by the router.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeAudio = "audio"
)

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio:
		return true
	}
	return false
}

// Message is a direct message. Only Delivered and Read change after insert, false to true.
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	SenderID       int64     `db:"sender_id" json:"sender_id"`
	Type           string    `db:"type" json:"type"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	Delivered      bool      `db:"delivered" json:"delivered"`
	Read           bool      `db:"read" json:"read"`
}
