package models

import (
	"encoding/json"
	"time"
)

// Outbound websocket event types.
const (
	EventNewMessage   = "new_message"
	EventMessageSent  = "message_sent"
	EventMessagesRead = "messages_read"
	EventUserStatus   = "user_status"
	EventError        = "error"
	EventPong         = "pong"
	EventAuthOK       = "auth_ok"
)

// Signaling kinds relayed between peers.
const (
	SignalCallOffer    = "call_offer"
	SignalCallAnswer   = "call_answer"
	SignalICECandidate = "ice_candidate"
	SignalCallEnd      = "call_end"
)

// IsSignalKind reports whether kind is a relayable signaling kind.
func IsSignalKind(kind string) bool {
	switch kind {
	case SignalCallOffer, SignalCallAnswer, SignalICECandidate, SignalCallEnd:
		return true
	}
	return false
}

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// MessageEvent carries new_message and message_sent.
type MessageEvent struct {
	Type           string    `json:"type"`
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	ReceiverID     int64     `json:"receiver_id"`
	MessageType    string    `json:"message_type"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	Delivered      bool      `json:"delivered"`
}

// NewMessageEvent builds an event of the given type from a stored message.
func NewMessageEvent(eventType string, msg Message, receiverID int64) MessageEvent {
	return MessageEvent{
		Type:           eventType,
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     receiverID,
		MessageType:    msg.Type,
		Message:        msg.Content,
		Timestamp:      msg.CreatedAt,
		Delivered:      msg.Delivered,
	}
}

// StatusEvent is the user_status presence event. LastSeen is set only when offline.
type StatusEvent struct {
	Type     string     `json:"type"`
	UserID   int64      `json:"user_id"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen"`
}

// ReadEvent tells a sender which of their messages were read.
type ReadEvent struct {
	Type           string  `json:"type"`
	ConversationID int64   `json:"conversation_id"`
	ReaderID       int64   `json:"reader_id"`
	MessageIDs     []int64 `json:"message_ids"`
}

// SignalEvent forwards an opaque call-signaling payload.
type SignalEvent struct {
	Type       string          `json:"type"`
	SenderID   int64           `json:"sender_id"`
	ReceiverID int64           `json:"receiver_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ErrorEvent is sent to the offending connection only.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckEvent answers authenticate and ping frames.
type AckEvent struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id,omitempty"`
}
