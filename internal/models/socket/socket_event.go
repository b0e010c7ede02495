package models

import (
	"encoding/json"
	"time"
)

type SocketEvent struct {
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	ConversationID uint            `json:"conversation_id"`
}

type WatchPayload struct {
	ConversationID uint `json:"conversation_id"`
}

type SendMessagePayload struct {
	Content string `json:"content"`
}

type SeenMessagePayload struct {
	At *time.Time `json:"at"`
}

type IsTypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

type DeleteMessagePayload struct {
	MessageID uint `json:"message_id"`
}

type ErrorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ServerEvent is what a session pushes to its client.
type ServerEvent struct {
	ID             string    `json:"id"`
	Event          string    `json:"event"`
	ConversationID uint      `json:"conversation_id,omitempty"`
	Payload        any       `json:"payload,omitempty"`
	At             time.Time `json:"at"`
}

type ResyncedPayload struct {
	Feed string `json:"feed"`
}

type UnreadCountPayload struct {
	Unread int64 `json:"unread"`
}

// ConversationGonePayload tells the client a watched conversation was deleted
// or merged; IntoID is set for merges.
type ConversationGonePayload struct {
	Reason string `json:"reason"`
	IntoID uint   `json:"into_id,omitempty"`
}
