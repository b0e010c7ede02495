package models

import (
	"time"
)

type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	SenderID       uint      `gorm:"not null" json:"sender_id"`
	Content        string    `gorm:"not null" json:"content"`
	CreatedAt      time.Time `gorm:"not null;index:idx_messages_conversation_created,priority:2" json:"created_at"`
	IsDeleted      bool      `gorm:"not null;default:false" json:"is_deleted"`
}

// Before orders messages by created_at, breaking ties by id.
func (message *Message) Before(other *Message) bool {
	if message.CreatedAt.Equal(other.CreatedAt) {
		return message.ID < other.ID
	}
	return message.CreatedAt.Before(other.CreatedAt)
}

type MessageRequest struct {
	Content string `json:"content"`
}
