package models

import "time"

type ParticipantResponse struct {
	UserID     uint       `json:"user_id"`
	Name       string     `json:"name"`
	AvatarURL  string     `json:"avatar_url"`
	LastReadAt *time.Time `json:"last_read_at"`
}

type LastMessagePreview struct {
	MessageID  uint      `json:"message_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	SenderID   uint      `json:"sender_id"`
	SenderName string    `json:"sender_name"`
}

type ConversationListItem struct {
	ID              uint                  `json:"id"`
	Kind            string                `json:"kind"`
	Name            *string               `json:"name"`
	IsFamilyChannel bool                  `json:"is_family_channel"`
	Participants    []ParticipantResponse `json:"participants"`
	LastMessage     *LastMessagePreview   `json:"last_message"`
	UnreadCount     int64                 `json:"unread_count"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// LastActivity is the most recent message time, falling back to the conversation update time.
func (item *ConversationListItem) LastActivity() time.Time {
	if item.LastMessage != nil && item.LastMessage.CreatedAt.After(item.UpdatedAt) {
		return item.LastMessage.CreatedAt
	}
	return item.UpdatedAt
}

type ConversationListResponse struct {
	Conversations []ConversationListItem `json:"conversations"`
	UnreadTotal   int64                  `json:"unread_total"`
}

type MessageListResponse struct {
	ConversationID uint      `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

type ReadersResponse struct {
	MessageID uint                  `json:"message_id"`
	Readers   []ParticipantResponse `json:"readers"`
}

type UnreadCountResponse struct {
	UserID uint  `json:"user_id"`
	Unread int64 `json:"unread"`
}
