package models

import "time"

// Participant is a user's membership in a conversation. LastReadAt only moves forward.
type Participant struct {
	ConversationID uint       `gorm:"primaryKey;autoIncrement:false" json:"conversation_id"`
	UserID         uint       `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	LastReadAt     *time.Time `json:"last_read_at"`
	JoinedAt       time.Time  `gorm:"autoCreateTime" json:"joined_at"`
}

// HasRead reports whether the participant's read cursor covers the given instant.
func (participant *Participant) HasRead(at time.Time) bool {
	return participant.LastReadAt != nil && !participant.LastReadAt.Before(at)
}
