package models

import (
	"time"

	"carechat/internal/enums"
)

type Conversation struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	FamilyID     uint          `gorm:"not null;index:idx_conversations_family_kind,priority:1" json:"family_id"`
	Kind         string        `gorm:"not null;index:idx_conversations_family_kind,priority:2" json:"kind"`
	Name         *string       `json:"name"`
	CreatedBy    uint          `gorm:"not null" json:"created_by"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Participants []Participant `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"participants,omitempty"`
}

func (conversation *Conversation) IsDirect() bool {
	return conversation.Kind == enums.CONVERSATION_KIND_DIRECT
}

// IsFamilyChannel reports whether the conversation is the reserved family-wide group.
func (conversation *Conversation) IsFamilyChannel(reservedName string) bool {
	return conversation.Kind == enums.CONVERSATION_KIND_GROUP &&
		conversation.Name != nil &&
		*conversation.Name == reservedName
}

func (conversation *Conversation) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(conversation.Participants))
	for _, participant := range conversation.Participants {
		ids = append(ids, participant.UserID)
	}
	return ids
}

func (conversation *Conversation) HasParticipant(userID uint) bool {
	for _, participant := range conversation.Participants {
		if participant.UserID == userID {
			return true
		}
	}
	return false
}
