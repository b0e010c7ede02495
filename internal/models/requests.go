package models

import "time"

type CreateConversationRequestBody struct {
	FamilyID       uint    `json:"family_id"`
	Kind           string  `json:"kind"`
	ParticipantIDs []uint  `json:"participant_ids"`
	Name           *string `json:"name"`
}

type FamilyConversationRequestBody struct {
	FamilyID uint `json:"family_id"`
}

type DirectConversationRequestBody struct {
	FamilyID uint `json:"family_id"`
	UserID   uint `json:"user_id"`
}

type AddParticipantRequestBody struct {
	UserID uint `json:"user_id"`
}

type MarkReadRequestBody struct {
	At *time.Time `json:"at"`
}

type TypingRequestBody struct {
	IsTyping bool `json:"is_typing"`
}

type ConversationIDResponse struct {
	ConversationID uint `json:"conversation_id"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
