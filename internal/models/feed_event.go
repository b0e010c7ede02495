package models

import (
	"encoding/json"
	"time"
)

// FeedEvent is the envelope published on the change feed. Payload is one of
// Message, Participant, TypingUser or ConversationMerge depending on Event.
type FeedEvent struct {
	Event          string          `json:"event"`
	ConversationID uint            `json:"conversation_id"`
	UserID         uint            `json:"user_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	PublishedAt    time.Time       `json:"published_at"`
}

func NewFeedEvent(event string, conversationID, userID uint, payload any, at time.Time) (FeedEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return FeedEvent{}, err
	}
	return FeedEvent{
		Event:          event,
		ConversationID: conversationID,
		UserID:         userID,
		Payload:        raw,
		PublishedAt:    at,
	}, nil
}

func (event *FeedEvent) Decode(target any) error {
	return json.Unmarshal(event.Payload, target)
}

// FeedDelivery is what a subscription hands to its consumer: either a status
// transition (live, disconnected) or an event.
type FeedDelivery struct {
	Status string     `json:"status"`
	Topic  string     `json:"topic"`
	Event  *FeedEvent `json:"event,omitempty"`
}

type ConversationMerge struct {
	FromID uint `json:"from_id"`
	IntoID uint `json:"into_id"`
}
