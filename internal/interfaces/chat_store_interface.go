package interfaces

import (
	"context"
	"time"

	"carechat/internal/models"
)

// ConversationStore persists conversation rows. Implementations assign ids and
// timestamps; ids are monotonically increasing.
type ConversationStore interface {
	// InsertConversation stores the row together with conversation.Participants
	// atomically, so readers never see a half-built conversation.
	InsertConversation(ctx context.Context, conversation *models.Conversation) error
	GetConversation(ctx context.Context, conversationID uint) (*models.Conversation, error)
	// FindGroupsByName returns group conversations of a family carrying name, ordered by id.
	FindGroupsByName(ctx context.Context, familyID uint, name string) ([]models.Conversation, error)
	// ListDirectConversations returns direct conversations of a family that userID
	// participates in, with participants loaded, ordered by id.
	ListDirectConversations(ctx context.Context, familyID, userID uint) ([]models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID uint) ([]models.Conversation, error)
	// DeleteConversation removes messages, then participants, then the conversation row.
	DeleteConversation(ctx context.Context, conversationID uint) error
	// MergeConversations moves messages and participants of fromID into intoID and
	// removes fromID. Merging an already removed conversation is a no-op.
	MergeConversations(ctx context.Context, fromID, intoID uint) error
}

type ParticipantStore interface {
	// AddParticipant is idempotent; adding an existing member is not an error.
	AddParticipant(ctx context.Context, conversationID, userID uint) error
	GetParticipant(ctx context.Context, conversationID, userID uint) (*models.Participant, error)
	ListParticipants(ctx context.Context, conversationID uint) ([]models.Participant, error)
	// AdvanceReadCursor sets last_read_at = max(last_read_at, at) atomically and
	// returns the resulting row.
	AdvanceReadCursor(ctx context.Context, conversationID, userID uint, at time.Time) (*models.Participant, error)
}

type MessageStore interface {
	// AppendMessage assigns id and created_at and bumps the conversation's updated_at.
	AppendMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, messageID uint) (*models.Message, error)
	// ListMessages excludes soft-deleted messages, ascending by (created_at, id).
	ListMessages(ctx context.Context, conversationID uint) ([]models.Message, error)
	// LastMessage returns nil without error for an empty conversation.
	LastMessage(ctx context.Context, conversationID uint) (*models.Message, error)
	// SoftDeleteMessage reports whether the flag transitioned in this call.
	SoftDeleteMessage(ctx context.Context, messageID uint) (bool, error)
	// CountUnread counts non-deleted messages not sent by userID created after
	// since, or all of them when since is nil.
	CountUnread(ctx context.Context, conversationID, userID uint, since *time.Time) (int64, error)
}

type ChatStore interface {
	ConversationStore
	ParticipantStore
	MessageStore
	Ping(ctx context.Context) error
}
