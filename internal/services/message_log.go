package services

import (
	"context"
	"fmt"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/feed"
	"carechat/internal/interfaces"
	"carechat/internal/models"
	"carechat/internal/validators"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// MessageLog is the append-only message history of every conversation.
type MessageLog struct {
	store     interfaces.ChatStore
	publisher *eventPublisher
	logger    zerolog.Logger
}

func NewMessageLog(store interfaces.ChatStore, changeFeed interfaces.Feed, clock clockwork.Clock, logger zerolog.Logger) *MessageLog {
	return &MessageLog{
		store:     store,
		publisher: &eventPublisher{feed: changeFeed, clock: clock, logger: logger},
		logger:    logger,
	}
}

// Append validates content before touching the store. created_at is assigned
// by the store and the new message is announced on the conversation's message
// topic and on the unread topic of every participant.
func (ml *MessageLog) Append(ctx context.Context, conversationID, senderID uint, content string) (*models.Message, error) {
	if conversationID == 0 {
		return nil, errs.ErrInvalidConversationId
	}
	if senderID == 0 {
		return nil, errs.ErrNoCurrentUser
	}
	trimmed, err := validators.ValidateMessageContent(content)
	if err != nil {
		return nil, err
	}

	message := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        trimmed,
	}
	if err := ml.store.AppendMessage(ctx, message); err != nil {
		ml.logger.Error().Err(err).Uint("conversation_id", conversationID).Uint("sender_id", senderID).Msg("message append failed")
		return nil, fmt.Errorf("append message: %w", err)
	}

	ml.publisher.publish(ctx, enums.FEED_EVENT_MESSAGE_CREATED, conversationID, senderID, message, ml.topicsFor(ctx, conversationID)...)
	return message, nil
}

func (ml *MessageLog) List(ctx context.Context, conversationID uint) ([]models.Message, error) {
	if conversationID == 0 {
		return nil, errs.ErrInvalidConversationId
	}
	return ml.store.ListMessages(ctx, conversationID)
}

func (ml *MessageLog) Get(ctx context.Context, messageID uint) (*models.Message, error) {
	if messageID == 0 {
		return nil, errs.ErrInvalidMessageId
	}
	return ml.store.GetMessage(ctx, messageID)
}

// SoftDelete hides a message. Deleting an already deleted message succeeds
// without publishing anything.
func (ml *MessageLog) SoftDelete(ctx context.Context, messageID uint) error {
	if messageID == 0 {
		return errs.ErrInvalidMessageId
	}
	message, err := ml.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	changed, err := ml.store.SoftDeleteMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if !changed {
		return nil
	}
	message.IsDeleted = true
	ml.publisher.publish(ctx, enums.FEED_EVENT_MESSAGE_DELETED, message.ConversationID, message.SenderID, message, ml.topicsFor(ctx, message.ConversationID)...)
	return nil
}

func (ml *MessageLog) topicsFor(ctx context.Context, conversationID uint) []string {
	topics := []string{feed.MessagesTopic(conversationID)}
	participants, err := ml.store.ListParticipants(ctx, conversationID)
	if err != nil {
		ml.logger.Warn().Err(err).Uint("conversation_id", conversationID).Msg("unread fan-out skipped")
		return topics
	}
	for _, participant := range participants {
		topics = append(topics, feed.UnreadTopic(participant.UserID))
	}
	return topics
}
