package services

import (
	"context"
	"sort"
	"time"

	"carechat/internal/errs"
	"carechat/internal/interfaces"
	"carechat/internal/models"
	"carechat/internal/utils"
	"carechat/internal/validators"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const previewConcurrency = 8

// ChatService is the surface the HTTP and socket layers talk to. Every
// conversation-scoped call checks membership first and runs under the fetch
// timeout.
type ChatService struct {
	store        interfaces.ChatStore
	registry     *ConversationRegistry
	messages     *MessageLog
	receipts     *ReadReceiptTracker
	unread       *UnreadCounter
	presence     *PresenceHub
	profiles     interfaces.ProfileDirectory
	fetchTimeout time.Duration
	logger       zerolog.Logger
}

func NewChatService(
	store interfaces.ChatStore,
	registry *ConversationRegistry,
	messages *MessageLog,
	receipts *ReadReceiptTracker,
	unread *UnreadCounter,
	presence *PresenceHub,
	profiles interfaces.ProfileDirectory,
	fetchTimeout time.Duration,
	logger zerolog.Logger,
) *ChatService {
	return &ChatService{
		store:        store,
		registry:     registry,
		messages:     messages,
		receipts:     receipts,
		unread:       unread,
		presence:     presence,
		profiles:     profiles,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

func (cs *ChatService) Registry() *ConversationRegistry { return cs.registry }
func (cs *ChatService) Presence() *PresenceHub { return cs.presence }
func (cs *ChatService) FetchTimeout() time.Duration { return cs.fetchTimeout }

// Authorize loads the conversation and fails with ErrNotParticipant unless
// userID is a member.
func (cs *ChatService) Authorize(ctx context.Context, conversationID, userID uint) (*models.Conversation, error) {
	if conversationID == 0 {
		return nil, errs.ErrInvalidConversationId
	}
	if userID == 0 {
		return nil, errs.ErrNoCurrentUser
	}
	return utils.WithTimeout(ctx, cs.fetchTimeout, func(ctx context.Context) (*models.Conversation, error) {
		conversation, err := cs.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if !conversation.HasParticipant(userID) {
			return nil, errs.ErrNotParticipant
		}
		return conversation, nil
	})
}

// ListConversations builds the conversation list: family channel first, then
// most recent activity. Previews and unread counts are fetched concurrently and
// every name comes from a single profile lookup.
func (cs *ChatService) ListConversations(ctx context.Context, userID uint) (*models.ConversationListResponse, error) {
	if userID == 0 {
		return nil, errs.ErrNoCurrentUser
	}
	return utils.WithTimeout(ctx, cs.fetchTimeout, func(ctx context.Context) (*models.ConversationListResponse, error) {
		conversations, err := cs.store.ListConversationsForUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		lastMessages := make([]*models.Message, len(conversations))
		unread := make([]int64, len(conversations))
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(previewConcurrency)
		for i := range conversations {
			i := i
			group.Go(func() error {
				last, err := cs.store.LastMessage(groupCtx, conversations[i].ID)
				if err != nil {
					return err
				}
				count, err := cs.unread.CountIn(groupCtx, &conversations[i], userID)
				if err != nil {
					return err
				}
				lastMessages[i], unread[i] = last, count
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}

		var userIDs []uint
		for i, conversation := range conversations {
			userIDs = append(userIDs, conversation.ParticipantIDs()...)
			if lastMessages[i] != nil {
				userIDs = append(userIDs, lastMessages[i].SenderID)
			}
		}
		profiles, err := cs.profiles.NamesAndAvatars(ctx, userIDs)
		if err != nil {
			return nil, err
		}

		response := &models.ConversationListResponse{Conversations: make([]models.ConversationListItem, 0, len(conversations))}
		for i := range conversations {
			conversation := &conversations[i]
			item := models.ConversationListItem{
				ID:              conversation.ID,
				Kind:            conversation.Kind,
				Name:            conversation.Name,
				IsFamilyChannel: conversation.IsFamilyChannel(cs.registry.FamilyChannelName()),
				Participants:    participantResponses(conversation.Participants, profiles),
				UnreadCount:     unread[i],
				UpdatedAt:       conversation.UpdatedAt,
			}
			if last := lastMessages[i]; last != nil {
				item.LastMessage = &models.LastMessagePreview{
					MessageID:  last.ID,
					Content:    last.Content,
					CreatedAt:  last.CreatedAt,
					SenderID:   last.SenderID,
					SenderName: profiles[last.SenderID].Name,
				}
			}
			response.UnreadTotal += unread[i]
			response.Conversations = append(response.Conversations, item)
		}
		SortConversationList(response.Conversations)
		return response, nil
	})
}

// SortConversationList pins the family channel and orders the rest by latest
// activity, newest first.
func SortConversationList(items []models.ConversationListItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsFamilyChannel != items[j].IsFamilyChannel {
			return items[i].IsFamilyChannel
		}
		ai, aj := items[i].LastActivity(), items[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return items[i].ID > items[j].ID
	})
}

// ListMessages returns the visible history and advances the viewer's read cursor.
func (cs *ChatService) ListMessages(ctx context.Context, conversationID, userID uint) (*models.MessageListResponse, error) {
	if _, err := cs.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	messages, err := utils.WithTimeout(ctx, cs.fetchTimeout, func(ctx context.Context) ([]models.Message, error) {
		return cs.messages.List(ctx, conversationID)
	})
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return &models.MessageListResponse{ConversationID: conversationID, Messages: []models.Message{}}, nil
	}
	// The cursor stops at the newest message shown.
	shown := messages[len(messages)-1].CreatedAt
	if _, err := cs.receipts.MarkRead(ctx, conversationID, userID, &shown); err != nil {
		cs.logger.Warn().Err(err).Uint("conversation_id", conversationID).Msg("read cursor not advanced on view")
	}
	return &models.MessageListResponse{ConversationID: conversationID, Messages: messages}, nil
}

func (cs *ChatService) Send(ctx context.Context, conversationID, userID uint, content string) (*models.Message, error) {
	if _, err := validators.ValidateMessageContent(content); err != nil {
		return nil, err
	}
	if _, err := cs.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	message, err := utils.WithTimeout(ctx, cs.fetchTimeout, func(ctx context.Context) (*models.Message, error) {
		return cs.messages.Append(ctx, conversationID, userID, content)
	})
	if err != nil {
		return nil, err
	}
	// Sending implies having read everything up to and including this message.
	if _, err := cs.receipts.MarkRead(ctx, conversationID, userID, &message.CreatedAt); err != nil {
		cs.logger.Debug().Err(err).Msg("sender read cursor not advanced")
	}
	return message, nil
}

// DeleteMessage soft-deletes a message on behalf of its sender.
func (cs *ChatService) DeleteMessage(ctx context.Context, messageID, userID uint) (*models.Message, error) {
	message, err := utils.WithTimeout(ctx, cs.fetchTimeout, func(ctx context.Context) (*models.Message, error) {
		return cs.messages.Get(ctx, messageID)
	})
	if err != nil {
		return nil, err
	}
	if _, err := cs.Authorize(ctx, message.ConversationID, userID); err != nil {
		return nil, err
	}
	if message.SenderID != userID {
		return nil, errs.ErrNotMessageSender
	}
	if _, err := utils.WithTimeout(ctx, cs.fetchTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, cs.messages.SoftDelete(ctx, messageID)
	}); err != nil {
		return nil, err
	}
	message.IsDeleted = true
	return message, nil
}

func (cs *ChatService) MarkRead(ctx context.Context, conversationID, userID uint, at *time.Time) (*models.Participant, error) {
	if _, err := cs.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return utils.WithTimeout(ctx, cs.fetchTimeout, func(ctx context.Context) (*models.Participant, error) {
		return cs.receipts.MarkRead(ctx, conversationID, userID, at)
	})
}

func (cs *ChatService) ReadersOf(ctx context.Context, conversationID, messageID, userID uint) (*models.ReadersResponse, error) {
	conversation, err := cs.Authorize(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	message, err := utils.WithTimeout(ctx, cs.fetchTimeout, func(ctx context.Context) (*models.Message, error) {
		return cs.messages.Get(ctx, messageID)
	})
	if err != nil {
		return nil, err
	}
	if message.ConversationID != conversation.ID {
		return nil, errs.ErrMessageNotFound
	}

	readers := ReadersFrom(conversation.Participants, message.CreatedAt, message.SenderID)
	ids := make([]uint, 0, len(readers))
	for _, reader := range readers {
		ids = append(ids, reader.UserID)
	}
	profiles, err := cs.profiles.NamesAndAvatars(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &models.ReadersResponse{MessageID: messageID, Readers: participantResponses(readers, profiles)}, nil
}

func (cs *ChatService) UnreadCount(ctx context.Context, userID uint) (*models.UnreadCountResponse, error) {
	count, err := utils.WithTimeout(ctx, cs.fetchTimeout, func(ctx context.Context) (int64, error) {
		return cs.unread.CountFor(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return &models.UnreadCountResponse{UserID: userID, Unread: count}, nil
}

// SetTyping never fails for the caller once membership holds.
func (cs *ChatService) SetTyping(ctx context.Context, conversationID uint, claims *models.Claims, isTyping bool) error {
	if claims == nil {
		return errs.ErrNoCurrentUser
	}
	if _, err := cs.Authorize(ctx, conversationID, claims.ID); err != nil {
		return err
	}
	cs.presence.SetTyping(ctx, conversationID, claims.ID, claims.DisplayName(), isTyping)
	return nil
}

func (cs *ChatService) TypingUsers(ctx context.Context, conversationID, userID uint) ([]models.TypingUser, error) {
	if _, err := cs.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	cs.presence.Follow(ctx, conversationID)
	return cs.presence.Observe(conversationID, userID), nil
}

func (cs *ChatService) DeleteConversation(ctx context.Context, conversationID, userID uint) error {
	if _, err := cs.Authorize(ctx, conversationID, userID); err != nil {
		return err
	}
	_, err := utils.WithTimeout(ctx, cs.fetchTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, cs.registry.Delete(ctx, conversationID)
	})
	if err != nil {
		return err
	}
	cs.presence.Forget(conversationID)
	return nil
}

func participantResponses(participants []models.Participant, profiles map[uint]models.Profile) []models.ParticipantResponse {
	responses := make([]models.ParticipantResponse, 0, len(participants))
	for _, participant := range participants {
		profile := profiles[participant.UserID]
		responses = append(responses, models.ParticipantResponse{
			UserID:     participant.UserID,
			Name:       profile.Name,
			AvatarURL:  profile.AvatarURL,
			LastReadAt: participant.LastReadAt,
		})
	}
	return responses
}
