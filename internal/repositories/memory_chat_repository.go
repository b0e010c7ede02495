package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/interfaces"
	"carechat/internal/models"

	"github.com/jonboulle/clockwork"
)

// MemoryChatRepository is a process-local ChatStore. Every method is atomic
// under a single mutex, which stands in for the row-level atomicity a real
// store gives us.
type MemoryChatRepository struct {
	mu    sync.Mutex
	clock clockwork.Clock

	nextConversationID uint
	nextMessageID      uint

	conversations  map[uint]*models.Conversation
	participants   map[uint]map[uint]*models.Participant
	messages       map[uint]*models.Message
	byConversation map[uint][]uint
}

var _ interfaces.ChatStore = (*MemoryChatRepository)(nil)

func NewMemoryChatRepository(clock clockwork.Clock) *MemoryChatRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryChatRepository{
		clock:          clock,
		conversations:  make(map[uint]*models.Conversation),
		participants:   make(map[uint]map[uint]*models.Participant),
		messages:       make(map[uint]*models.Message),
		byConversation: make(map[uint][]uint),
	}
}

func (mr *MemoryChatRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (mr *MemoryChatRepository) InsertConversation(ctx context.Context, conversation *models.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	mr.nextConversationID++
	now := mr.clock.Now()
	conversation.ID = mr.nextConversationID
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	stored := *conversation
	stored.Participants = nil
	mr.conversations[stored.ID] = &stored
	mr.participants[stored.ID] = make(map[uint]*models.Participant)
	for i := range conversation.Participants {
		participant := &conversation.Participants[i]
		participant.ConversationID = stored.ID
		participant.JoinedAt = now
		copied := copyParticipant(participant)
		mr.participants[stored.ID][participant.UserID] = &copied
	}
	return nil
}

func (mr *MemoryChatRepository) GetConversation(ctx context.Context, conversationID uint) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	conversation, ok := mr.loadLocked(conversationID)
	if !ok {
		return nil, errs.ErrConversationNotFound
	}
	return &conversation, nil
}

func (mr *MemoryChatRepository) FindGroupsByName(ctx context.Context, familyID uint, name string) ([]models.Conversation, error) {
	return mr.filter(ctx, func(conversation *models.Conversation) bool {
		return conversation.FamilyID == familyID &&
			conversation.Kind == enums.CONVERSATION_KIND_GROUP &&
			conversation.Name != nil &&
			*conversation.Name == name
	})
}

func (mr *MemoryChatRepository) ListDirectConversations(ctx context.Context, familyID, userID uint) ([]models.Conversation, error) {
	return mr.filter(ctx, func(conversation *models.Conversation) bool {
		if conversation.FamilyID != familyID || conversation.Kind != enums.CONVERSATION_KIND_DIRECT {
			return false
		}
		_, member := mr.participants[conversation.ID][userID]
		return member
	})
}

func (mr *MemoryChatRepository) ListConversationsForUser(ctx context.Context, userID uint) ([]models.Conversation, error) {
	return mr.filter(ctx, func(conversation *models.Conversation) bool {
		_, member := mr.participants[conversation.ID][userID]
		return member
	})
}

func (mr *MemoryChatRepository) DeleteConversation(ctx context.Context, conversationID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if _, ok := mr.conversations[conversationID]; !ok {
		return errs.ErrConversationNotFound
	}
	for _, messageID := range mr.byConversation[conversationID] {
		delete(mr.messages, messageID)
	}
	delete(mr.byConversation, conversationID)
	delete(mr.participants, conversationID)
	delete(mr.conversations, conversationID)
	return nil
}

func (mr *MemoryChatRepository) MergeConversations(ctx context.Context, fromID, intoID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if _, ok := mr.conversations[fromID]; !ok {
		return nil
	}
	into, ok := mr.conversations[intoID]
	if !ok {
		return errs.ErrConversationNotFound
	}

	for _, messageID := range mr.byConversation[fromID] {
		mr.messages[messageID].ConversationID = intoID
		mr.byConversation[intoID] = append(mr.byConversation[intoID], messageID)
	}
	for userID, participant := range mr.participants[fromID] {
		existing, ok := mr.participants[intoID][userID]
		if !ok {
			moved := *participant
			moved.ConversationID = intoID
			mr.participants[intoID][userID] = &moved
			continue
		}
		if participant.LastReadAt != nil && (existing.LastReadAt == nil || participant.LastReadAt.After(*existing.LastReadAt)) {
			at := *participant.LastReadAt
			existing.LastReadAt = &at
		}
	}
	into.UpdatedAt = mr.clock.Now()

	delete(mr.byConversation, fromID)
	delete(mr.participants, fromID)
	delete(mr.conversations, fromID)
	return nil
}

func (mr *MemoryChatRepository) AddParticipant(ctx context.Context, conversationID, userID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	members, ok := mr.participants[conversationID]
	if !ok {
		return errs.ErrConversationNotFound
	}
	if _, exists := members[userID]; exists {
		return nil
	}
	members[userID] = &models.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		JoinedAt:       mr.clock.Now(),
	}
	return nil
}

func (mr *MemoryChatRepository) GetParticipant(ctx context.Context, conversationID, userID uint) (*models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	participant, ok := mr.participants[conversationID][userID]
	if !ok {
		return nil, errs.ErrParticipantNotFound
	}
	copied := copyParticipant(participant)
	return &copied, nil
}

func (mr *MemoryChatRepository) ListParticipants(ctx context.Context, conversationID uint) ([]models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if _, ok := mr.conversations[conversationID]; !ok {
		return nil, errs.ErrConversationNotFound
	}
	return mr.participantsLocked(conversationID), nil
}

func (mr *MemoryChatRepository) AdvanceReadCursor(ctx context.Context, conversationID, userID uint, at time.Time) (*models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	participant, ok := mr.participants[conversationID][userID]
	if !ok {
		return nil, errs.ErrParticipantNotFound
	}
	if participant.LastReadAt == nil || at.After(*participant.LastReadAt) {
		participant.LastReadAt = &at
	}
	copied := copyParticipant(participant)
	return &copied, nil
}

func (mr *MemoryChatRepository) AppendMessage(ctx context.Context, message *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	conversation, ok := mr.conversations[message.ConversationID]
	if !ok {
		return errs.ErrConversationNotFound
	}
	mr.nextMessageID++
	message.ID = mr.nextMessageID
	message.CreatedAt = mr.clock.Now()
	message.IsDeleted = false

	stored := *message
	mr.messages[stored.ID] = &stored
	mr.byConversation[stored.ConversationID] = append(mr.byConversation[stored.ConversationID], stored.ID)
	conversation.UpdatedAt = stored.CreatedAt
	return nil
}

func (mr *MemoryChatRepository) GetMessage(ctx context.Context, messageID uint) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	message, ok := mr.messages[messageID]
	if !ok {
		return nil, errs.ErrMessageNotFound
	}
	copied := *message
	return &copied, nil
}

func (mr *MemoryChatRepository) ListMessages(ctx context.Context, conversationID uint) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if _, ok := mr.conversations[conversationID]; !ok {
		return nil, errs.ErrConversationNotFound
	}
	return mr.visibleMessagesLocked(conversationID), nil
}

func (mr *MemoryChatRepository) LastMessage(ctx context.Context, conversationID uint) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	messages := mr.visibleMessagesLocked(conversationID)
	if len(messages) == 0 {
		return nil, nil
	}
	last := messages[len(messages)-1]
	return &last, nil
}

func (mr *MemoryChatRepository) SoftDeleteMessage(ctx context.Context, messageID uint) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	message, ok := mr.messages[messageID]
	if !ok {
		return false, errs.ErrMessageNotFound
	}
	if message.IsDeleted {
		return false, nil
	}
	message.IsDeleted = true
	return true, nil
}

func (mr *MemoryChatRepository) CountUnread(ctx context.Context, conversationID, userID uint, since *time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	var count int64
	for _, messageID := range mr.byConversation[conversationID] {
		message := mr.messages[messageID]
		if message.IsDeleted || message.SenderID == userID {
			continue
		}
		if since != nil && !message.CreatedAt.After(*since) {
			continue
		}
		count++
	}
	return count, nil
}

func (mr *MemoryChatRepository) filter(ctx context.Context, keep func(*models.Conversation) bool) ([]models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	var result []models.Conversation
	for id, conversation := range mr.conversations {
		if !keep(conversation) {
			continue
		}
		loaded, _ := mr.loadLocked(id)
		result = append(result, loaded)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (mr *MemoryChatRepository) loadLocked(conversationID uint) (models.Conversation, bool) {
	conversation, ok := mr.conversations[conversationID]
	if !ok {
		return models.Conversation{}, false
	}
	loaded := *conversation
	loaded.Participants = mr.participantsLocked(conversationID)
	return loaded, true
}

func (mr *MemoryChatRepository) participantsLocked(conversationID uint) []models.Participant {
	members := mr.participants[conversationID]
	result := make([]models.Participant, 0, len(members))
	for _, participant := range members {
		result = append(result, copyParticipant(participant))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result
}

func (mr *MemoryChatRepository) visibleMessagesLocked(conversationID uint) []models.Message {
	var result []models.Message
	for _, messageID := range mr.byConversation[conversationID] {
		message := mr.messages[messageID]
		if message.IsDeleted {
			continue
		}
		result = append(result, *message)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Before(&result[j]) })
	return result
}

func copyParticipant(participant *models.Participant) models.Participant {
	copied := *participant
	if participant.LastReadAt != nil {
		at := *participant.LastReadAt
		copied.LastReadAt = &at
	}
	return copied
}
