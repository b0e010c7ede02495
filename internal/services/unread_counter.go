package services

import (
	"context"
	"fmt"

	"carechat/internal/errs"
	"carechat/internal/interfaces"
	"carechat/internal/models"
)

// UnreadCounter derives unread totals from the store on every call. It keeps
// no state of its own, so there is nothing to drift.
type UnreadCounter struct {
	store interfaces.ChatStore
}

func NewUnreadCounter(store interfaces.ChatStore) *UnreadCounter {
	return &UnreadCounter{
		store: store,
	}
}

func (uc *UnreadCounter) CountFor(ctx context.Context, userID uint) (int64, error) {
	counts, err := uc.CountsFor(ctx, userID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, count := range counts {
		total += count
	}
	return total, nil
}

// CountsFor returns the unread count of every conversation userID belongs to.
// Empty conversations are present with zero.
func (uc *UnreadCounter) CountsFor(ctx context.Context, userID uint) (map[uint]int64, error) {
	if userID == 0 {
		return nil, errs.ErrNoCurrentUser
	}
	conversations, err := uc.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	counts := make(map[uint]int64, len(conversations))
	for i := range conversations {
		count, err := uc.CountIn(ctx, &conversations[i], userID)
		if err != nil {
			return nil, err
		}
		counts[conversations[i].ID] = count
	}
	return counts, nil
}

// CountIn uses the participant row carried by conversation for the cursor.
func (uc *UnreadCounter) CountIn(ctx context.Context, conversation *models.Conversation, userID uint) (int64, error) {
	var participant *models.Participant
	for i := range conversation.Participants {
		if conversation.Participants[i].UserID == userID {
			participant = &conversation.Participants[i]
			break
		}
	}
	if participant == nil {
		return 0, errs.ErrNotParticipant
	}
	count, err := uc.store.CountUnread(ctx, conversation.ID, userID, participant.LastReadAt)
	if err != nil {
		return 0, fmt.Errorf("count unread in %d: %w", conversation.ID, err)
	}
	return count, nil
}
