package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/feed"
	"carechat/internal/interfaces"
	"carechat/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type ReadReceiptTracker struct {
	store     interfaces.ChatStore
	clock     clockwork.Clock
	publisher *eventPublisher
}

func NewReadReceiptTracker(store interfaces.ChatStore, changeFeed interfaces.Feed, clock clockwork.Clock, logger zerolog.Logger) *ReadReceiptTracker {
	return &ReadReceiptTracker{
		store:     store,
		clock:     clock,
		publisher: &eventPublisher{feed: changeFeed, clock: clock, logger: logger},
	}
}

// MarkRead moves the read cursor to max(current, at). A nil at means now and
// an at in the future is clamped to now.
func (rt *ReadReceiptTracker) MarkRead(ctx context.Context, conversationID, userID uint, at *time.Time) (*models.Participant, error) {
	if conversationID == 0 {
		return nil, errs.ErrInvalidConversationId
	}
	if userID == 0 {
		return nil, errs.ErrNoCurrentUser
	}
	readAt := rt.clock.Now()
	if at != nil && at.Before(readAt) {
		readAt = *at
	}

	participant, err := rt.store.AdvanceReadCursor(ctx, conversationID, userID, readAt)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	rt.publisher.publish(ctx, enums.FEED_EVENT_PARTICIPANT_READ, conversationID, userID, participant,
		feed.ParticipantsTopic(conversationID), feed.UnreadTopic(userID))
	return participant, nil
}

// ReadersAsOf lists participants whose cursor covers createdAt, leaving out the sender.
func (rt *ReadReceiptTracker) ReadersAsOf(ctx context.Context, conversationID uint, createdAt time.Time, senderID uint) ([]models.Participant, error) {
	if conversationID == 0 {
		return nil, errs.ErrInvalidConversationId
	}
	participants, err := rt.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return ReadersFrom(participants, createdAt, senderID), nil
}

// ReadersFrom is the receipt rule shared by the tracker and client caches.
func ReadersFrom(participants []models.Participant, createdAt time.Time, senderID uint) []models.Participant {
	readers := make([]models.Participant, 0, len(participants))
	for _, participant := range participants {
		if participant.UserID == senderID || !participant.HasRead(createdAt) {
			continue
		}
		readers = append(readers, participant)
	}
	sort.Slice(readers, func(i, j int) bool { return readers[i].UserID < readers[j].UserID })
	return readers
}
