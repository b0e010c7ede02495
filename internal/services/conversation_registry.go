package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/feed"
	"carechat/internal/interfaces"
	"carechat/internal/models"
	"carechat/internal/validators"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// ConversationRegistry creates and finds conversations. Creation races are
// resolved after the fact: every get-or-create re-reads the candidates it may
// have raced with, keeps the lowest id and folds the others into it.
type ConversationRegistry struct {
	store             interfaces.ChatStore
	roster            interfaces.FamilyRoster
	publisher         *eventPublisher
	familyChannelName string
	logger            zerolog.Logger
}

func NewConversationRegistry(
	store interfaces.ChatStore,
	roster interfaces.FamilyRoster,
	changeFeed interfaces.Feed,
	clock clockwork.Clock,
	familyChannelName string,
	logger zerolog.Logger,
) *ConversationRegistry {
	if familyChannelName == "" {
		familyChannelName = enums.FAMILY_CHANNEL_NAME
	}
	return &ConversationRegistry{
		store:             store,
		roster:            roster,
		publisher:         &eventPublisher{feed: changeFeed, clock: clock, logger: logger},
		familyChannelName: familyChannelName,
		logger:            logger,
	}
}

func (cr *ConversationRegistry) FamilyChannelName() string {
	return cr.familyChannelName
}

func (cr *ConversationRegistry) GetOrCreateFamilyChannel(ctx context.Context, familyID, requestingUserID uint) (uint, error) {
	if familyID == 0 {
		return 0, errs.ErrInvalidFamilyId
	}
	if requestingUserID == 0 {
		return 0, errs.ErrNoCurrentUser
	}

	members, err := cr.familyMembers(ctx, familyID, requestingUserID)
	if err != nil {
		return 0, err
	}
	candidates, err := cr.store.FindGroupsByName(ctx, familyID, cr.familyChannelName)
	if err != nil {
		return 0, fmt.Errorf("find family channel: %w", err)
	}

	if len(candidates) == 0 {
		name := cr.familyChannelName
		conversation := &models.Conversation{
			FamilyID:     familyID,
			Kind:         enums.CONVERSATION_KIND_GROUP,
			Name:         &name,
			CreatedBy:    requestingUserID,
			Participants: []models.Participant{{UserID: requestingUserID}},
		}
		if err := cr.store.InsertConversation(ctx, conversation); err != nil {
			return 0, fmt.Errorf("create family channel: %w", err)
		}
		roster := validators.UniqueIDs(append([]uint{requestingUserID}, members...)...)
		cr.enroll(ctx, conversation.ID, roster[1:])
		cr.announceMembers(ctx, conversation.ID, roster)

		// Another caller may have created the channel between our lookup and insert.
		candidates, err = cr.store.FindGroupsByName(ctx, familyID, cr.familyChannelName)
		if err != nil {
			return 0, fmt.Errorf("recheck family channel: %w", err)
		}
	}

	winner, err := cr.reconcile(ctx, candidates)
	if err != nil {
		return 0, err
	}
	if err := cr.ensureMember(ctx, winner, requestingUserID); err != nil {
		return 0, err
	}
	return winner.ID, nil
}

// GetOrCreateDirect resolves the unique direct conversation between two users
// of a family. Argument order does not matter.
func (cr *ConversationRegistry) GetOrCreateDirect(ctx context.Context, familyID, userA, userB uint) (uint, error) {
	if familyID == 0 {
		return 0, errs.ErrInvalidFamilyId
	}
	if userA == 0 || userB == 0 {
		return 0, errs.ErrInvalidUserId
	}
	if userA == userB {
		return 0, errs.ErrDirectWithSelf
	}
	if _, err := cr.familyMembers(ctx, familyID, userA, userB); err != nil {
		return 0, err
	}

	candidates, err := cr.directCandidates(ctx, familyID, userA, userB)
	if err != nil {
		return 0, err
	}

	if len(candidates) == 0 {
		conversation := &models.Conversation{
			FamilyID:     familyID,
			Kind:         enums.CONVERSATION_KIND_DIRECT,
			CreatedBy:    userA,
			Participants: []models.Participant{{UserID: userA}, {UserID: userB}},
		}
		if err := cr.store.InsertConversation(ctx, conversation); err != nil {
			return 0, fmt.Errorf("create direct conversation: %w", err)
		}
		cr.announceMembers(ctx, conversation.ID, []uint{userA, userB})

		candidates, err = cr.directCandidates(ctx, familyID, userA, userB)
		if err != nil {
			return 0, err
		}
	}

	winner, err := cr.reconcile(ctx, candidates)
	if err != nil {
		return 0, err
	}
	return winner.ID, nil
}

// Create makes a conversation with the given participants plus the creator.
// Direct requests go through GetOrCreateDirect and a group named after the
// family channel resolves to that channel.
func (cr *ConversationRegistry) Create(ctx context.Context, familyID, creatorID uint, kind string, participantIDs []uint, name *string) (uint, error) {
	if familyID == 0 {
		return 0, errs.ErrInvalidFamilyId
	}
	if creatorID == 0 {
		return 0, errs.ErrNoCurrentUser
	}

	switch kind {
	case enums.CONVERSATION_KIND_DIRECT:
		var others []uint
		for _, id := range validators.UniqueIDs(participantIDs...) {
			if id != creatorID {
				others = append(others, id)
			}
		}
		if len(others) != 1 {
			return 0, errs.ErrDirectParticipants
		}
		return cr.GetOrCreateDirect(ctx, familyID, creatorID, others[0])
	case enums.CONVERSATION_KIND_GROUP:
	default:
		return 0, errs.ErrInvalidKind
	}

	if name != nil {
		trimmed := strings.TrimSpace(*name)
		switch {
		case trimmed == "":
			name = nil
		case trimmed == cr.familyChannelName:
			return cr.GetOrCreateFamilyChannel(ctx, familyID, creatorID)
		default:
			name = &trimmed
		}
	}

	members := validators.UniqueIDs(append([]uint{creatorID}, participantIDs...)...)
	if _, err := cr.familyMembers(ctx, familyID, members...); err != nil {
		return 0, err
	}
	conversation := &models.Conversation{
		FamilyID:     familyID,
		Kind:         kind,
		Name:         name,
		CreatedBy:    creatorID,
		Participants: []models.Participant{{UserID: creatorID}},
	}
	if err := cr.store.InsertConversation(ctx, conversation); err != nil {
		return 0, fmt.Errorf("create conversation: %w", err)
	}

	cr.enroll(ctx, conversation.ID, members[1:])
	cr.announceMembers(ctx, conversation.ID, members)
	return conversation.ID, nil
}

// AddParticipant enrolls userID; re-adding an existing member is a no-op.
func (cr *ConversationRegistry) AddParticipant(ctx context.Context, conversationID, userID uint) error {
	if conversationID == 0 {
		return errs.ErrInvalidConversationId
	}
	if userID == 0 {
		return errs.ErrInvalidUserId
	}
	conversation, err := cr.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conversation.IsDirect() && !conversation.HasParticipant(userID) && len(conversation.Participants) >= 2 {
		return errs.ErrDirectParticipants
	}
	if _, err := cr.familyMembers(ctx, conversation.FamilyID, userID); err != nil {
		return err
	}
	if err := cr.store.AddParticipant(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	cr.announceMembers(ctx, conversationID, []uint{userID})
	return nil
}

// Delete removes messages, participants and the conversation, in that order.
func (cr *ConversationRegistry) Delete(ctx context.Context, conversationID uint) error {
	if conversationID == 0 {
		return errs.ErrInvalidConversationId
	}
	participants, err := cr.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := cr.store.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	topics := []string{feed.ParticipantsTopic(conversationID), feed.MessagesTopic(conversationID)}
	for _, participant := range participants {
		topics = append(topics, feed.UnreadTopic(participant.UserID))
	}
	cr.publisher.publish(ctx, enums.FEED_EVENT_CONVERSATION_DELETED, conversationID, 0, models.ConversationIDResponse{ConversationID: conversationID}, topics...)
	return nil
}

// familyMembers loads the family roster and fails with ErrNotFamilyMember
// unless every user in required is on it.
func (cr *ConversationRegistry) familyMembers(ctx context.Context, familyID uint, required ...uint) ([]uint, error) {
	members, err := cr.roster.MembersOf(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("family roster: %w", err)
	}
	enrolled := make(map[uint]bool, len(members))
	for _, id := range members {
		enrolled[id] = true
	}
	for _, id := range required {
		if !enrolled[id] {
			return nil, errs.ErrNotFamilyMember
		}
	}
	return members, nil
}

func (cr *ConversationRegistry) directCandidates(ctx context.Context, familyID, userA, userB uint) ([]models.Conversation, error) {
	conversations, err := cr.store.ListDirectConversations(ctx, familyID, userA)
	if err != nil {
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	var matches []models.Conversation
	for _, conversation := range conversations {
		if len(conversation.Participants) == 2 && conversation.HasParticipant(userA) && conversation.HasParticipant(userB) {
			matches = append(matches, conversation)
		}
	}
	return matches, nil
}

// reconcile keeps the lowest id and merges every other candidate into it.
// Candidates come back ordered by id. A failed merge is logged and retried by
// the next get-or-create; the winner stays usable either way.
func (cr *ConversationRegistry) reconcile(ctx context.Context, candidates []models.Conversation) (*models.Conversation, error) {
	if len(candidates) == 0 {
		return nil, errs.ErrConversationNotFound
	}
	winner := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.ID < winner.ID {
			winner = candidate
		}
	}

	merged := false
	for _, loser := range candidates {
		if loser.ID == winner.ID {
			continue
		}
		if err := cr.store.MergeConversations(ctx, loser.ID, winner.ID); err != nil {
			cr.logger.Warn().Err(err).Uint("from", loser.ID).Uint("into", winner.ID).Msg("duplicate conversation merge failed")
			continue
		}
		merged = true
		cr.logger.Info().Uint("from", loser.ID).Uint("into", winner.ID).Msg("merged duplicate conversation")

		topics := []string{feed.ParticipantsTopic(loser.ID), feed.ParticipantsTopic(winner.ID)}
		for _, userID := range validators.UniqueIDs(append(loser.ParticipantIDs(), winner.ParticipantIDs()...)...) {
			topics = append(topics, feed.UnreadTopic(userID))
		}
		cr.publisher.publish(ctx, enums.FEED_EVENT_CONVERSATION_MERGED, winner.ID, 0,
			models.ConversationMerge{FromID: loser.ID, IntoID: winner.ID}, topics...)
	}

	if !merged {
		return &winner, nil
	}
	refreshed, err := cr.store.GetConversation(ctx, winner.ID)
	if err != nil {
		return nil, fmt.Errorf("reload conversation: %w", err)
	}
	return refreshed, nil
}

func (cr *ConversationRegistry) ensureMember(ctx context.Context, conversation *models.Conversation, userID uint) error {
	if conversation.HasParticipant(userID) {
		return nil
	}
	if err := cr.store.AddParticipant(ctx, conversation.ID, userID); err != nil {
		return fmt.Errorf("ensure membership: %w", err)
	}
	cr.announceMembers(ctx, conversation.ID, []uint{userID})
	return nil
}

// enroll adds every user it can. Failures are collected and logged; the next
// get-or-create call fills the gaps.
func (cr *ConversationRegistry) enroll(ctx context.Context, conversationID uint, userIDs []uint) {
	var failures error
	for _, userID := range userIDs {
		if err := cr.store.AddParticipant(ctx, conversationID, userID); err != nil {
			failures = multierr.Append(failures, fmt.Errorf("user %d: %w", userID, err))
		}
	}
	if failures != nil {
		cr.logger.Warn().
			Err(errors.Join(errs.ErrPartialEnrollment, failures)).
			Uint("conversation_id", conversationID).
			Int("failed", len(multierr.Errors(failures))).
			Msg("partial enrollment")
	}
}

func (cr *ConversationRegistry) announceMembers(ctx context.Context, conversationID uint, userIDs []uint) {
	for _, userID := range userIDs {
		participant := models.Participant{ConversationID: conversationID, UserID: userID}
		cr.publisher.publish(ctx, enums.FEED_EVENT_PARTICIPANT_ADDED, conversationID, userID, participant,
			feed.ParticipantsTopic(conversationID), feed.UnreadTopic(userID))
	}
}
