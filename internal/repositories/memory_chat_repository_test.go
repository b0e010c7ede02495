package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/models"

	"github.com/jonboulle/clockwork"
)

func newGroup(t *testing.T, repo *MemoryChatRepository, familyID uint, name string, members ...uint) *models.Conversation {
	t.Helper()
	ctx := context.Background()
	conversation := &models.Conversation{FamilyID: familyID, Kind: enums.CONVERSATION_KIND_GROUP, Name: &name}
	if err := repo.InsertConversation(ctx, conversation); err != nil {
		t.Fatalf("InsertConversation: %v", err)
	}
	for _, userID := range members {
		if err := repo.AddParticipant(ctx, conversation.ID, userID); err != nil {
			t.Fatalf("AddParticipant(%d): %v", userID, err)
		}
	}
	return conversation
}

func TestMemoryAdvanceReadCursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := NewMemoryChatRepository(clock)
	conversation := newGroup(t, repo, 1, "Care team", 10, 11)

	later := clock.Now().Add(time.Minute)
	earlier := clock.Now()

	participant, err := repo.AdvanceReadCursor(ctx, conversation.ID, 10, later)
	if err != nil {
		t.Fatalf("AdvanceReadCursor: %v", err)
	}
	if !participant.LastReadAt.Equal(later) {
		t.Fatalf("cursor = %v, want %v", participant.LastReadAt, later)
	}

	participant, err = repo.AdvanceReadCursor(ctx, conversation.ID, 10, earlier)
	if err != nil {
		t.Fatalf("AdvanceReadCursor: %v", err)
	}
	if !participant.LastReadAt.Equal(later) {
		t.Errorf("cursor moved backwards to %v", participant.LastReadAt)
	}

	if _, err := repo.AdvanceReadCursor(ctx, conversation.ID, 99, later); !errors.Is(err, errs.ErrParticipantNotFound) {
		t.Errorf("non-member err = %v, want ErrParticipantNotFound", err)
	}
}

func TestMemoryCountUnread(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := NewMemoryChatRepository(clock)
	conversation := newGroup(t, repo, 1, "Care team", 10, 11)

	send := func(sender uint) *models.Message {
		message := &models.Message{ConversationID: conversation.ID, SenderID: sender, Content: "hi"}
		if err := repo.AppendMessage(ctx, message); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		clock.Advance(time.Second)
		return message
	}

	first := send(11)
	send(10)
	third := send(11)
	send(11)

	if n, _ := repo.CountUnread(ctx, conversation.ID, 10, nil); n != 3 {
		t.Errorf("unread with no cursor = %d, want 3", n)
	}
	if n, _ := repo.CountUnread(ctx, conversation.ID, 10, &first.CreatedAt); n != 2 {
		t.Errorf("unread after first = %d, want 2", n)
	}

	if _, err := repo.SoftDeleteMessage(ctx, third.ID); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}
	if n, _ := repo.CountUnread(ctx, conversation.ID, 10, &first.CreatedAt); n != 1 {
		t.Errorf("unread after delete = %d, want 1", n)
	}
}

func TestMemorySoftDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryChatRepository(clockwork.NewFakeClock())
	conversation := newGroup(t, repo, 1, "Care team", 10)

	message := &models.Message{ConversationID: conversation.ID, SenderID: 10, Content: "bye"}
	if err := repo.AppendMessage(ctx, message); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	changed, err := repo.SoftDeleteMessage(ctx, message.ID)
	if err != nil || !changed {
		t.Fatalf("first delete = (%v, %v), want (true, nil)", changed, err)
	}
	changed, err = repo.SoftDeleteMessage(ctx, message.ID)
	if err != nil || changed {
		t.Fatalf("second delete = (%v, %v), want (false, nil)", changed, err)
	}

	messages, _ := repo.ListMessages(ctx, conversation.ID)
	if len(messages) != 0 {
		t.Errorf("deleted message still listed: %+v", messages)
	}
	stored, _ := repo.GetMessage(ctx, message.ID)
	if !stored.IsDeleted || stored.Content != "bye" {
		t.Errorf("stored = %+v, want flagged row with content kept", stored)
	}
}

func TestMemoryMergeConversations(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := NewMemoryChatRepository(clock)
	winner := newGroup(t, repo, 1, enums.FAMILY_CHANNEL_NAME, 10)
	loser := newGroup(t, repo, 1, enums.FAMILY_CHANNEL_NAME, 10, 11)

	read := clock.Now().Add(time.Hour)
	if _, err := repo.AdvanceReadCursor(ctx, loser.ID, 10, read); err != nil {
		t.Fatalf("AdvanceReadCursor: %v", err)
	}
	message := &models.Message{ConversationID: loser.ID, SenderID: 11, Content: "first"}
	if err := repo.AppendMessage(ctx, message); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := repo.MergeConversations(ctx, loser.ID, winner.ID); err != nil {
		t.Fatalf("MergeConversations: %v", err)
	}
	if err := repo.MergeConversations(ctx, loser.ID, winner.ID); err != nil {
		t.Fatalf("repeated merge: %v", err)
	}

	if _, err := repo.GetConversation(ctx, loser.ID); !errors.Is(err, errs.ErrConversationNotFound) {
		t.Errorf("loser still present: %v", err)
	}
	merged, err := repo.GetConversation(ctx, winner.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got := merged.ParticipantIDs(); len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Errorf("participants = %v, want [10 11]", got)
	}
	participant, _ := repo.GetParticipant(ctx, winner.ID, 10)
	if !participant.HasRead(read) {
		t.Errorf("read cursor lost in merge: %v", participant.LastReadAt)
	}
	messages, _ := repo.ListMessages(ctx, winner.ID)
	if len(messages) != 1 || messages[0].ID != message.ID || messages[0].ConversationID != winner.ID {
		t.Errorf("messages = %+v, want moved message", messages)
	}
}

func TestMemoryDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryChatRepository(clockwork.NewFakeClock())
	conversation := newGroup(t, repo, 1, "Care team", 10)
	message := &models.Message{ConversationID: conversation.ID, SenderID: 10, Content: "x"}
	if err := repo.AppendMessage(ctx, message); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := repo.DeleteConversation(ctx, conversation.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := repo.GetMessage(ctx, message.ID); !errors.Is(err, errs.ErrMessageNotFound) {
		t.Errorf("message survived delete: %v", err)
	}
	if _, err := repo.GetParticipant(ctx, conversation.ID, 10); !errors.Is(err, errs.ErrParticipantNotFound) {
		t.Errorf("participant survived delete: %v", err)
	}
	if err := repo.DeleteConversation(ctx, conversation.ID); !errors.Is(err, errs.ErrConversationNotFound) {
		t.Errorf("second delete err = %v, want ErrConversationNotFound", err)
	}
}

func TestMemoryListMessagesOrdersByCreatedAtThenID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryChatRepository(clockwork.NewFakeClock())
	conversation := newGroup(t, repo, 1, "Care team", 10)

	for _, content := range []string{"a", "b", "c"} {
		if err := repo.AppendMessage(ctx, &models.Message{ConversationID: conversation.ID, SenderID: 10, Content: content}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	messages, _ := repo.ListMessages(ctx, conversation.ID)
	for i := 1; i < len(messages); i++ {
		if !messages[i-1].Before(&messages[i]) {
			t.Fatalf("messages out of order at %d: %+v", i, messages)
		}
	}
	last, _ := repo.LastMessage(ctx, conversation.ID)
	if last == nil || last.Content != "c" {
		t.Errorf("LastMessage = %+v, want c", last)
	}
}
