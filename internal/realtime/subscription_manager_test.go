package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/feed"
	"carechat/internal/models"
	socketModels "carechat/internal/models/socket"
	"carechat/internal/repositories"
	"carechat/internal/services"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type harness struct {
	clock     clockwork.Clock
	store     *repositories.MemoryChatRepository
	directory *repositories.MemoryDirectoryRepository
	feed      *feed.MemoryFeed
	registry  *services.ConversationRegistry
	messages  *services.MessageLog
	receipts  *services.ReadReceiptTracker
	presence  *services.PresenceHub
	chat      *services.ChatService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()
	clock := clockwork.NewRealClock()
	store := repositories.NewMemoryChatRepository(clock)
	directory := repositories.NewMemoryDirectoryRepository()
	changeFeed := feed.NewMemoryFeed(64)

	h := &harness{
		clock:     clock,
		store:     store,
		directory: directory,
		feed:      changeFeed,
		registry:  services.NewConversationRegistry(store, directory, changeFeed, clock, enums.FAMILY_CHANNEL_NAME, logger),
		messages:  services.NewMessageLog(store, changeFeed, clock, logger),
		receipts:  services.NewReadReceiptTracker(store, changeFeed, clock, logger),
		presence:  services.NewPresenceHub(changeFeed, clock, 3*time.Second, logger),
	}
	unread := services.NewUnreadCounter(store)
	profiles := services.NewProfileService(directory, nil, 16, time.Minute, logger)
	h.chat = services.NewChatService(store, h.registry, h.messages, h.receipts, unread, h.presence, profiles, 2*time.Second, logger)
	t.Cleanup(h.presence.Close)
	return h
}

func (h *harness) session(t *testing.T, userID uint, autoMarkRead bool) *SubscriptionManager {
	t.Helper()
	sm := NewSubscriptionManager(userID, h.chat, h.feed, h.clock, Options{
		QueueSize:      64,
		BackoffInitial: 5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
		TypingTTL:      3 * time.Second,
		AutoMarkRead:   autoMarkRead,
	}, zerolog.Nop())
	t.Cleanup(sm.Close)
	return sm
}

func (h *harness) group(t *testing.T, creatorID uint, members ...uint) uint {
	t.Helper()
	name := "Night shift"
	h.directory.Enroll(1, append([]uint{creatorID}, members...)...)
	id, err := h.registry.Create(context.Background(), 1, creatorID, enums.CONVERSATION_KIND_GROUP, members, &name)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func (h *harness) send(t *testing.T, conversationID, senderID uint, content string) *models.Message {
	t.Helper()
	message, err := h.messages.Append(context.Background(), conversationID, senderID, content)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return message
}

func eventually(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// next reads updates until one matches, returning everything skipped on the way.
func next(t *testing.T, sm *SubscriptionManager, match func(socketModels.ServerEvent) bool) (socketModels.ServerEvent, []socketModels.ServerEvent) {
	t.Helper()
	var skipped []socketModels.ServerEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case update, ok := <-sm.Updates():
			if !ok {
				t.Fatal("updates closed")
			}
			if match(update) {
				return update, skipped
			}
			skipped = append(skipped, update)
		case <-timeout:
			t.Fatal("timed out waiting for update")
		}
	}
}

func named(event string) func(socketModels.ServerEvent) bool {
	return func(update socketModels.ServerEvent) bool { return update.Event == event }
}

func createdMessage(id uint) func(socketModels.ServerEvent) bool {
	return func(update socketModels.ServerEvent) bool {
		message, ok := update.Payload.(models.Message)
		return update.Event == enums.SOCKET_EVENT_MESSAGE_CREATED && ok && message.ID == id
	}
}

func waitLive(t *testing.T, sm *SubscriptionManager, keys ...FeedKey) {
	t.Helper()
	for _, key := range keys {
		eventually(t, key.String()+" live", func() bool { return sm.State(key) == enums.FEED_STATE_LIVE })
	}
}

func conversationFeeds(conversationID uint) []FeedKey {
	return []FeedKey{MessagesFeed(conversationID), ParticipantsFeed(conversationID), PresenceFeed(conversationID)}
}

func TestWatchLoadsSnapshot(t *testing.T) {
	h := newHarness(t)
	id := h.group(t, 1, 2)
	h.send(t, id, 2, "bp 120/80")
	h.send(t, id, 2, "slept well")

	sm := h.session(t, 1, false)
	if got := sm.State(MessagesFeed(id)); got != enums.FEED_STATE_DISCONNECTED {
		t.Errorf("state before watch = %s", got)
	}
	if err := sm.Watch(context.Background(), id); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	waitLive(t, sm, conversationFeeds(id)...)
	eventually(t, "snapshot", func() bool { return len(sm.Messages(id)) == 2 })

	if err := sm.Watch(context.Background(), id); err != nil {
		t.Errorf("second Watch: %v", err)
	}
	if n := h.feed.SubscriberCount(feed.MessagesTopic(id)); n != 1 {
		t.Errorf("message subscribers = %d, want 1", n)
	}
}

func TestWatchRejectsNonParticipant(t *testing.T) {
	h := newHarness(t)
	id := h.group(t, 1, 2)
	sm := h.session(t, 3, false)

	if err := sm.Watch(context.Background(), id); !errors.Is(err, errs.ErrNotParticipant) {
		t.Fatalf("Watch err = %v, want ErrNotParticipant", err)
	}
	if len(sm.Watching()) != 0 {
		t.Error("rejected conversation is watched")
	}
}

func TestDuplicateDeliveryAppliedOnce(t *testing.T) {
	h := newHarness(t)
	id := h.group(t, 1, 2)
	sm := h.session(t, 1, false)
	if err := sm.Watch(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	waitLive(t, sm, conversationFeeds(id)...)

	first := h.send(t, id, 2, "first")
	next(t, sm, createdMessage(first.ID))

	replay, err := models.NewFeedEvent(enums.FEED_EVENT_MESSAGE_CREATED, id, 2, first, h.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.feed.Publish(context.Background(), feed.MessagesTopic(id), replay); err != nil {
		t.Fatal(err)
	}
	marker := h.send(t, id, 2, "marker")

	_, skipped := next(t, sm, createdMessage(marker.ID))
	for _, update := range skipped {
		if createdMessage(first.ID)(update) {
			t.Error("redelivered message emitted twice")
		}
	}
	if got := ids(sm.Messages(id)); !equalIDs(got, first.ID, marker.ID) {
		t.Errorf("messages = %v", got)
	}
}

func TestReconnectResyncsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	id := h.group(t, 1, 2)
	before := h.send(t, id, 2, "before")

	sm := h.session(t, 1, false)
	if err := sm.Watch(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	waitLive(t, sm, conversationFeeds(id)...)

	h.feed.Interrupt()
	eventually(t, "feed drop noticed", func() bool { return sm.State(MessagesFeed(id)) != enums.FEED_STATE_LIVE })

	// Appended while nobody can hear it: the publish fails, the row is stored.
	missed := h.send(t, id, 2, "during the gap")

	h.feed.Resume()
	next(t, sm, func(update socketModels.ServerEvent) bool {
		payload, ok := update.Payload.(socketModels.ResyncedPayload)
		return update.Event == enums.SOCKET_EVENT_RESYNCED && ok && payload.Feed == enums.FEED_KIND_MESSAGES
	})
	waitLive(t, sm, conversationFeeds(id)...)

	if got := ids(sm.Messages(id)); !equalIDs(got, before.ID, missed.ID) {
		t.Fatalf("messages after resync = %v, want [%d %d]", got, before.ID, missed.ID)
	}

	after := h.send(t, id, 2, "after")
	next(t, sm, createdMessage(after.ID))
	if got := ids(sm.Messages(id)); !equalIDs(got, before.ID, missed.ID, after.ID) {
		t.Errorf("messages = %v", got)
	}
}

func TestUnwatchReleasesEverything(t *testing.T) {
	h := newHarness(t)
	id := h.group(t, 1, 2)
	sm := h.session(t, 1, false)
	if err := sm.Watch(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	waitLive(t, sm, conversationFeeds(id)...)
	topics := []string{feed.MessagesTopic(id), feed.ParticipantsTopic(id), feed.PresenceTopic(id)}
	for _, topic := range topics {
		if n := h.feed.SubscriberCount(topic); n != 1 {
			t.Fatalf("%s subscribers = %d before unwatch", topic, n)
		}
	}

	if err := sm.Unwatch(id); err != nil {
		t.Fatalf("Unwatch: %v", err)
	}
	for _, topic := range topics {
		if n := h.feed.SubscriberCount(topic); n != 0 {
			t.Errorf("%s subscribers = %d after unwatch", topic, n)
		}
	}
	for _, key := range conversationFeeds(id) {
		if got := sm.State(key); got != enums.FEED_STATE_CLOSED {
			t.Errorf("%s state = %s", key, got)
		}
	}
	if err := sm.Unwatch(id); !errors.Is(err, errs.ErrNotWatching) {
		t.Errorf("second Unwatch err = %v", err)
	}

	late := h.send(t, id, 2, "nobody is watching")
	sm.Close()
	for update := range sm.Updates() {
		if createdMessage(late.ID)(update) {
			t.Error("update emitted after unwatch")
		}
	}
	if len(sm.Messages(id)) != 0 {
		t.Error("cache kept after unwatch")
	}
}

func TestCloseTearsDownAllFeeds(t *testing.T) {
	h := newHarness(t)
	first := h.group(t, 1, 2)
	second := h.group(t, 1, 3)
	sm := h.session(t, 1, false)
	if err := sm.Start(); err != nil {
		t.Fatal(err)
	}
	for _, id := range []uint{first, second} {
		if err := sm.Watch(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	waitLive(t, sm, append(conversationFeeds(first), UnreadFeed())...)
	waitLive(t, sm, conversationFeeds(second)...)

	sm.Close()
	sm.Close()
	for range sm.Updates() {
	}

	for _, topic := range []string{feed.UnreadTopic(1), feed.MessagesTopic(first), feed.PresenceTopic(second)} {
		if n := h.feed.SubscriberCount(topic); n != 0 {
			t.Errorf("%s subscribers = %d after close", topic, n)
		}
	}
	if err := sm.Watch(context.Background(), first); !errors.Is(err, errs.ErrSessionClosed) {
		t.Errorf("Watch after close err = %v", err)
	}
	if err := sm.Start(); !errors.Is(err, errs.ErrSessionClosed) {
		t.Errorf("Start after close err = %v", err)
	}
}

func TestUnreadAggregateFollowsFeed(t *testing.T) {
	h := newHarness(t)
	id := h.group(t, 1, 2)
	sm := h.session(t, 1, false)
	if err := sm.Start(); err != nil {
		t.Fatal(err)
	}
	waitLive(t, sm, UnreadFeed())

	unreadIs := func(want int64) func(socketModels.ServerEvent) bool {
		return func(update socketModels.ServerEvent) bool {
			payload, ok := update.Payload.(socketModels.UnreadCountPayload)
			return update.Event == enums.SOCKET_EVENT_UNREAD_COUNT && ok && payload.Unread == want
		}
	}

	h.send(t, id, 2, "one")
	h.send(t, id, 2, "two")
	next(t, sm, unreadIs(2))
	if got := sm.UnreadCount(); got != 2 {
		t.Errorf("UnreadCount = %d, want 2", got)
	}

	now := h.clock.Now()
	if _, err := h.receipts.MarkRead(context.Background(), id, 1, &now); err != nil {
		t.Fatal(err)
	}
	next(t, sm, unreadIs(0))
}

func TestAutoMarkReadOnIncomingMessage(t *testing.T) {
	h := newHarness(t)
	id := h.group(t, 1, 2)
	sm := h.session(t, 1, true)
	if err := sm.Watch(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	waitLive(t, sm, conversationFeeds(id)...)

	message := h.send(t, id, 2, "are you up?")
	next(t, sm, createdMessage(message.ID))
	eventually(t, "cursor advanced", func() bool {
		participant, err := h.store.GetParticipant(context.Background(), id, 1)
		return err == nil && participant.HasRead(message.CreatedAt)
	})
}

func TestReceiptsAndTypingFromFeed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.group(t, 1, 2)
	sm := h.session(t, 1, false)
	if err := sm.Watch(ctx, id); err != nil {
		t.Fatal(err)
	}
	waitLive(t, sm, conversationFeeds(id)...)

	mine := h.send(t, id, 1, "meds at 8")
	next(t, sm, createdMessage(mine.ID))
	if _, err := h.receipts.MarkRead(ctx, id, 2, nil); err != nil {
		t.Fatal(err)
	}
	next(t, sm, func(update socketModels.ServerEvent) bool {
		participant, ok := update.Payload.(models.Participant)
		return update.Event == enums.SOCKET_EVENT_PARTICIPANT_READ && ok && participant.UserID == 2
	})
	readers, err := sm.ReadersOf(id, mine.ID)
	if err != nil || len(readers) != 1 || readers[0].UserID != 2 {
		t.Errorf("ReadersOf = (%+v, %v), want user 2", readers, err)
	}
	if _, err := sm.ReadersOf(id, 9999); !errors.Is(err, errs.ErrMessageNotFound) {
		t.Errorf("unknown message err = %v", err)
	}

	h.presence.SetTyping(ctx, id, 1, "Ana", true)
	h.presence.SetTyping(ctx, id, 2, "Ben", true)
	next(t, sm, func(update socketModels.ServerEvent) bool {
		typing, ok := update.Payload.(models.TypingUser)
		return update.Event == enums.SOCKET_EVENT_TYPING && ok && typing.UserID == 2
	})
	typing := sm.TypingUsers(id)
	if len(typing) != 1 || typing[0].UserName != "Ben" {
		t.Errorf("TypingUsers = %+v, want only Ben", typing)
	}
}

func TestDeletedConversationIsReleased(t *testing.T) {
	h := newHarness(t)
	id := h.group(t, 1, 2)
	sm := h.session(t, 1, false)
	if err := sm.Watch(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	waitLive(t, sm, conversationFeeds(id)...)

	if err := h.registry.Delete(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	gone, _ := next(t, sm, named(enums.SOCKET_EVENT_CONVERSATION_GONE))
	if gone.ConversationID != id {
		t.Errorf("gone for %d, want %d", gone.ConversationID, id)
	}
	eventually(t, "feeds released", func() bool {
		return len(sm.Watching()) == 0 && h.feed.SubscriberCount(feed.MessagesTopic(id)) == 0
	})
}
