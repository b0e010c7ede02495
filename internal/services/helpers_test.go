package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"carechat/internal/enums"
	"carechat/internal/feed"
	"carechat/internal/interfaces"
	"carechat/internal/models"
	"carechat/internal/repositories"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type testEnv struct {
	clock     *clockwork.FakeClock
	store     *repositories.MemoryChatRepository
	directory *repositories.MemoryDirectoryRepository
	feed      *feed.MemoryFeed
	registry  *ConversationRegistry
	messages  *MessageLog
	receipts  *ReadReceiptTracker
	unread    *UnreadCounter
	presence  *PresenceHub
	profiles  *ProfileService
	chat      *ChatService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	store := repositories.NewMemoryChatRepository(clock)
	return newTestEnvWithStore(t, clock, store, store)
}

func newTestEnvWithStore(t *testing.T, clock *clockwork.FakeClock, memory *repositories.MemoryChatRepository, store interfaces.ChatStore) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	directory := repositories.NewMemoryDirectoryRepository()
	changeFeed := feed.NewMemoryFeed(64)

	env := &testEnv{
		clock:     clock,
		store:     memory,
		directory: directory,
		feed:      changeFeed,
		registry:  NewConversationRegistry(store, directory, changeFeed, clock, enums.FAMILY_CHANNEL_NAME, logger),
		messages:  NewMessageLog(store, changeFeed, clock, logger),
		receipts:  NewReadReceiptTracker(store, changeFeed, clock, logger),
		unread:    NewUnreadCounter(store),
		presence:  NewPresenceHub(changeFeed, clock, 3*time.Second, logger),
		profiles:  NewProfileService(directory, nil, 16, time.Minute, logger),
	}
	env.chat = NewChatService(store, env.registry, env.messages, env.receipts, env.unread, env.presence, env.profiles, 5*time.Second, logger)
	t.Cleanup(env.presence.Close)
	return env
}

func (env *testEnv) family(familyID uint, users ...models.User) {
	for _, user := range users {
		env.directory.PutUser(user)
		env.directory.Enroll(familyID, user.ID)
	}
}

// send appends a message and advances the clock so timestamps are distinct.
func (env *testEnv) send(t *testing.T, conversationID, senderID uint, content string) *models.Message {
	t.Helper()
	message, err := env.messages.Append(context.Background(), conversationID, senderID, content)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	env.clock.Advance(time.Second)
	return message
}

func (env *testEnv) group(t *testing.T, familyID, creatorID uint, members ...uint) uint {
	t.Helper()
	name := "Care team"
	env.directory.Enroll(familyID, append([]uint{creatorID}, members...)...)
	id, err := env.registry.Create(context.Background(), familyID, creatorID, enums.CONVERSATION_KIND_GROUP, members, &name)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

// recorder collects deliveries of one topic.
type recorder struct {
	mu     sync.Mutex
	events []models.FeedEvent
	done   chan struct{}
}

func record(t *testing.T, changeFeed interfaces.Feed, topic string) *recorder {
	t.Helper()
	subscription, err := changeFeed.Subscribe(context.Background(), topic)
	if err != nil {
		t.Fatalf("Subscribe(%s): %v", topic, err)
	}
	r := &recorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for delivery := range subscription.Deliveries() {
			if delivery.Event == nil {
				continue
			}
			r.mu.Lock()
			r.events = append(r.events, *delivery.Event)
			r.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		subscription.Close()
		<-r.done
	})
	return r
}

// waitFor polls until at least one recorded event satisfies match.
func (r *recorder) waitFor(t *testing.T, match func(models.FeedEvent) bool) models.FeedEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, event := range r.events {
			if match(event) {
				r.mu.Unlock()
				return event
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for feed event")
	return models.FeedEvent{}
}

func (r *recorder) count(match func(models.FeedEvent) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if match(event) {
			n++
		}
	}
	return n
}

func isEvent(name string) func(models.FeedEvent) bool {
	return func(event models.FeedEvent) bool { return event.Event == name }
}
