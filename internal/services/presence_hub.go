package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"carechat/internal/enums"
	"carechat/internal/feed"
	"carechat/internal/interfaces"
	"carechat/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// PresenceHub keeps typing state in memory only. Each typing entry carries its
// own timer; an entry that is not refreshed within the TTL disappears, and if
// it was set through this hub a typing=false is published for it.
//
// Follow mirrors typing published by other instances into the hub. A hub
// built without a feed is a purely local view, fed by Apply.
type PresenceHub struct {
	mu            sync.Mutex
	clock         clockwork.Clock
	ttl           time.Duration
	feed          interfaces.Feed
	logger        zerolog.Logger
	conversations map[uint]map[uint]*presenceEntry
	followed      map[uint]interfaces.FeedSubscription
	mirrors       sync.WaitGroup
	closed        bool
}

type presenceEntry struct {
	name       string
	freshAt    time.Time
	local      bool
	generation uint64
	timer      clockwork.Timer
}

func NewPresenceHub(changeFeed interfaces.Feed, clock clockwork.Clock, ttl time.Duration, logger zerolog.Logger) *PresenceHub {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &PresenceHub{
		clock:         clock,
		ttl:           ttl,
		feed:          changeFeed,
		logger:        logger,
		conversations: make(map[uint]map[uint]*presenceEntry),
		followed:      make(map[uint]interfaces.FeedSubscription),
	}
}

// SetTyping records and publishes the typing state of userID. Failures never
// reach the caller: presence degrades to "nobody is typing".
func (ph *PresenceHub) SetTyping(ctx context.Context, conversationID, userID uint, userName string, isTyping bool) {
	if conversationID == 0 || userID == 0 {
		ph.logger.Debug().Uint("conversation_id", conversationID).Uint("user_id", userID).Msg("typing ignored for invalid ids")
		return
	}
	if !ph.record(conversationID, userID, userName, isTyping, true) {
		return
	}
	ph.publish(ctx, conversationID, userID, userName, isTyping)
}

// Apply folds a typing event received from the feed into the local view.
func (ph *PresenceHub) Apply(event *models.FeedEvent) {
	if event == nil || event.Event != enums.FEED_EVENT_PRESENCE_TYPING {
		return
	}
	var typing models.TypingUser
	if err := event.Decode(&typing); err != nil {
		ph.logger.Debug().Err(err).Msg("undecodable typing event")
		return
	}
	ph.record(event.ConversationID, typing.UserID, typing.UserName, typing.IsTyping, false)
}

// Follow subscribes to the presence topic of conversationID so typing set on
// other instances shows up in Observe. It is a no-op when already following.
// A failed subscribe leaves the hub with its local view.
func (ph *PresenceHub) Follow(ctx context.Context, conversationID uint) {
	if ph.feed == nil || conversationID == 0 {
		return
	}
	ph.mu.Lock()
	_, following := ph.followed[conversationID]
	closed := ph.closed
	ph.mu.Unlock()
	if following || closed {
		return
	}

	subscription, err := ph.feed.Subscribe(ctx, feed.PresenceTopic(conversationID))
	if err != nil {
		ph.logger.Debug().Err(err).Uint("conversation_id", conversationID).Msg("presence follow failed")
		return
	}
	ph.mu.Lock()
	if _, following := ph.followed[conversationID]; following || ph.closed {
		ph.mu.Unlock()
		_ = subscription.Close()
		return
	}
	ph.followed[conversationID] = subscription
	ph.mirrors.Add(1)
	ph.mu.Unlock()
	go ph.mirror(conversationID, subscription)
}

func (ph *PresenceHub) mirror(conversationID uint, subscription interfaces.FeedSubscription) {
	defer ph.mirrors.Done()
	for delivery := range subscription.Deliveries() {
		ph.Apply(delivery.Event)
	}
	// The feed dropped us; the next Follow subscribes again.
	ph.mu.Lock()
	if ph.followed[conversationID] == subscription {
		delete(ph.followed, conversationID)
	}
	ph.mu.Unlock()
}

// Observe lists users currently typing in conversationID, observer excluded,
// ordered by user id.
func (ph *PresenceHub) Observe(conversationID, observerID uint) []models.TypingUser {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	now := ph.clock.Now()
	typing := make([]models.TypingUser, 0)
	for userID, entry := range ph.conversations[conversationID] {
		if userID == observerID || !entry.freshAt.Add(ph.ttl).After(now) {
			continue
		}
		typing = append(typing, models.TypingUser{
			UserID:   userID,
			UserName: entry.name,
			IsTyping: true,
			At:       entry.freshAt,
		})
	}
	sort.Slice(typing, func(i, j int) bool { return typing[i].UserID < typing[j].UserID })
	return typing
}

// Clear drops userID's state in conversationID without publishing anything.
func (ph *PresenceHub) Clear(conversationID, userID uint) {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	ph.removeLocked(conversationID, userID)
}

// Forget drops the whole local view of a conversation and stops following it.
func (ph *PresenceHub) Forget(conversationID uint) {
	ph.mu.Lock()
	for userID := range ph.conversations[conversationID] {
		ph.removeLocked(conversationID, userID)
	}
	subscription := ph.followed[conversationID]
	delete(ph.followed, conversationID)
	ph.mu.Unlock()

	if subscription != nil {
		_ = subscription.Close()
	}
}

// Close stops every pending timer and follow. Nothing fires after Close returns.
func (ph *PresenceHub) Close() {
	ph.mu.Lock()
	ph.closed = true
	for conversationID, users := range ph.conversations {
		for userID := range users {
			ph.removeLocked(conversationID, userID)
		}
	}
	subscriptions := make([]interfaces.FeedSubscription, 0, len(ph.followed))
	for conversationID, subscription := range ph.followed {
		subscriptions = append(subscriptions, subscription)
		delete(ph.followed, conversationID)
	}
	ph.mu.Unlock()

	for _, subscription := range subscriptions {
		_ = subscription.Close()
	}
	ph.mirrors.Wait()
}

// record updates the map and reports whether the hub is still open.
func (ph *PresenceHub) record(conversationID, userID uint, userName string, isTyping, local bool) bool {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	if ph.closed {
		return false
	}
	// Echoes of our own publishes never override the entry that sent them.
	if existing, ok := ph.conversations[conversationID][userID]; ok && existing.local && !local {
		return true
	}
	if !isTyping {
		ph.removeLocked(conversationID, userID)
		return true
	}

	users, ok := ph.conversations[conversationID]
	if !ok {
		users = make(map[uint]*presenceEntry)
		ph.conversations[conversationID] = users
	}
	entry, ok := users[userID]
	if !ok {
		entry = &presenceEntry{}
		users[userID] = entry
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.name = userName
	entry.freshAt = ph.clock.Now()
	entry.local = local
	entry.generation++

	generation := entry.generation
	entry.timer = ph.clock.AfterFunc(ph.ttl, func() {
		ph.expire(conversationID, userID, generation)
	})
	return true
}

func (ph *PresenceHub) expire(conversationID, userID uint, generation uint64) {
	ph.mu.Lock()
	entry, ok := ph.conversations[conversationID][userID]
	if ph.closed || !ok || entry.generation != generation {
		ph.mu.Unlock()
		return
	}
	name, local := entry.name, entry.local
	ph.removeLocked(conversationID, userID)
	ph.mu.Unlock()

	if local {
		ctx, cancel := context.WithTimeout(context.Background(), ph.ttl)
		defer cancel()
		ph.publish(ctx, conversationID, userID, name, false)
	}
}

func (ph *PresenceHub) removeLocked(conversationID, userID uint) {
	users := ph.conversations[conversationID]
	entry, ok := users[userID]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(ph.conversations, conversationID)
	}
}

func (ph *PresenceHub) publish(ctx context.Context, conversationID, userID uint, userName string, isTyping bool) {
	if ph.feed == nil {
		return
	}
	event, err := models.NewFeedEvent(enums.FEED_EVENT_PRESENCE_TYPING, conversationID, userID, models.TypingUser{
		UserID:   userID,
		UserName: userName,
		IsTyping: isTyping,
		At:       ph.clock.Now(),
	}, ph.clock.Now())
	if err != nil {
		ph.logger.Debug().Err(err).Msg("typing event not encoded")
		return
	}
	if err := ph.feed.Publish(ctx, feed.PresenceTopic(conversationID), event); err != nil {
		ph.logger.Debug().Err(err).Uint("conversation_id", conversationID).Msg("typing publish failed")
	}
}
