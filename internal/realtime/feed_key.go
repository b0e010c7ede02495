package realtime

import (
	"fmt"
	"time"

	"carechat/internal/enums"
	"carechat/internal/feed"

	"github.com/jonboulle/clockwork"
)

// FeedKey names one logical feed of a session.
type FeedKey struct {
	Kind           string
	ConversationID uint
}

func MessagesFeed(conversationID uint) FeedKey {
	return FeedKey{Kind: enums.FEED_KIND_MESSAGES, ConversationID: conversationID}
}

func ParticipantsFeed(conversationID uint) FeedKey {
	return FeedKey{Kind: enums.FEED_KIND_PARTICIPANTS, ConversationID: conversationID}
}

func PresenceFeed(conversationID uint) FeedKey {
	return FeedKey{Kind: enums.FEED_KIND_PRESENCE, ConversationID: conversationID}
}

func UnreadFeed() FeedKey {
	return FeedKey{Kind: enums.FEED_KIND_UNREAD}
}

func (key FeedKey) String() string {
	if key.Kind == enums.FEED_KIND_UNREAD {
		return key.Kind
	}
	return fmt.Sprintf("%s:%d", key.Kind, key.ConversationID)
}

func (key FeedKey) topic(userID uint) string {
	switch key.Kind {
	case enums.FEED_KIND_MESSAGES:
		return feed.MessagesTopic(key.ConversationID)
	case enums.FEED_KIND_PARTICIPANTS:
		return feed.ParticipantsTopic(key.ConversationID)
	case enums.FEED_KIND_PRESENCE:
		return feed.PresenceTopic(key.ConversationID)
	default:
		return feed.UnreadTopic(userID)
	}
}

// clockTimer drives backoff waits from a clockwork clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (ct *clockTimer) Start(duration time.Duration) {
	if ct.timer == nil {
		ct.timer = ct.clock.NewTimer(duration)
		return
	}
	ct.timer.Reset(duration)
}

func (ct *clockTimer) Stop() {
	if ct.timer != nil {
		ct.timer.Stop()
	}
}

func (ct *clockTimer) C() <-chan time.Time {
	return ct.timer.Chan()
}
