package services

import (
	"context"

	"carechat/internal/interfaces"
	"carechat/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// eventPublisher fans a feed event out to topics. The store is authoritative,
// so publish failures are logged and subscribers recover by resyncing.
type eventPublisher struct {
	feed   interfaces.Feed
	clock  clockwork.Clock
	logger zerolog.Logger
}

func (ep *eventPublisher) publish(ctx context.Context, event string, conversationID, userID uint, payload any, topics ...string) {
	if ep.feed == nil || len(topics) == 0 {
		return
	}
	feedEvent, err := models.NewFeedEvent(event, conversationID, userID, payload, ep.clock.Now())
	if err != nil {
		ep.logger.Error().Err(err).Str("event", event).Msg("failed to encode feed event")
		return
	}
	for _, topic := range topics {
		if err := ep.feed.Publish(ctx, topic, feedEvent); err != nil {
			ep.logger.Warn().Err(err).Str("event", event).Str("topic", topic).Msg("feed publish failed")
		}
	}
}
