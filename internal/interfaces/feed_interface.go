package interfaces

import (
	"context"

	"carechat/internal/models"
)

// Feed is the change feed: at-least-once, no backlog replay.
type Feed interface {
	Publish(ctx context.Context, topic string, event models.FeedEvent) error
	Subscribe(ctx context.Context, topic string) (FeedSubscription, error)
	Ping(ctx context.Context) error
}

// FeedSubscription delivers a live status once attached, then events. A
// disconnected status is final: the channel is closed right after it.
type FeedSubscription interface {
	Deliveries() <-chan models.FeedDelivery
	Close() error
}
