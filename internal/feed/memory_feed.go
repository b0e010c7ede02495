package feed

import (
	"context"
	"fmt"
	"sync"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/interfaces"
	"carechat/internal/models"
)

// MemoryFeed is an in-process feed. Interrupt drops every subscriber and
// refuses traffic until Resume, which is how tests exercise reconnects.
type MemoryFeed struct {
	mu          sync.Mutex
	bufferSize  int
	interrupted bool
	topics      map[string]map[*memorySubscription]struct{}
}

var _ interfaces.Feed = (*MemoryFeed)(nil)

func NewMemoryFeed(bufferSize int) *MemoryFeed {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &MemoryFeed{
		bufferSize: bufferSize,
		topics:     make(map[string]map[*memorySubscription]struct{}),
	}
}

func (mf *MemoryFeed) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mf.mu.Lock()
	defer mf.mu.Unlock()
	if mf.interrupted {
		return errs.Transient(errs.ErrFeedUnavailable)
	}
	return nil
}

func (mf *MemoryFeed) Publish(ctx context.Context, topic string, event models.FeedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mf.mu.Lock()
	defer mf.mu.Unlock()
	if mf.interrupted {
		return errs.Transient(fmt.Errorf("%w: publish %s", errs.ErrFeedUnavailable, topic))
	}

	for subscription := range mf.topics[topic] {
		copied := event
		if !subscription.offer(models.FeedDelivery{Status: enums.FEED_STATUS_EVENT, Topic: topic, Event: &copied}) {
			// Slow consumer: cut it loose, it resyncs on resubscribe.
			subscription.terminate(true)
			delete(mf.topics[topic], subscription)
		}
	}
	return nil
}

func (mf *MemoryFeed) Subscribe(ctx context.Context, topic string) (interfaces.FeedSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mf.mu.Lock()
	defer mf.mu.Unlock()
	if mf.interrupted {
		return nil, errs.Transient(fmt.Errorf("%w: subscribe %s", errs.ErrFeedUnavailable, topic))
	}

	subscription := &memorySubscription{
		feed:       mf,
		topic:      topic,
		deliveries: make(chan models.FeedDelivery, mf.bufferSize+1),
	}
	subscription.deliveries <- models.FeedDelivery{Status: enums.FEED_STATUS_LIVE, Topic: topic}
	if mf.topics[topic] == nil {
		mf.topics[topic] = make(map[*memorySubscription]struct{})
	}
	mf.topics[topic][subscription] = struct{}{}
	return subscription, nil
}

// Interrupt disconnects every subscriber and fails publishes until Resume.
func (mf *MemoryFeed) Interrupt() {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	mf.interrupted = true
	for topic, subscriptions := range mf.topics {
		for subscription := range subscriptions {
			subscription.terminate(true)
		}
		delete(mf.topics, topic)
	}
}

func (mf *MemoryFeed) Resume() {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	mf.interrupted = false
}

// SubscriberCount reports live subscriptions on topic.
func (mf *MemoryFeed) SubscriberCount(topic string) int {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	return len(mf.topics[topic])
}

func (mf *MemoryFeed) remove(subscription *memorySubscription) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	delete(mf.topics[subscription.topic], subscription)
	if len(mf.topics[subscription.topic]) == 0 {
		delete(mf.topics, subscription.topic)
	}
}

type memorySubscription struct {
	feed       *MemoryFeed
	topic      string
	mu         sync.Mutex
	closed     bool
	deliveries chan models.FeedDelivery
}

func (ms *memorySubscription) Deliveries() <-chan models.FeedDelivery {
	return ms.deliveries
}

func (ms *memorySubscription) Close() error {
	ms.feed.remove(ms)
	ms.terminate(false)
	return nil
}

// offer keeps one slot free so a disconnected status always fits.
func (ms *memorySubscription) offer(delivery models.FeedDelivery) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return true
	}
	if len(ms.deliveries) >= cap(ms.deliveries)-1 {
		return false
	}
	ms.deliveries <- delivery
	return true
}

func (ms *memorySubscription) terminate(announce bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return
	}
	ms.closed = true
	if announce {
		ms.deliveries <- models.FeedDelivery{Status: enums.FEED_STATUS_DISCONNECTED, Topic: ms.topic}
	}
	close(ms.deliveries)
}
