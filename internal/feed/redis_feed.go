package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/interfaces"
	"carechat/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultHealthCheckInterval = 30 * time.Second

// RedisFeed carries feed events over redis pub/sub. Pub/sub keeps no backlog,
// so a consumer that drops off must resync from the store.
//
// A subscription that hears nothing for healthCheckInterval pings the server
// and reports itself disconnected when the pong does not arrive in time.
type RedisFeed struct {
	client              *redis.Client
	bufferSize          int
	healthCheckInterval time.Duration
	logger              zerolog.Logger
}

var _ interfaces.Feed = (*RedisFeed)(nil)

func NewRedisFeed(client *redis.Client, bufferSize int, healthCheckInterval time.Duration, logger zerolog.Logger) *RedisFeed {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if healthCheckInterval <= 0 {
		healthCheckInterval = defaultHealthCheckInterval
	}
	return &RedisFeed{
		client:              client,
		bufferSize:          bufferSize,
		healthCheckInterval: healthCheckInterval,
		logger:              logger,
	}
}

func (rf *RedisFeed) Ping(ctx context.Context) error {
	if err := rf.client.Ping(ctx).Err(); err != nil {
		return errs.Transient(fmt.Errorf("%w: %v", errs.ErrFeedUnavailable, err))
	}
	return nil
}

func (rf *RedisFeed) Publish(ctx context.Context, topic string, event models.FeedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := rf.client.Publish(ctx, topic, payload).Err(); err != nil {
		return errs.Transient(fmt.Errorf("%w: publish %s: %v", errs.ErrFeedUnavailable, topic, err))
	}
	return nil
}

func (rf *RedisFeed) Subscribe(ctx context.Context, topic string) (interfaces.FeedSubscription, error) {
	pubsub := rf.client.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so callers know the topic is live.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errs.Transient(fmt.Errorf("%w: subscribe %s: %v", errs.ErrFeedUnavailable, topic, err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	subscription := &redisSubscription{
		topic:               topic,
		pubsub:              pubsub,
		deliveries:          make(chan models.FeedDelivery, rf.bufferSize),
		healthCheckInterval: rf.healthCheckInterval,
		cancel:              cancel,
		done:                make(chan struct{}),
		logger:              rf.logger.With().Str("topic", topic).Logger(),
	}
	subscription.deliveries <- models.FeedDelivery{Status: enums.FEED_STATUS_LIVE, Topic: topic}
	go subscription.run(runCtx)
	return subscription, nil
}

type redisSubscription struct {
	topic               string
	pubsub              *redis.PubSub
	deliveries          chan models.FeedDelivery
	healthCheckInterval time.Duration
	cancel              context.CancelFunc
	done                chan struct{}
	closeOnce           sync.Once
	logger              zerolog.Logger
}

func (rs *redisSubscription) Deliveries() <-chan models.FeedDelivery {
	return rs.deliveries
}

func (rs *redisSubscription) Close() error {
	var err error
	rs.closeOnce.Do(func() {
		rs.cancel()
		err = rs.pubsub.Close()
		<-rs.done
	})
	return err
}

func (rs *redisSubscription) run(ctx context.Context) {
	defer close(rs.done)
	defer close(rs.deliveries)

	awaitingPong := false
	for {
		received, err := rs.pubsub.ReceiveTimeout(ctx, rs.healthCheckInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isTimeout(err) && !awaitingPong {
				if err = rs.pubsub.Ping(ctx); err == nil {
					awaitingPong = true
					continue
				}
			}
			rs.disconnected(ctx, err)
			return
		}
		awaitingPong = false

		msg, ok := received.(*redis.Message)
		if !ok {
			// Pongs and subscription confirmations only prove liveness.
			continue
		}
		var event models.FeedEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			rs.logger.Warn().Err(err).Msg("dropping undecodable feed event")
			continue
		}
		select {
		case rs.deliveries <- models.FeedDelivery{Status: enums.FEED_STATUS_EVENT, Topic: rs.topic, Event: &event}:
		case <-ctx.Done():
			return
		}
	}
}

func (rs *redisSubscription) disconnected(ctx context.Context, err error) {
	rs.logger.Warn().Err(err).Msg("feed subscription lost")
	select {
	case rs.deliveries <- models.FeedDelivery{Status: enums.FEED_STATUS_DISCONNECTED, Topic: rs.topic}:
	case <-ctx.Done():
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
