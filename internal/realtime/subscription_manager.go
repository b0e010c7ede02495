package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/interfaces"
	"carechat/internal/models"
	socketModels "carechat/internal/models/socket"
	"carechat/internal/services"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Backend is the request/response side a session reads snapshots from.
type Backend interface {
	Authorize(ctx context.Context, conversationID, userID uint) (*models.Conversation, error)
	ListMessages(ctx context.Context, conversationID, userID uint) (*models.MessageListResponse, error)
	MarkRead(ctx context.Context, conversationID, userID uint, at *time.Time) (*models.Participant, error)
	UnreadCount(ctx context.Context, userID uint) (*models.UnreadCountResponse, error)
}

var _ Backend = (*services.ChatService)(nil)

type Options struct {
	QueueSize      int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	TypingTTL      time.Duration
	// AutoMarkRead advances the viewer's cursor when a message from someone
	// else arrives in a watched conversation.
	AutoMarkRead bool
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 250 * time.Millisecond
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = 10 * time.Second
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 3 * time.Second
	}
	return o
}

type itemKind int

const (
	itemLive itemKind = iota
	itemDisconnected
	itemEvent
	itemResync
)

type inboxItem struct {
	kind  itemKind
	key   FeedKey
	scope *scope
	gap   bool
	event *models.FeedEvent
}

// scope is a set of feeds torn down together: the three feeds of a watched
// conversation, or the session-wide unread feed.
type scope struct {
	conversationID uint
	keys           []FeedKey
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	timers         map[FeedKey]clockwork.Timer
	backoffs       map[FeedKey]*backoff.ExponentialBackOff
}

// SubscriptionManager is the realtime side of one device session. Feed
// goroutines only move deliveries into a single inbox; one dispatch goroutine
// applies them to the caches and emits updates, so caches never see
// concurrent writers.
type SubscriptionManager struct {
	userID  uint
	backend Backend
	feed    interfaces.Feed
	clock   clockwork.Clock
	options Options
	logger  zerolog.Logger

	messages *MessageCache
	receipts *ReceiptCache
	presence *services.PresenceHub
	unread   *UnreadAggregate

	inbox   chan inboxItem
	updates chan socketModels.ServerEvent

	mu          sync.Mutex
	states      map[FeedKey]enums.FeedState
	watches     map[uint]*scope
	unreadScope *scope
	closed      bool

	// dispatchMu is held while an inbox item is applied; teardown takes it to
	// drop caches only between items.
	dispatchMu sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
}

func NewSubscriptionManager(userID uint, backend Backend, changeFeed interfaces.Feed, clock clockwork.Clock, options Options, logger zerolog.Logger) *SubscriptionManager {
	options = options.withDefaults()
	logger = logger.With().Uint("user_id", userID).Logger()
	ctx, cancel := context.WithCancel(context.Background())
	sm := &SubscriptionManager{
		userID:   userID,
		backend:  backend,
		feed:     changeFeed,
		clock:    clock,
		options:  options,
		logger:   logger,
		messages: NewMessageCache(),
		receipts: NewReceiptCache(),
		presence: services.NewPresenceHub(nil, clock, options.TypingTTL, logger),
		unread:   &UnreadAggregate{},
		inbox:    make(chan inboxItem, options.QueueSize),
		updates:  make(chan socketModels.ServerEvent, options.QueueSize),
		states:   make(map[FeedKey]enums.FeedState),
		watches:  make(map[uint]*scope),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go sm.dispatchLoop()
	return sm
}

// Updates delivers everything the client should render. It is closed by Close.
func (sm *SubscriptionManager) Updates() <-chan socketModels.ServerEvent {
	return sm.updates
}

// Start attaches the session-wide unread feed.
func (sm *SubscriptionManager) Start() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return errs.ErrSessionClosed
	}
	if sm.unreadScope != nil {
		return nil
	}
	sm.unreadScope = sm.attachLocked(0, UnreadFeed())
	return nil
}

// Watch attaches the message, participant and presence feeds of a
// conversation the user belongs to. Watching twice is a no-op.
func (sm *SubscriptionManager) Watch(ctx context.Context, conversationID uint) error {
	if sm.isClosed() {
		return errs.ErrSessionClosed
	}
	if _, err := sm.backend.Authorize(ctx, conversationID, sm.userID); err != nil {
		return err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return errs.ErrSessionClosed
	}
	if _, ok := sm.watches[conversationID]; ok {
		return nil
	}
	sm.watches[conversationID] = sm.attachLocked(conversationID,
		MessagesFeed(conversationID),
		ParticipantsFeed(conversationID),
		PresenceFeed(conversationID),
	)
	sm.logger.Debug().Uint("conversation_id", conversationID).Msg("watching conversation")
	return nil
}

// Unwatch releases every feed of the conversation. When it returns no
// goroutine, timer or handler of that conversation is left running.
func (sm *SubscriptionManager) Unwatch(conversationID uint) error {
	sm.mu.Lock()
	sc, ok := sm.watches[conversationID]
	if !ok {
		sm.mu.Unlock()
		return errs.ErrNotWatching
	}
	sm.detachLocked(sc)
	sm.mu.Unlock()

	sc.cancel()
	sc.wg.Wait()

	sm.dispatchMu.Lock()
	sm.dropCaches(conversationID)
	sm.dispatchMu.Unlock()
	return nil
}

func (sm *SubscriptionManager) Close() {
	sm.closeOnce.Do(func() {
		sm.mu.Lock()
		sm.closed = true
		var scopes []*scope
		for _, sc := range sm.watches {
			scopes = append(scopes, sc)
		}
		if sm.unreadScope != nil {
			scopes = append(scopes, sm.unreadScope)
		}
		for _, sc := range scopes {
			sm.detachLocked(sc)
		}
		sm.mu.Unlock()

		for _, sc := range scopes {
			sc.cancel()
		}
		for _, sc := range scopes {
			sc.wg.Wait()
		}
		sm.cancel()
		<-sm.done
		sm.presence.Close()
		close(sm.updates)
		sm.logger.Debug().Msg("session closed")
	})
}

// State reports where a feed is in its lifecycle. Feeds never attached are
// disconnected.
func (sm *SubscriptionManager) State(key FeedKey) enums.FeedState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if state, ok := sm.states[key]; ok {
		return state
	}
	return enums.FEED_STATE_DISCONNECTED
}

// Watching lists watched conversation ids in ascending order.
func (sm *SubscriptionManager) Watching() []uint {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ids := make([]uint, 0, len(sm.watches))
	for id := range sm.watches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (sm *SubscriptionManager) Messages(conversationID uint) []models.Message {
	return sm.messages.List(conversationID)
}

func (sm *SubscriptionManager) ReadersOf(conversationID, messageID uint) ([]models.Participant, error) {
	message, ok := sm.messages.Get(conversationID, messageID)
	if !ok {
		return nil, errs.ErrMessageNotFound
	}
	return sm.receipts.Readers(conversationID, message.CreatedAt, message.SenderID), nil
}

func (sm *SubscriptionManager) TypingUsers(conversationID uint) []models.TypingUser {
	return sm.presence.Observe(conversationID, sm.userID)
}

func (sm *SubscriptionManager) UnreadCount() int64 {
	return sm.unread.Total()
}

func (sm *SubscriptionManager) isClosed() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.closed
}

func (sm *SubscriptionManager) attachLocked(conversationID uint, keys ...FeedKey) *scope {
	ctx, cancel := context.WithCancel(sm.ctx)
	sc := &scope{
		conversationID: conversationID,
		keys:           keys,
		ctx:            ctx,
		cancel:         cancel,
		timers:         make(map[FeedKey]clockwork.Timer),
		backoffs:       make(map[FeedKey]*backoff.ExponentialBackOff),
	}
	for _, key := range keys {
		sm.states[key] = enums.FEED_STATE_DISCONNECTED
		sc.wg.Add(1)
		go sm.run(sc, key)
	}
	return sc
}

func (sm *SubscriptionManager) detachLocked(sc *scope) {
	if sc.conversationID == 0 {
		if sm.unreadScope == sc {
			sm.unreadScope = nil
		}
	} else if sm.watches[sc.conversationID] == sc {
		delete(sm.watches, sc.conversationID)
	}
	for _, key := range sc.keys {
		sm.states[key] = enums.FEED_STATE_CLOSED
	}
	for key, timer := range sc.timers {
		timer.Stop()
		delete(sc.timers, key)
	}
}

func (sm *SubscriptionManager) currentLocked(sc *scope) bool {
	if sc == nil {
		return false
	}
	if sc.conversationID == 0 {
		return sm.unreadScope == sc
	}
	return sm.watches[sc.conversationID] == sc
}

func (sm *SubscriptionManager) current(sc *scope) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.currentLocked(sc)
}

func (sm *SubscriptionManager) setState(sc *scope, key FeedKey, state enums.FeedState) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.currentLocked(sc) {
		sm.states[key] = state
	}
}

func (sm *SubscriptionManager) dropCaches(conversationID uint) {
	sm.messages.Drop(conversationID)
	sm.receipts.Drop(conversationID)
	sm.presence.Forget(conversationID)
}

// run owns the subscription of one feed: attach, pump deliveries into the
// inbox, and resubscribe after every drop until the scope is cancelled.
func (sm *SubscriptionManager) run(sc *scope, key FeedKey) {
	defer sc.wg.Done()
	topic := key.topic(sm.userID)
	gap := false
	for {
		if gap {
			sm.setState(sc, key, enums.FEED_STATE_RESUBSCRIBING)
		} else {
			sm.setState(sc, key, enums.FEED_STATE_SUBSCRIBING)
		}
		subscription, err := sm.subscribe(sc.ctx, topic)
		if err != nil {
			return
		}
		sm.consume(sc, key, subscription, gap)
		if sc.ctx.Err() != nil {
			return
		}
		sm.logger.Warn().Str("feed", key.String()).Msg("feed dropped, resubscribing")
		sm.setState(sc, key, enums.FEED_STATE_DISCONNECTED)
		sm.enqueue(sc, inboxItem{kind: itemDisconnected, key: key, scope: sc})
		gap = true
	}
}

func (sm *SubscriptionManager) subscribe(ctx context.Context, topic string) (interfaces.FeedSubscription, error) {
	var subscription interfaces.FeedSubscription
	operation := func() error {
		attached, err := sm.feed.Subscribe(ctx, topic)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		subscription = attached
		return nil
	}
	notify := func(err error, next time.Duration) {
		sm.logger.Warn().Err(err).Str("topic", topic).Dur("retry_in", next).Msg("feed subscribe failed")
	}
	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(sm.newBackOff(), ctx), notify, &clockTimer{clock: sm.clock})
	return subscription, err
}

func (sm *SubscriptionManager) consume(sc *scope, key FeedKey, subscription interfaces.FeedSubscription, gap bool) {
	defer subscription.Close()
	for {
		select {
		case <-sc.ctx.Done():
			return
		case delivery, ok := <-subscription.Deliveries():
			if !ok {
				return
			}
			switch delivery.Status {
			case enums.FEED_STATUS_LIVE:
				sm.setState(sc, key, enums.FEED_STATE_LIVE)
				sm.enqueue(sc, inboxItem{kind: itemLive, key: key, scope: sc, gap: gap})
			case enums.FEED_STATUS_EVENT:
				if delivery.Event != nil {
					sm.enqueue(sc, inboxItem{kind: itemEvent, key: key, scope: sc, event: delivery.Event})
				}
			}
		}
	}
}

func (sm *SubscriptionManager) enqueue(sc *scope, item inboxItem) {
	select {
	case sm.inbox <- item:
	case <-sc.ctx.Done():
	}
}

func (sm *SubscriptionManager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = sm.options.BackoffInitial
	b.MaxInterval = sm.options.BackoffMax
	b.MaxElapsedTime = 0
	b.Clock = sm.clock
	b.Reset()
	return b
}

func (sm *SubscriptionManager) dispatchLoop() {
	defer close(sm.done)
	for {
		select {
		case <-sm.ctx.Done():
			return
		case item := <-sm.inbox:
			sm.dispatchMu.Lock()
			if sm.current(item.scope) {
				sm.dispatch(item)
			}
			sm.dispatchMu.Unlock()
		}
	}
}

func (sm *SubscriptionManager) dispatch(item inboxItem) {
	switch item.kind {
	case itemLive, itemResync:
		sm.snapshot(item.scope, item.key, item.gap)
	case itemDisconnected:
		// No stale typing indicators survive a presence gap.
		if item.key.Kind == enums.FEED_KIND_PRESENCE {
			sm.presence.Forget(item.key.ConversationID)
		}
	case itemEvent:
		sm.apply(item.scope, item.key, item.event)
	}
}

// snapshot re-reads the authoritative state behind a feed. A failed fetch is
// retried on a backoff timer owned by the scope.
func (sm *SubscriptionManager) snapshot(sc *scope, key FeedKey, gap bool) {
	err := sm.fetch(sc, key)
	if err != nil {
		if sc.ctx.Err() != nil || !sm.current(sc) {
			return
		}
		delay := sm.backoffFor(sc, key).NextBackOff()
		sm.logger.Warn().Err(err).Str("feed", key.String()).Dur("retry_in", delay).Msg("snapshot failed")
		sm.schedule(sc, key, delay, gap)
		return
	}
	if b, ok := sc.backoffs[key]; ok {
		b.Reset()
	}
	if gap && sm.current(sc) {
		sm.emit(key.ConversationID, enums.SOCKET_EVENT_RESYNCED, socketModels.ResyncedPayload{Feed: key.Kind})
	}
}

func (sm *SubscriptionManager) fetch(sc *scope, key FeedKey) error {
	conversationID := key.ConversationID
	switch key.Kind {
	case enums.FEED_KIND_MESSAGES:
		list, err := sm.backend.ListMessages(sc.ctx, conversationID, sm.userID)
		if err != nil {
			return sm.checkGone(sc, err)
		}
		sm.messages.Replace(conversationID, list.Messages)
	case enums.FEED_KIND_PARTICIPANTS:
		conversation, err := sm.backend.Authorize(sc.ctx, conversationID, sm.userID)
		if err != nil {
			return sm.checkGone(sc, err)
		}
		sm.receipts.Replace(conversationID, conversation.Participants)
	case enums.FEED_KIND_PRESENCE:
		sm.presence.Forget(conversationID)
	case enums.FEED_KIND_UNREAD:
		count, err := sm.backend.UnreadCount(sc.ctx, sm.userID)
		if err != nil {
			return err
		}
		if sm.unread.Set(count.Unread) {
			sm.emit(0, enums.SOCKET_EVENT_UNREAD_COUNT, socketModels.UnreadCountPayload{Unread: count.Unread})
		}
	}
	return nil
}

// checkGone tears the scope down when the conversation no longer exists or
// the user was removed from it; such failures are not retried.
func (sm *SubscriptionManager) checkGone(sc *scope, err error) error {
	switch errs.KindOf(err) {
	case errs.KindNotFound, errs.KindAuthorization:
		sm.gone(sc, "unavailable", 0)
		return nil
	}
	return err
}

func (sm *SubscriptionManager) schedule(sc *scope, key FeedKey, delay time.Duration, gap bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.currentLocked(sc) {
		return
	}
	if previous, ok := sc.timers[key]; ok {
		previous.Stop()
	}
	sc.timers[key] = sm.clock.AfterFunc(delay, func() {
		sm.enqueue(sc, inboxItem{kind: itemResync, key: key, scope: sc, gap: gap})
	})
}

func (sm *SubscriptionManager) backoffFor(sc *scope, key FeedKey) *backoff.ExponentialBackOff {
	b, ok := sc.backoffs[key]
	if !ok {
		b = sm.newBackOff()
		sc.backoffs[key] = b
	}
	return b
}

// apply routes an event to the single handler owning it. Every handler is
// idempotent against redelivery.
func (sm *SubscriptionManager) apply(sc *scope, key FeedKey, event *models.FeedEvent) {
	var err error
	switch key.Kind {
	case enums.FEED_KIND_MESSAGES:
		err = sm.applyMessageEvent(sc, event)
	case enums.FEED_KIND_PARTICIPANTS:
		err = sm.applyParticipantEvent(sc, event)
	case enums.FEED_KIND_PRESENCE:
		err = sm.applyPresenceEvent(sc, event)
	case enums.FEED_KIND_UNREAD:
		sm.snapshot(sc, key, false)
	}
	if err != nil {
		sm.logger.Debug().Err(err).Str("feed", key.String()).Str("event", event.Event).Msg("feed event skipped")
	}
}

func (sm *SubscriptionManager) applyMessageEvent(sc *scope, event *models.FeedEvent) error {
	switch event.Event {
	case enums.FEED_EVENT_MESSAGE_CREATED:
		var message models.Message
		if err := event.Decode(&message); err != nil {
			return err
		}
		if !sm.messages.Insert(message) {
			return nil
		}
		sm.emit(sc.conversationID, enums.SOCKET_EVENT_MESSAGE_CREATED, message)
		if sm.options.AutoMarkRead && message.SenderID != sm.userID {
			if _, err := sm.backend.MarkRead(sc.ctx, sc.conversationID, sm.userID, &message.CreatedAt); err != nil {
				sm.logger.Debug().Err(err).Uint("conversation_id", sc.conversationID).Msg("auto mark read failed")
			}
		}
	case enums.FEED_EVENT_MESSAGE_DELETED:
		var message models.Message
		if err := event.Decode(&message); err != nil {
			return err
		}
		if sm.messages.Remove(sc.conversationID, message.ID) {
			sm.emit(sc.conversationID, enums.SOCKET_EVENT_MESSAGE_DELETED, message)
		}
	case enums.FEED_EVENT_CONVERSATION_DELETED:
		sm.gone(sc, "deleted", 0)
	}
	return nil
}

func (sm *SubscriptionManager) applyParticipantEvent(sc *scope, event *models.FeedEvent) error {
	switch event.Event {
	case enums.FEED_EVENT_PARTICIPANT_READ, enums.FEED_EVENT_PARTICIPANT_ADDED:
		var participant models.Participant
		if err := event.Decode(&participant); err != nil {
			return err
		}
		if participant.ConversationID != sc.conversationID {
			return errors.New("participant event for another conversation")
		}
		if !sm.receipts.Advance(participant) {
			return nil
		}
		name := enums.SOCKET_EVENT_PARTICIPANT_READ
		if event.Event == enums.FEED_EVENT_PARTICIPANT_ADDED {
			name = enums.SOCKET_EVENT_PARTICIPANT_ADDED
		}
		sm.emit(sc.conversationID, name, participant)
	case enums.FEED_EVENT_CONVERSATION_MERGED:
		var merge models.ConversationMerge
		if err := event.Decode(&merge); err != nil {
			return err
		}
		switch sc.conversationID {
		case merge.FromID:
			sm.gone(sc, "merged", merge.IntoID)
		case merge.IntoID:
			sm.snapshot(sc, MessagesFeed(sc.conversationID), true)
			sm.snapshot(sc, ParticipantsFeed(sc.conversationID), true)
		}
	case enums.FEED_EVENT_CONVERSATION_DELETED:
		sm.gone(sc, "deleted", 0)
	}
	return nil
}

func (sm *SubscriptionManager) applyPresenceEvent(sc *scope, event *models.FeedEvent) error {
	if event.Event != enums.FEED_EVENT_PRESENCE_TYPING {
		return nil
	}
	var typing models.TypingUser
	if err := event.Decode(&typing); err != nil {
		return err
	}
	if typing.UserID == sm.userID {
		return nil
	}
	sm.presence.Apply(event)
	sm.emit(sc.conversationID, enums.SOCKET_EVENT_TYPING, typing)
	return nil
}

// gone tells the client a watched conversation disappeared and releases it.
// It runs on the dispatch goroutine, which already holds dispatchMu.
func (sm *SubscriptionManager) gone(sc *scope, reason string, intoID uint) {
	sm.mu.Lock()
	if !sm.currentLocked(sc) {
		sm.mu.Unlock()
		return
	}
	sm.detachLocked(sc)
	sm.mu.Unlock()

	sm.emit(sc.conversationID, enums.SOCKET_EVENT_CONVERSATION_GONE, socketModels.ConversationGonePayload{Reason: reason, IntoID: intoID})
	sc.cancel()
	sc.wg.Wait()
	sm.dropCaches(sc.conversationID)
	sm.logger.Info().Uint("conversation_id", sc.conversationID).Str("reason", reason).Msg("watched conversation gone")
}

func (sm *SubscriptionManager) emit(conversationID uint, event string, payload any) {
	update := socketModels.ServerEvent{
		ID:             uuid.NewString(),
		Event:          event,
		ConversationID: conversationID,
		Payload:        payload,
		At:             sm.clock.Now(),
	}
	select {
	case sm.updates <- update:
	case <-sm.ctx.Done():
	}
}
