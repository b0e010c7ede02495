package enums

const (
	CONVERSATION_KIND_GROUP  = "group"
	CONVERSATION_KIND_DIRECT = "direct"
)

// FAMILY_CHANNEL_NAME is the reserved group name of the family-wide channel.
const FAMILY_CHANNEL_NAME = "Family Chat"

const MESSAGE_MAX_LENGTH = 4000

// Change feed event names.
const (
	FEED_EVENT_MESSAGE_CREATED      = "message.created"
	FEED_EVENT_MESSAGE_DELETED      = "message.deleted"
	FEED_EVENT_PARTICIPANT_ADDED    = "participant.added"
	FEED_EVENT_PARTICIPANT_READ     = "participant.read"
	FEED_EVENT_CONVERSATION_MERGED  = "conversation.merged"
	FEED_EVENT_CONVERSATION_DELETED = "conversation.deleted"
	FEED_EVENT_PRESENCE_TYPING      = "presence.typing"
)

// Logical feed kinds owned by a subscription manager.
const (
	FEED_KIND_MESSAGES     = "messages"
	FEED_KIND_PARTICIPANTS = "participants"
	FEED_KIND_PRESENCE     = "presence"
	FEED_KIND_UNREAD       = "unread"
)

// Feed delivery statuses emitted by a feed subscription.
const (
	FEED_STATUS_LIVE         = "live"
	FEED_STATUS_EVENT        = "event"
	FEED_STATUS_DISCONNECTED = "disconnected"
)

// FeedState is the lifecycle of a single logical feed.
type FeedState string

const (
	FEED_STATE_DISCONNECTED  FeedState = "disconnected"
	FEED_STATE_SUBSCRIBING   FeedState = "subscribing"
	FEED_STATE_LIVE          FeedState = "live"
	FEED_STATE_RESUBSCRIBING FeedState = "resubscribing"
	FEED_STATE_CLOSED        FeedState = "closed"
)

const (
	STORE_DRIVER_POSTGRES = "postgres"
	STORE_DRIVER_MEMORY   = "memory"
	FEED_DRIVER_REDIS     = "redis"
	FEED_DRIVER_MEMORY    = "memory"
)

const FILE_BUCKET_USER_PROFILE = "user-profile"
