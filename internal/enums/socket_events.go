package enums

// Client -> server socket events.
const (
	SOCKET_EVENT_WATCH          = "watch"
	SOCKET_EVENT_UNWATCH        = "unwatch"
	SOCKET_EVENT_SEND_MESSAGE   = "send_message"
	SOCKET_EVENT_SEEN_MESSAGE   = "seen_message"
	SOCKET_EVENT_IS_TYPING      = "is_typing"
	SOCKET_EVENT_DELETE_MESSAGE = "delete_message"
)

// Server -> client socket events.
const (
	SOCKET_EVENT_MESSAGE_CREATED   = "message_created"
	SOCKET_EVENT_MESSAGE_DELETED   = "message_deleted"
	SOCKET_EVENT_PARTICIPANT_READ  = "participant_read"
	SOCKET_EVENT_PARTICIPANT_ADDED = "participant_added"
	SOCKET_EVENT_TYPING            = "typing"
	SOCKET_EVENT_UNREAD_COUNT      = "unread_count"
	SOCKET_EVENT_CONVERSATION_GONE = "conversation_gone"
	SOCKET_EVENT_RESYNCED          = "resynced"
	SOCKET_EVENT_ERROR             = "error"
)
