package msgs

const (
	MsgOperationSuccessful      = "Operation successful"
	MsgOperationFailed          = "Operation failed"
	MsgYouMustLoginFirst        = "You must login first"
	MsgTryAgain                 = "Temporary failure, please try again"
	MsgMessageSent              = "Message sent"
	MsgMessageNotSent           = "Message could not be sent"
	MsgMessageDeleted           = "Message deleted"
	MsgConversationCreated      = "Conversation created"
	MsgConversationNotCreated   = "Conversation could not be created"
	MsgConversationListFailed   = "Conversations could not be loaded"
	MsgConversationDeleted      = "Conversation deleted"
	MsgConversationMarkedAsRead = "Conversation marked as read"
	MsgTooManyRequests          = "Too many requests"
)

const (
	MsgInternalError   = "internal server error"
	MsgServiceHealthy  = "Service healthy"
	MsgServiceDegraded = "Service degraded"
)
