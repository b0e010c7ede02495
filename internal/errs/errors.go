package errs

import (
	"context"
	"errors"
)

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrInvalidRequestBody    = Error("invalid request body")
	ErrInvalidRequest        = Error("invalid request")
	ErrInvalidParams         = Error("invalid params")
	ErrUnauthorized          = Error("unauthorized")
	ErrInvalidToken          = Error("invalid token")
	ErrNoCurrentUser         = Error("no authenticated user in session")
	ErrInvalidConversationId = Error("invalid conversation id")
	ErrInvalidMessageId      = Error("invalid message id")
	ErrInvalidUserId         = Error("invalid user id")
	ErrInvalidFamilyId       = Error("invalid family id")
	ErrInvalidKind           = Error("conversation kind must be group or direct")
	ErrDirectWithSelf        = Error("direct conversation requires two distinct users")
	ErrDirectParticipants    = Error("direct conversation requires exactly two participants")
	ErrEmptyMessageContent   = Error("message content is empty")
	ErrMessageTooLong        = Error("message content is too long")
	ErrConversationNotFound  = Error("conversation not found")
	ErrMessageNotFound       = Error("message not found")
	ErrParticipantNotFound   = Error("participant not found")
	ErrNotParticipant        = Error("user is not a participant of the conversation")
	ErrNotFamilyMember       = Error("user is not a member of the family")
	ErrNotMessageSender      = Error("only the sender may delete a message")
	ErrDuplicate             = Error("record already exists")
	ErrPartialEnrollment     = Error("some participants could not be enrolled")
	ErrFeedUnavailable       = Error("change feed unavailable")
	ErrFeedClosed            = Error("change feed subscription closed")
	ErrPresenceUnavailable   = Error("presence channel unavailable")
	ErrTimeout               = Error("operation timed out")
	ErrSessionClosed         = Error("session closed")
	ErrNotWatching           = Error("conversation is not being watched")
)

// Kind groups errors by how callers are expected to react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindTransient
	KindAuthorization
	KindValidation
	KindNotFound
	KindPartialEnrollment
	KindPresence
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPartialEnrollment:
		return "partial_enrollment"
	case KindPresence:
		return "presence"
	default:
		return "internal"
	}
}

type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient marks err as a retryable network or timeout failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var t *transientError
	switch {
	case errors.As(err, &t),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrFeedUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrNoCurrentUser),
		errors.Is(err, ErrNotParticipant),
		errors.Is(err, ErrNotFamilyMember),
		errors.Is(err, ErrNotMessageSender):
		return KindAuthorization
	case errors.Is(err, ErrInvalidRequestBody),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidParams),
		errors.Is(err, ErrInvalidConversationId),
		errors.Is(err, ErrInvalidMessageId),
		errors.Is(err, ErrInvalidUserId),
		errors.Is(err, ErrInvalidFamilyId),
		errors.Is(err, ErrInvalidKind),
		errors.Is(err, ErrDirectWithSelf),
		errors.Is(err, ErrDirectParticipants),
		errors.Is(err, ErrEmptyMessageContent),
		errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrNotWatching):
		return KindValidation
	case errors.Is(err, ErrConversationNotFound),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrParticipantNotFound):
		return KindNotFound
	case errors.Is(err, ErrPartialEnrollment):
		return KindPartialEnrollment
	case errors.Is(err, ErrPresenceUnavailable):
		return KindPresence
	}
	return KindInternal
}
