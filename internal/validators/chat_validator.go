package validators

import (
	"strings"
	"unicode/utf8"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/models"
)

// ValidateMessageContent returns the trimmed content, rejecting blank or oversized text.
func ValidateMessageContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", errs.ErrEmptyMessageContent
	}
	if utf8.RuneCountInString(trimmed) > enums.MESSAGE_MAX_LENGTH {
		return "", errs.ErrMessageTooLong
	}
	return trimmed, nil
}

func ValidateConversationRequest(body *models.CreateConversationRequestBody) []error {
	var errors []error
	if body == nil {
		return append(errors, errs.ErrInvalidRequestBody)
	}
	if body.FamilyID == 0 {
		errors = append(errors, errs.ErrInvalidFamilyId)
	}
	switch body.Kind {
	case enums.CONVERSATION_KIND_GROUP:
	case enums.CONVERSATION_KIND_DIRECT:
		if len(body.ParticipantIDs) == 0 {
			errors = append(errors, errs.ErrDirectParticipants)
		}
	default:
		errors = append(errors, errs.ErrInvalidKind)
	}
	for _, id := range body.ParticipantIDs {
		if id == 0 {
			errors = append(errors, errs.ErrInvalidUserId)
			break
		}
	}
	return errors
}

// UniqueIDs drops zero and repeated ids, keeping first-seen order.
func UniqueIDs(ids ...uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	unique := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
