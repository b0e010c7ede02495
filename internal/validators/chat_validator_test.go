package validators

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/models"
)

func TestValidateMessageContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		err     error
	}{
		{"plain", "hello", "hello", nil},
		{"trimmed", "  hi there \n", "hi there", nil},
		{"empty", "", "", errs.ErrEmptyMessageContent},
		{"whitespace only", " \t\n ", "", errs.ErrEmptyMessageContent},
		{"too long", strings.Repeat("a", enums.MESSAGE_MAX_LENGTH+1), "", errs.ErrMessageTooLong},
		{"at limit", strings.Repeat("é", enums.MESSAGE_MAX_LENGTH), strings.Repeat("é", enums.MESSAGE_MAX_LENGTH), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateMessageContent(tt.content)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("content = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateConversationRequest(t *testing.T) {
	tests := []struct {
		name string
		body *models.CreateConversationRequestBody
		want []error
	}{
		{"nil", nil, []error{errs.ErrInvalidRequestBody}},
		{"valid group", &models.CreateConversationRequestBody{FamilyID: 1, Kind: enums.CONVERSATION_KIND_GROUP}, nil},
		{"direct without peer", &models.CreateConversationRequestBody{FamilyID: 1, Kind: enums.CONVERSATION_KIND_DIRECT}, []error{errs.ErrDirectParticipants}},
		{"bad kind and family", &models.CreateConversationRequestBody{Kind: "channel"}, []error{errs.ErrInvalidFamilyId, errs.ErrInvalidKind}},
		{"zero participant", &models.CreateConversationRequestBody{FamilyID: 1, Kind: enums.CONVERSATION_KIND_GROUP, ParticipantIDs: []uint{2, 0}}, []error{errs.ErrInvalidUserId}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateConversationRequest(tt.body)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("errors = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUniqueIDs(t *testing.T) {
	got := UniqueIDs(3, 1, 0, 3, 2, 1)
	if want := []uint{3, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("UniqueIDs = %v, want %v", got, want)
	}
}
