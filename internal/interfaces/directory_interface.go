package interfaces

import (
	"context"

	"carechat/internal/models"
)

type FamilyRoster interface {
	MembersOf(ctx context.Context, familyID uint) ([]uint, error)
}

// ProfileDirectory resolves names and avatars in one batch call.
type ProfileDirectory interface {
	NamesAndAvatars(ctx context.Context, userIDs []uint) (map[uint]models.Profile, error)
}

type DirectoryStore interface {
	FamilyRoster
	FindUsers(ctx context.Context, userIDs []uint) ([]models.User, error)
}

type AvatarResolver interface {
	AvatarURL(ctx context.Context, objectKey string) (string, error)
}
