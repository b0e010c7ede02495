package services

import (
	"context"
	"fmt"
	"time"

	"carechat/internal/interfaces"
	"carechat/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const unknownUserName = "Unknown user"

// ProfileService answers batched name/avatar lookups from a small expiring
// cache, going to the directory once per call for all misses.
type ProfileService struct {
	directory interfaces.DirectoryStore
	avatars   interfaces.AvatarResolver
	cache     *expirable.LRU[uint, models.Profile]
	logger    zerolog.Logger
}

var _ interfaces.ProfileDirectory = (*ProfileService)(nil)

func NewProfileService(directory interfaces.DirectoryStore, avatars interfaces.AvatarResolver, size int, ttl time.Duration, logger zerolog.Logger) *ProfileService {
	if size <= 0 {
		size = 1024
	}
	return &ProfileService{
		directory: directory,
		avatars:   avatars,
		cache:     expirable.NewLRU[uint, models.Profile](size, nil, ttl),
		logger:    logger,
	}
}

func (ps *ProfileService) NamesAndAvatars(ctx context.Context, userIDs []uint) (map[uint]models.Profile, error) {
	profiles := make(map[uint]models.Profile, len(userIDs))
	var misses []uint
	for _, userID := range userIDs {
		if _, seen := profiles[userID]; seen {
			continue
		}
		if profile, ok := ps.cache.Get(userID); ok {
			profiles[userID] = profile
			continue
		}
		profiles[userID] = models.Profile{UserID: userID, Name: unknownUserName}
		misses = append(misses, userID)
	}
	if len(misses) == 0 {
		return profiles, nil
	}

	users, err := ps.directory.FindUsers(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("profile lookup: %w", err)
	}
	for _, user := range users {
		profile := models.Profile{UserID: user.ID, Name: user.DisplayName()}
		if profile.Name == "" {
			profile.Name = unknownUserName
		}
		if user.AvatarKey != nil && ps.avatars != nil {
			url, err := ps.avatars.AvatarURL(ctx, *user.AvatarKey)
			if err != nil {
				ps.logger.Debug().Err(err).Uint("user_id", user.ID).Msg("avatar url unavailable")
			}
			profile.AvatarURL = url
		}
		profiles[user.ID] = profile
		ps.cache.Add(user.ID, profile)
	}
	return profiles, nil
}
