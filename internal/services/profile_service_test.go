package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"carechat/internal/models"
	"carechat/internal/repositories"

	"github.com/rs/zerolog"
)

type countingDirectory struct {
	*repositories.MemoryDirectoryRepository
	lookups atomic.Int32
	fail    error
}

func (cd *countingDirectory) FindUsers(ctx context.Context, userIDs []uint) ([]models.User, error) {
	cd.lookups.Add(1)
	if cd.fail != nil {
		return nil, cd.fail
	}
	return cd.MemoryDirectoryRepository.FindUsers(ctx, userIDs)
}

type staticAvatars struct{}

func (staticAvatars) AvatarURL(ctx context.Context, objectKey string) (string, error) {
	return "https://avatars.test/" + objectKey, nil
}

func TestNamesAndAvatarsBatchesAndCaches(t *testing.T) {
	directory := &countingDirectory{MemoryDirectoryRepository: repositories.NewMemoryDirectoryRepository()}
	key := "users/1.png"
	directory.PutUser(models.User{ID: 1, FirstName: "Ana", LastName: "Lopez", AvatarKey: &key})
	directory.PutUser(models.User{ID: 2, FirstName: "Ben"})
	profiles := NewProfileService(directory, staticAvatars{}, 16, time.Minute, zerolog.Nop())
	ctx := context.Background()

	got, err := profiles.NamesAndAvatars(ctx, []uint{1, 2, 99, 1})
	if err != nil {
		t.Fatalf("NamesAndAvatars: %v", err)
	}
	if n := directory.lookups.Load(); n != 1 {
		t.Errorf("directory lookups = %d, want 1", n)
	}
	if got[1].Name != "Ana Lopez" || !strings.HasSuffix(got[1].AvatarURL, key) {
		t.Errorf("profile 1 = %+v", got[1])
	}
	if got[2].Name != "Ben" || got[2].AvatarURL != "" {
		t.Errorf("profile 2 = %+v", got[2])
	}
	if got[99].Name != unknownUserName {
		t.Errorf("unknown user = %+v", got[99])
	}

	if _, err := profiles.NamesAndAvatars(ctx, []uint{2, 1}); err != nil {
		t.Fatal(err)
	}
	if n := directory.lookups.Load(); n != 1 {
		t.Errorf("cached lookup hit the directory: %d", n)
	}

	// Unknown users are not cached and are looked up again.
	profiles.NamesAndAvatars(ctx, []uint{99})
	if n := directory.lookups.Load(); n != 2 {
		t.Errorf("directory lookups = %d, want 2", n)
	}
}

func TestNamesAndAvatarsPropagatesDirectoryFailure(t *testing.T) {
	directory := &countingDirectory{
		MemoryDirectoryRepository: repositories.NewMemoryDirectoryRepository(),
		fail:                      errors.New("directory down"),
	}
	profiles := NewProfileService(directory, nil, 16, time.Minute, zerolog.Nop())

	if _, err := profiles.NamesAndAvatars(context.Background(), []uint{1}); err == nil {
		t.Fatal("expected directory error")
	}
	got, err := profiles.NamesAndAvatars(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Errorf("empty lookup = (%v, %v)", got, err)
	}
}
