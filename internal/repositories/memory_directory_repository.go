package repositories

import (
	"context"
	"sort"
	"sync"

	"carechat/internal/interfaces"
	"carechat/internal/models"
)

type MemoryDirectoryRepository struct {
	mu       sync.RWMutex
	users    map[uint]models.User
	families map[uint]map[uint]struct{}
}

var _ interfaces.DirectoryStore = (*MemoryDirectoryRepository)(nil)

func NewMemoryDirectoryRepository() *MemoryDirectoryRepository {
	return &MemoryDirectoryRepository{
		users:    make(map[uint]models.User),
		families: make(map[uint]map[uint]struct{}),
	}
}

// PutUser inserts or replaces a user row.
func (md *MemoryDirectoryRepository) PutUser(user models.User) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.users[user.ID] = user
}

func (md *MemoryDirectoryRepository) Enroll(familyID uint, userIDs ...uint) {
	md.mu.Lock()
	defer md.mu.Unlock()
	members, ok := md.families[familyID]
	if !ok {
		members = make(map[uint]struct{})
		md.families[familyID] = members
	}
	for _, userID := range userIDs {
		members[userID] = struct{}{}
	}
}

func (md *MemoryDirectoryRepository) MembersOf(ctx context.Context, familyID uint) ([]uint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	md.mu.RLock()
	defer md.mu.RUnlock()

	userIDs := make([]uint, 0, len(md.families[familyID]))
	for userID := range md.families[familyID] {
		userIDs = append(userIDs, userID)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })
	return userIDs, nil
}

func (md *MemoryDirectoryRepository) FindUsers(ctx context.Context, userIDs []uint) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	md.mu.RLock()
	defer md.mu.RUnlock()

	var users []models.User
	for _, userID := range userIDs {
		if user, ok := md.users[userID]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}
