package repositories

import (
	"context"

	"carechat/internal/interfaces"
	"carechat/internal/models"

	"gorm.io/gorm"
)

// DirectoryRepository reads the family roster and user directory. Both tables are
// owned by the account service; this side never writes to them.
type DirectoryRepository struct {
	db *gorm.DB
}

var _ interfaces.DirectoryStore = (*DirectoryRepository)(nil)

func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{
		db: db,
	}
}

func (dr *DirectoryRepository) MembersOf(ctx context.Context, familyID uint) ([]uint, error) {
	var userIDs []uint
	if err := dr.db.WithContext(ctx).
		Model(&models.FamilyMember{}).
		Where("family_id = ?", familyID).
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error; err != nil {
		return nil, translate(err)
	}
	return userIDs, nil
}

func (dr *DirectoryRepository) FindUsers(ctx context.Context, userIDs []uint) ([]models.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := dr.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, translate(err)
	}
	return users, nil
}
