package models

import (
	"strings"
	"time"
)

// User is the directory row backing profile lookups. Accounts are managed elsewhere.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FirstName string    `gorm:"not null" json:"first_name"`
	LastName  string    `gorm:"not null" json:"last_name"`
	AvatarKey *string   `json:"avatar_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (user *User) DisplayName() string {
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

type FamilyMember struct {
	FamilyID uint      `gorm:"primaryKey;autoIncrement:false" json:"family_id"`
	UserID   uint      `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	Role     string    `gorm:"not null;default:member" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// Profile is the name and avatar resolved for a user id.
type Profile struct {
	UserID    uint   `json:"user_id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}
