package models

import "time"

type TypingUser struct {
	UserID   uint      `json:"user_id"`
	UserName string    `json:"user_name"`
	IsTyping bool      `json:"is_typing"`
	At       time.Time `json:"at"`
}
