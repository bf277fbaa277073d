package domain

import (
	"github.com/google/uuid"
)

// UserProfile is the directory entry shown for the other party of a call.
// Maps to the display columns of the CockroachDB users table
type UserProfile struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Username    string    `json:"username" db:"username"`
	DisplayName string    `json:"display_name" db:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty" db:"avatar_url"`
}
