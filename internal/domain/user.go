package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserProfile is consumed read-only; user CRUD lives in another service.
type UserProfile struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Email           string    `json:"email" db:"email"`
	DisplayName     *string   `json:"display_name,omitempty" db:"display_name"`
	QuotaLimitBytes *int64    `json:"quota_limit_bytes,omitempty" db:"quota_limit_bytes"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Name returns the best human-readable identifier for the user.
func (u *UserProfile) Name() string {
	if u == nil {
		return "anonymous"
	}
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Email
}
