package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
)

// UserRepository is read-only; user CRUD is owned by the auth service.
type UserRepository interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.UserProfile, error)
}

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetProfile(ctx context.Context, id uuid.UUID) (*domain.UserProfile, error) {
	var profile domain.UserProfile
	err := r.db.GetContext(ctx, &profile, `SELECT * FROM user_profile WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	return &profile, nil
}
