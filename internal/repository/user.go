package repository

import (
	"context"
	"fmt"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
)

// UserRepository resolves users and parties owned by the surrounding
// application. It never writes to these tables.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, screen_name, avatar_url
		FROM users
		WHERE id = $1
	`
	var user models.User
	err := r.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.ScreenName, &user.AvatarURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", classify(err))
	}
	return &user, nil
}

// GetParty retrieves a party by ID
func (r *UserRepository) GetParty(ctx context.Context, id string) (*models.Party, error) {
	query := `
		SELECT id, title
		FROM parties
		WHERE id = $1
	`
	var party models.Party
	err := r.db.QueryRow(ctx, query, id).Scan(&party.ID, &party.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to get party: %w", classify(err))
	}
	return &party, nil
}
