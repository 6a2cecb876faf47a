package services

import (
	"context"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
)

// UserService resolves the users and parties whereabouts refer to
type UserService struct {
	users UserStore
}

// NewUserService creates a new user service
func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

// FindUser returns the user or ErrNotFound
func (s *UserService) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.users.GetUser(ctx, id)
}

// FindParty returns the party or ErrNotFound
func (s *UserService) FindParty(ctx context.Context, id string) (*models.Party, error) {
	return s.users.GetParty(ctx, id)
}
