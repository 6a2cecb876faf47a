package services

import (
	"context"
	"time"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
)

// UserStore resolves users and parties
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetParty(ctx context.Context, id string) (*models.Party, error)
}

// LocationStore persists locations
type LocationStore interface {
	Create(ctx context.Context, loc *models.Location, position *int) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error)
	GetByName(ctx context.Context, partyID, name string) (*models.Location, error)
	ListByParty(ctx context.Context, partyID string) ([]*models.Location, error)
}

// StatusStore persists statuses and their update history
type StatusStore interface {
	Persist(ctx context.Context, status *models.Status, update *models.Update, clientID *uuid.UUID) error
	GetForParty(ctx context.Context, userID uuid.UUID, partyID string) (*models.Status, error)
	ListForParty(ctx context.Context, partyID string) ([]*models.Status, error)
	ListUpdates(ctx context.Context, userID uuid.UUID) ([]*models.Update, error)
}

// ClientStore persists clients, their liveliness and configurations
type ClientStore interface {
	CreateCandidate(ctx context.Context, client *models.Client) error
	Approve(ctx context.Context, clientID uuid.UUID, token string) error
	MarkDeleted(ctx context.Context, clientID uuid.UUID) error
	DeleteCandidate(ctx context.Context, clientID uuid.UUID) error
	UpdateDetails(ctx context.Context, clientID uuid.UUID, location, description *string, configID *uuid.UUID) error
	SetLiveliness(ctx context.Context, clientID uuid.UUID, signedOn bool, at time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error)
	GetByToken(ctx context.Context, token string) (*models.Client, error)
	ListWithLiveliness(ctx context.Context) ([]*models.ClientWithLiveliness, error)

	CreateConfig(ctx context.Context, cfg *models.ClientConfig) error
	GetConfig(ctx context.Context, id uuid.UUID) (*models.ClientConfig, error)
	ListConfigs(ctx context.Context) ([]*models.ClientConfig, error)
}

// TagStore persists tags and user sounds
type TagStore interface {
	CreateTag(ctx context.Context, tag *models.Tag) error
	GetTagByValue(ctx context.Context, value string) (*models.Tag, error)
	ListTags(ctx context.Context) ([]*models.Tag, error)

	CreateUserSound(ctx context.Context, sound *models.UserSound) error
	GetSoundForUser(ctx context.Context, userID uuid.UUID) (*models.UserSound, error)
	ListUserSounds(ctx context.Context) ([]*models.UserSound, error)
}

// Clock returns the current time
type Clock func() time.Time

// storagePrecision is the resolution of PostgreSQL timestamps
const storagePrecision = time.Microsecond

func utcNow() time.Time {
	return time.Now().UTC().Truncate(storagePrecision)
}
