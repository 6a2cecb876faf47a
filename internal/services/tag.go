package services

import (
	"context"
	"fmt"
	"strings"

	"whereabouts-backend/internal/events"
	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TagService manages tags and user sounds
type TagService struct {
	tags TagStore
	now  Clock
}

// NewTagService creates a new tag service
func NewTagService(tags TagStore) *TagService {
	return &TagService{
		tags: tags,
		now:  utcNow,
	}
}

// CreateTagParams are the attributes of a new tag
type CreateTagParams struct {
	Tag           string
	SoundFilename *string
	Suspended     bool
}

// CreateTag binds a tag value to a user. Tag values are unique regardless
// of case.
func (s *TagService) CreateTag(
	ctx context.Context,
	creator, user models.User,
	params CreateTagParams,
) (*models.Tag, events.TagCreated, error) {
	value := strings.TrimSpace(params.Tag)
	if value == "" {
		return nil, events.TagCreated{}, fmt.Errorf("tag is required: %w", models.ErrValidation)
	}

	now := s.now()
	tag := &models.Tag{
		ID:            uuid.New(),
		CreatedAt:     now,
		Creator:       creator,
		Tag:           value,
		User:          user,
		SoundFilename: params.SoundFilename,
		Suspended:     params.Suspended,
	}

	if err := s.tags.CreateTag(ctx, tag); err != nil {
		return nil, events.TagCreated{}, fmt.Errorf("failed to create tag: %w", err)
	}

	log.Info().
		Str("tag", tag.Tag).
		Str("user_id", user.ID.String()).
		Str("created_by", creator.ScreenName).
		Msg("Whereabouts tag created")

	event := events.TagCreated{
		Meta: events.Meta{OccurredAt: now, Initiator: events.UserFrom(creator)},
		Tag:  tag.Tag,
		User: events.EventUser{ID: user.ID, ScreenName: user.ScreenName},
	}
	return tag, event, nil
}

// FindTagByValue returns the tag, comparing values case-insensitively
func (s *TagService) FindTagByValue(ctx context.Context, value string) (*models.Tag, error) {
	return s.tags.GetTagByValue(ctx, value)
}

// ListTags returns all tags
func (s *TagService) ListTags(ctx context.Context) ([]*models.Tag, error) {
	return s.tags.ListTags(ctx)
}

// CreateUserSound assigns a sound to a user. A user has at most one.
func (s *TagService) CreateUserSound(ctx context.Context, user models.User, filename string) (*models.UserSound, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("filename is required: %w", models.ErrValidation)
	}

	sound := &models.UserSound{User: user, Filename: filename}
	if err := s.tags.CreateUserSound(ctx, sound); err != nil {
		return nil, fmt.Errorf("failed to create user sound: %w", err)
	}

	log.Info().
		Str("user_id", user.ID.String()).
		Str("filename", filename).
		Msg("Whereabouts user sound created")

	return sound, nil
}

// FindSoundForUser returns the user's sound
func (s *TagService) FindSoundForUser(ctx context.Context, userID uuid.UUID) (*models.UserSound, error) {
	return s.tags.GetSoundForUser(ctx, userID)
}

// ListUserSounds returns all user sounds
func (s *TagService) ListUserSounds(ctx context.Context) ([]*models.UserSound, error) {
	return s.tags.ListUserSounds(ctx)
}

// ResolveSound picks the sound to play for a tag. A user sound takes
// precedence over the tag's own sound.
func ResolveSound(tag models.Tag, userSound *models.UserSound) *string {
	if userSound != nil {
		filename := userSound.Filename
		return &filename
	}
	return tag.SoundFilename
}
