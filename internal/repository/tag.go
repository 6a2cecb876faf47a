package repository

import (
	"context"
	"fmt"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TagRepository handles database operations for tags and user sounds
type TagRepository struct {
	db DBTX
}

// NewTagRepository creates a new tag repository
func NewTagRepository(db DBTX) *TagRepository {
	return &TagRepository{db: db}
}

const tagSelect = `
	SELECT t.id, t.created_at,
	       cu.id, cu.screen_name, cu.avatar_url,
	       t.tag,
	       u.id, u.screen_name, u.avatar_url,
	       t.sound_filename, t.suspended
	FROM whereabouts_tags t
	JOIN users cu ON cu.id = t.creator_id
	JOIN users u ON u.id = t.user_id
`

// CreateTag inserts a tag. A tag value that differs from an existing one
// only by case yields ErrConflict.
func (r *TagRepository) CreateTag(ctx context.Context, tag *models.Tag) error {
	query := `
		INSERT INTO whereabouts_tags (id, created_at, creator_id, tag, user_id, sound_filename, suspended)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		tag.ID, tag.CreatedAt, tag.Creator.ID, tag.Tag, tag.User.ID, tag.SoundFilename, tag.Suspended,
	)
	if err != nil {
		return fmt.Errorf("failed to create tag: %w", classify(err))
	}
	return nil
}

// GetTagByValue retrieves a tag comparing values case-insensitively
func (r *TagRepository) GetTagByValue(ctx context.Context, value string) (*models.Tag, error) {
	query := tagSelect + `WHERE lower(t.tag) = lower($1)`
	tag, err := scanTag(r.db.QueryRow(ctx, query, value))
	if err != nil {
		return nil, fmt.Errorf("failed to get tag: %w", classify(err))
	}
	return tag, nil
}

// ListTags retrieves all tags ordered by value
func (r *TagRepository) ListTags(ctx context.Context) ([]*models.Tag, error) {
	query := tagSelect + `ORDER BY lower(t.tag)`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", classify(err))
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", classify(err))
	}

	return tags, nil
}

func scanTag(row pgx.Row) (*models.Tag, error) {
	var t models.Tag
	err := row.Scan(
		&t.ID, &t.CreatedAt,
		&t.Creator.ID, &t.Creator.ScreenName, &t.Creator.AvatarURL,
		&t.Tag,
		&t.User.ID, &t.User.ScreenName, &t.User.AvatarURL,
		&t.SoundFilename, &t.Suspended,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const soundSelect = `
	SELECT u.id, u.screen_name, u.avatar_url, s.filename
	FROM whereabouts_user_sounds s
	JOIN users u ON u.id = s.user_id
`

// CreateUserSound inserts a user's sound. A second sound for the same
// user yields ErrConflict.
func (r *TagRepository) CreateUserSound(ctx context.Context, sound *models.UserSound) error {
	query := `
		INSERT INTO whereabouts_user_sounds (user_id, filename)
		VALUES ($1, $2)
	`
	if _, err := r.db.Exec(ctx, query, sound.User.ID, sound.Filename); err != nil {
		return fmt.Errorf("failed to create user sound: %w", classify(err))
	}
	return nil
}

// GetSoundForUser retrieves the sound assigned to a user
func (r *TagRepository) GetSoundForUser(ctx context.Context, userID uuid.UUID) (*models.UserSound, error) {
	query := soundSelect + `WHERE s.user_id = $1`
	sound, err := scanSound(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get user sound: %w", classify(err))
	}
	return sound, nil
}

// ListUserSounds retrieves all user sounds ordered by screen name
func (r *TagRepository) ListUserSounds(ctx context.Context) ([]*models.UserSound, error) {
	query := soundSelect + `ORDER BY u.screen_name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list user sounds: %w", classify(err))
	}
	defer rows.Close()

	var sounds []*models.UserSound
	for rows.Next() {
		sound, err := scanSound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user sound: %w", err)
		}
		sounds = append(sounds, sound)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user sounds: %w", classify(err))
	}

	return sounds, nil
}

func scanSound(row pgx.Row) (*models.UserSound, error) {
	var s models.UserSound
	if err := row.Scan(&s.User.ID, &s.User.ScreenName, &s.User.AvatarURL, &s.Filename); err != nil {
		return nil, err
	}
	return &s, nil
}
