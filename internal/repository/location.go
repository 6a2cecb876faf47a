package repository

import (
	"context"
	"fmt"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LocationRepository handles database operations for whereabouts
type LocationRepository struct {
	db DBTX
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db DBTX) *LocationRepository {
	return &LocationRepository{db: db}
}

const locationColumns = `
	w.id, w.party_id, p.title, w.name, w.description, w.position, w.hide_if_empty, w.secret
`

// Create inserts a location. A nil position is resolved to the party's
// highest position plus one, or 0 for the first location.
func (r *LocationRepository) Create(ctx context.Context, loc *models.Location, position *int) error {
	query := `
		INSERT INTO whereabouts (id, party_id, name, description, position, hide_if_empty, secret)
		VALUES (
			$1, $2, $3, $4,
			COALESCE($5::integer, (SELECT COALESCE(MAX(position) + 1, 0) FROM whereabouts WHERE party_id = $2)),
			$6, $7
		)
		RETURNING position
	`
	err := r.db.QueryRow(ctx, query,
		loc.ID, loc.Party.ID, loc.Name, loc.Description, position, loc.HideIfEmpty, loc.Secret,
	).Scan(&loc.Position)
	if err != nil {
		return fmt.Errorf("failed to create whereabouts: %w", classify(err))
	}
	return nil
}

// GetByID retrieves a location by ID
func (r *LocationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	query := `SELECT` + locationColumns + `
		FROM whereabouts w
		JOIN parties p ON p.id = w.party_id
		WHERE w.id = $1
	`
	loc, err := scanLocation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get whereabouts: %w", classify(err))
	}
	return loc, nil
}

// GetByName retrieves a location by its name within a party
func (r *LocationRepository) GetByName(ctx context.Context, partyID, name string) (*models.Location, error) {
	query := `SELECT` + locationColumns + `
		FROM whereabouts w
		JOIN parties p ON p.id = w.party_id
		WHERE w.party_id = $1 AND w.name = $2
	`
	loc, err := scanLocation(r.db.QueryRow(ctx, query, partyID, name))
	if err != nil {
		return nil, fmt.Errorf("failed to get whereabouts by name: %w", classify(err))
	}
	return loc, nil
}

// ListByParty retrieves all locations of a party in no particular order
func (r *LocationRepository) ListByParty(ctx context.Context, partyID string) ([]*models.Location, error) {
	query := `SELECT` + locationColumns + `
		FROM whereabouts w
		JOIN parties p ON p.id = w.party_id
		WHERE w.party_id = $1
	`
	rows, err := r.db.Query(ctx, query, partyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list whereabouts: %w", classify(err))
	}
	defer rows.Close()

	var locations []*models.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan whereabouts: %w", err)
		}
		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating whereabouts: %w", classify(err))
	}

	return locations, nil
}

func scanLocation(row pgx.Row) (*models.Location, error) {
	var loc models.Location
	err := row.Scan(
		&loc.ID, &loc.Party.ID, &loc.Party.Title, &loc.Name, &loc.Description,
		&loc.Position, &loc.HideIfEmpty, &loc.Secret,
	)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
