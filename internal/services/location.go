package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LocationService manages the whereabouts a party offers
type LocationService struct {
	locations LocationStore
}

// NewLocationService creates a new location service
func NewLocationService(locations LocationStore) *LocationService {
	return &LocationService{locations: locations}
}

// CreateLocationParams are the attributes of a new location
type CreateLocationParams struct {
	Name        string
	Description string
	HideIfEmpty bool
	Secret      bool
	// Position is optional. Without it the location is appended after the
	// party's last one.
	Position *int
}

// Create adds a location to the party. Name, description and position must
// each be unique within the party, otherwise ErrConflict is returned.
func (s *LocationService) Create(ctx context.Context, party models.Party, params CreateLocationParams) (*models.Location, error) {
	name := strings.TrimSpace(params.Name)
	description := strings.TrimSpace(params.Description)
	if name == "" || description == "" {
		return nil, fmt.Errorf("name and description are required: %w", models.ErrValidation)
	}
	if params.Position != nil && *params.Position < 0 {
		return nil, fmt.Errorf("position must not be negative: %w", models.ErrValidation)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate whereabouts id: %w", err)
	}

	loc := &models.Location{
		ID:          id,
		Party:       party,
		Name:        name,
		Description: description,
		HideIfEmpty: params.HideIfEmpty,
		Secret:      params.Secret,
	}

	if err := s.locations.Create(ctx, loc, params.Position); err != nil {
		return nil, fmt.Errorf("failed to create whereabouts: %w", err)
	}

	log.Info().
		Str("id", loc.ID.String()).
		Str("party_id", party.ID).
		Str("name", loc.Name).
		Int("position", loc.Position).
		Msg("Whereabouts created")

	return loc, nil
}

// FindByID returns the location with the ID
func (s *LocationService) FindByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	return s.locations.GetByID(ctx, id)
}

// FindByName returns the party's location with the name
func (s *LocationService) FindByName(ctx context.Context, partyID, name string) (*models.Location, error) {
	return s.locations.GetByName(ctx, partyID, name)
}

// ListForParty returns the party's locations in no particular order
func (s *LocationService) ListForParty(ctx context.Context, partyID string) ([]*models.Location, error) {
	return s.locations.ListByParty(ctx, partyID)
}

// SortByPosition orders locations for display
func SortByPosition(locations []*models.Location) {
	sort.Slice(locations, func(i, j int) bool {
		return locations[i].Position < locations[j].Position
	})
}
