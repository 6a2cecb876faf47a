package services

import (
	"context"
	"fmt"
	"net/netip"

	"whereabouts-backend/internal/events"
	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StatusService records where users are
type StatusService struct {
	statuses StatusStore
	now      Clock
}

// NewStatusService creates a new status service
func NewStatusService(statuses StatusStore) *StatusService {
	return &StatusService{
		statuses: statuses,
		now:      utcNow,
	}
}

// SetStatus sets the user's current whereabouts and appends an update to
// their history. Both are written in one transaction; the event is built
// only after it committed. When a reporting client is given it is marked
// signed on in the same transaction.
//
// The user, the location and the client are expected to have been
// resolved and validated by the caller.
func (s *StatusService) SetStatus(
	ctx context.Context,
	user models.User,
	location models.Location,
	reportingClient *models.Client,
	sourceAddress *netip.Addr,
) (*models.Status, *models.Update, events.StatusUpdated, error) {
	// returned values must match what is read back later
	now := s.now().Truncate(storagePrecision)

	updateID, err := uuid.NewV7()
	if err != nil {
		return nil, nil, events.StatusUpdated{}, fmt.Errorf("failed to generate update id: %w", err)
	}

	status := &models.Status{
		UserID:     user.ID,
		LocationID: location.ID,
		SetAt:      now,
	}

	update := &models.Update{
		ID:            updateID,
		UserID:        user.ID,
		LocationID:    location.ID,
		CreatedAt:     now,
		SourceAddress: sourceAddress,
	}

	var clientID *uuid.UUID
	if reportingClient != nil {
		clientID = &reportingClient.ID
	}

	if err := s.statuses.Persist(ctx, status, update, clientID); err != nil {
		return nil, nil, events.StatusUpdated{}, fmt.Errorf("failed to set status: %w", err)
	}

	event := events.StatusUpdated{
		Meta: events.Meta{
			OccurredAt: now,
			Initiator:  events.UserFrom(user),
		},
		Party: events.EventParty{
			ID:    location.Party.ID,
			Title: location.Party.Title,
		},
		User: events.EventUser{
			ID:         user.ID,
			ScreenName: user.ScreenName,
		},
		WhereaboutsDescription: location.Description,
	}

	logEvent := log.Info().
		Str("user_id", user.ID.String()).
		Str("party_id", location.Party.ID).
		Str("whereabouts", location.Name)
	if clientID != nil {
		logEvent = logEvent.Str("client_id", clientID.String())
	}
	logEvent.Msg("Whereabouts status set")

	return status, update, event, nil
}

// FindStatus returns the user's status if it points at a location of the party
func (s *StatusService) FindStatus(ctx context.Context, userID uuid.UUID, partyID string) (*models.Status, error) {
	return s.statuses.GetForParty(ctx, userID, partyID)
}

// ListStatuses returns the statuses of all users currently at the party
func (s *StatusService) ListStatuses(ctx context.Context, partyID string) ([]*models.Status, error) {
	return s.statuses.ListForParty(ctx, partyID)
}

// ListUpdates returns the user's history, oldest first
func (s *StatusService) ListUpdates(ctx context.Context, userID uuid.UUID) ([]*models.Update, error) {
	return s.statuses.ListUpdates(ctx, userID)
}
