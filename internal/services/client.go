package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"whereabouts-backend/internal/events"
	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// tokenBytes is the amount of randomness in a client token
const tokenBytes = 24

// ClientService manages the lifecycle of hardware clients:
//
//	pending --approve--> approved --delete--> deleted
//	pending --delete candidate--> (removed)
type ClientService struct {
	clients ClientStore
	now     Clock
}

// NewClientService creates a new client service
func NewClientService(clients ClientStore) *ClientService {
	return &ClientService{
		clients: clients,
		now:     utcNow,
	}
}

// Register creates a pending client candidate. It has no token until
// an administrator approves it.
func (s *ClientService) Register(
	ctx context.Context,
	buttonCount int,
	audioOutput bool,
	sourceAddress *netip.Addr,
) (*models.Client, events.ClientRegistered, error) {
	clientID, err := uuid.NewV7()
	if err != nil {
		return nil, events.ClientRegistered{}, fmt.Errorf("failed to generate client id: %w", err)
	}

	now := s.now()
	candidate := &models.Client{
		ID:              clientID,
		RegisteredAt:    now,
		ButtonCount:     buttonCount,
		AudioOutput:     audioOutput,
		AuthorityStatus: models.ClientPending,
	}

	if err := s.clients.CreateCandidate(ctx, candidate); err != nil {
		return nil, events.ClientRegistered{}, fmt.Errorf("failed to register client: %w", err)
	}

	log.Info().
		Int("button_count", buttonCount).
		Bool("audio_output", audioOutput).
		Str("id", clientID.String()).
		Str("source_address", addressString(sourceAddress)).
		Msg("Whereabouts client registered")

	event := events.ClientRegistered{
		Meta:     events.Meta{OccurredAt: now},
		ClientID: clientID,
	}
	return candidate, event, nil
}

// Approve issues a token to a pending candidate and initializes its
// liveliness as signed off.
func (s *ClientService) Approve(
	ctx context.Context,
	candidate models.Client,
	initiator models.User,
) (*models.Client, events.ClientApproved, error) {
	if !candidate.Pending() {
		return nil, events.ClientApproved{}, fmt.Errorf("client %s is %s and cannot be approved: %w",
			candidate.ID, candidate.AuthorityStatus, models.ErrInvalidState)
	}

	token, err := generateToken()
	if err != nil {
		return nil, events.ClientApproved{}, err
	}

	if err := s.clients.Approve(ctx, candidate.ID, token); err != nil {
		return nil, events.ClientApproved{}, fmt.Errorf("failed to approve client: %w", err)
	}

	client := candidate
	client.AuthorityStatus = models.ClientApproved
	client.Token = &token

	log.Info().
		Str("id", client.ID.String()).
		Str("approved_by", initiator.ScreenName).
		Msg("Whereabouts client approved")

	event := events.ClientApproved{
		Meta:     events.Meta{OccurredAt: s.now(), Initiator: events.UserFrom(initiator)},
		ClientID: client.ID,
	}
	return &client, event, nil
}

// DeleteCandidate removes a pending candidate entirely
func (s *ClientService) DeleteCandidate(ctx context.Context, candidate models.Client, initiator models.User) error {
	if candidate.Approved() {
		return fmt.Errorf("an approved client must not be deleted: %w", models.ErrInvalidState)
	}
	if !candidate.Pending() {
		return fmt.Errorf("client %s is %s and is no candidate: %w",
			candidate.ID, candidate.AuthorityStatus, models.ErrInvalidState)
	}

	if err := s.clients.DeleteCandidate(ctx, candidate.ID); err != nil {
		return fmt.Errorf("failed to delete client candidate: %w", err)
	}

	log.Info().
		Str("id", candidate.ID.String()).
		Str("deleted_by", initiator.ScreenName).
		Msg("Whereabouts client candidate deleted")

	return nil
}

// Delete revokes an approved client. The row is kept, its token is cleared.
func (s *ClientService) Delete(
	ctx context.Context,
	client models.Client,
	initiator models.User,
) (*models.Client, events.ClientDeleted, error) {
	if !client.Approved() {
		return nil, events.ClientDeleted{}, fmt.Errorf("client %s is %s and cannot be deleted: %w",
			client.ID, client.AuthorityStatus, models.ErrInvalidState)
	}

	if err := s.clients.MarkDeleted(ctx, client.ID); err != nil {
		return nil, events.ClientDeleted{}, fmt.Errorf("failed to delete client: %w", err)
	}

	deleted := client
	deleted.AuthorityStatus = models.ClientDeleted
	deleted.Token = nil

	log.Info().
		Str("id", client.ID.String()).
		Str("deleted_by", initiator.ScreenName).
		Msg("Whereabouts client deleted")

	event := events.ClientDeleted{
		Meta:     events.Meta{OccurredAt: s.now(), Initiator: events.UserFrom(initiator)},
		ClientID: client.ID,
	}
	return &deleted, event, nil
}

// UpdateClient sets the administrator-assigned location, description and
// configuration of an approved client
func (s *ClientService) UpdateClient(
	ctx context.Context,
	client models.Client,
	location, description *string,
	configID *uuid.UUID,
) error {
	if !client.Approved() {
		return fmt.Errorf("client %s is not approved: %w", client.ID, models.ErrInvalidState)
	}

	if configID != nil {
		if _, err := s.clients.GetConfig(ctx, *configID); err != nil {
			return fmt.Errorf("failed to resolve client config: %w", err)
		}
	}

	if err := s.clients.UpdateDetails(ctx, client.ID, location, description, configID); err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return nil
}

// SignOn marks an approved client as signed on
func (s *ClientService) SignOn(ctx context.Context, client models.Client, sourceAddress *netip.Addr) (events.ClientSignedOn, error) {
	now, err := s.setLiveliness(ctx, client, true, sourceAddress)
	if err != nil {
		return events.ClientSignedOn{}, err
	}
	return events.ClientSignedOn{Meta: events.Meta{OccurredAt: now}, ClientID: client.ID}, nil
}

// SignOff marks an approved client as signed off
func (s *ClientService) SignOff(ctx context.Context, client models.Client, sourceAddress *netip.Addr) (events.ClientSignedOff, error) {
	now, err := s.setLiveliness(ctx, client, false, sourceAddress)
	if err != nil {
		return events.ClientSignedOff{}, err
	}
	return events.ClientSignedOff{Meta: events.Meta{OccurredAt: now}, ClientID: client.ID}, nil
}

func (s *ClientService) setLiveliness(ctx context.Context, client models.Client, signedOn bool, sourceAddress *netip.Addr) (now time.Time, err error) {
	if !client.Approved() {
		return now, fmt.Errorf("client %s is not approved: %w", client.ID, models.ErrInvalidState)
	}

	now = s.now()
	if err := s.clients.SetLiveliness(ctx, client.ID, signedOn, now); err != nil {
		return now, fmt.Errorf("failed to update client liveliness: %w", err)
	}

	msg := "Whereabouts client signed off"
	if signedOn {
		msg = "Whereabouts client signed on"
	}
	log.Info().
		Str("id", client.ID.String()).
		Str("source_address", addressString(sourceAddress)).
		Msg(msg)

	return now, nil
}

// FindClient returns a client in any state
func (s *ClientService) FindClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	return s.clients.GetByID(ctx, id)
}

// FindClientByToken returns the approved client holding the token
func (s *ClientService) FindClientByToken(ctx context.Context, token string) (*models.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("empty client token: %w", models.ErrNotFound)
	}
	return s.clients.GetByToken(ctx, token)
}

// ListClients returns all clients with their liveliness
func (s *ClientService) ListClients(ctx context.Context) ([]*models.ClientWithLiveliness, error) {
	return s.clients.ListWithLiveliness(ctx)
}

// CreateClientConfig stores a configuration document for clients
func (s *ClientService) CreateClientConfig(
	ctx context.Context,
	title string,
	description *string,
	content json.RawMessage,
) (*models.ClientConfig, error) {
	if !json.Valid(content) {
		return nil, fmt.Errorf("client config content is not valid JSON: %w", models.ErrValidation)
	}

	configID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate client config id: %w", err)
	}

	cfg := &models.ClientConfig{
		ID:          configID,
		Title:       title,
		Description: description,
		Content:     content,
	}
	if err := s.clients.CreateConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to create client config: %w", err)
	}
	return cfg, nil
}

// ListClientConfigs returns all client configurations
func (s *ClientService) ListClientConfigs(ctx context.Context) ([]*models.ClientConfig, error) {
	return s.clients.ListConfigs(ctx)
}

// FindConfigForClient returns the configuration assigned to the client
func (s *ClientService) FindConfigForClient(ctx context.Context, client models.Client) (*models.ClientConfig, error) {
	if client.ConfigID == nil {
		return nil, fmt.Errorf("client %s has no config: %w", client.ID, models.ErrNotFound)
	}
	return s.clients.GetConfig(ctx, *client.ConfigID)
}

// generateToken returns a URL-safe bearer token
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate client token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func addressString(addr *netip.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
