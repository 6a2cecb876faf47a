package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"whereabouts-backend/internal/dispatch"
	"whereabouts-backend/internal/metrics"
	"whereabouts-backend/internal/middleware"
	"whereabouts-backend/internal/models"
	"whereabouts-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SoundURLs signs download URLs for sound files
type SoundURLs interface {
	SoundURL(ctx context.Context, filename string) (string, error)
}

// APIHandler serves the machine API used by checkpoint clients
type APIHandler struct {
	users        *services.UserService
	locations    *services.LocationService
	statuses     *services.StatusService
	clients      *services.ClientService
	tags         *services.TagService
	registration services.RegistrationPolicy
	sounds       SoundURLs
	dispatcher   dispatch.Dispatcher
	metrics      *metrics.Metrics
}

// APIHandlerDeps bundles the collaborators of the machine API. Sounds,
// Dispatcher and Metrics are optional.
type APIHandlerDeps struct {
	Users        *services.UserService
	Locations    *services.LocationService
	Statuses     *services.StatusService
	Clients      *services.ClientService
	Tags         *services.TagService
	Registration services.RegistrationPolicy
	Sounds       SoundURLs
	Dispatcher   dispatch.Dispatcher
	Metrics      *metrics.Metrics
}

// NewAPIHandler creates a new machine API handler
func NewAPIHandler(deps APIHandlerDeps) *APIHandler {
	return &APIHandler{
		users:        deps.Users,
		locations:    deps.Locations,
		statuses:     deps.Statuses,
		clients:      deps.Clients,
		tags:         deps.Tags,
		registration: deps.Registration,
		sounds:       deps.Sounds,
		dispatcher:   deps.Dispatcher,
		metrics:      deps.Metrics,
	}
}

// Routes mounts the machine API
func (h *APIHandler) Routes(r chi.Router) {
	r.Post("/client/register", h.RegisterClient)
	r.Get("/client/registration_status/{client_id}", h.GetRegistrationStatus)
	r.Post("/client/sign_on", h.SignOn)
	r.Post("/client/sign_off", h.SignOff)
	r.Get("/client/config", h.GetClientConfig)
	r.Get("/tags/{identifier}", h.GetTag)
	r.Get("/statuses/{user_id}/{party_id}", h.GetStatus)
	r.Post("/statuses", h.SetStatus)
}

// RegisterClientRequest represents the request to register a client
type RegisterClientRequest struct {
	ButtonCount *int  `json:"button_count"`
	AudioOutput *bool `json:"audio_output"`
}

// RegisterClientResponse carries the token, which stays null until the
// candidate has been approved
type RegisterClientResponse struct {
	Token *string `json:"token"`
}

// RegisterClient handles POST /client/register
func (h *APIHandler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !isJSON(r) {
		respondError(w, "JSON body required", http.StatusUnsupportedMediaType)
		return
	}

	var req RegisterClientRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ButtonCount == nil || req.AudioOutput == nil {
		respondError(w, "button_count and audio_output are required", http.StatusBadRequest)
		return
	}
	if *req.ButtonCount < 0 {
		respondError(w, "button_count must not be negative", http.StatusBadRequest)
		return
	}

	status, err := h.registration.RegistrationStatus(ctx)
	if err != nil {
		respondServiceError(w, r, err, "Failed to check registration status")
		return
	}
	if status != services.RegistrationOpen {
		respondError(w, "Client registration is closed", http.StatusForbidden)
		return
	}

	candidate, event, err := h.clients.Register(ctx, *req.ButtonCount, *req.AudioOutput, sourceAddress(r))
	if err != nil {
		respondServiceError(w, r, err, "Failed to register client")
		return
	}

	publish(ctx, h.dispatcher, event)

	w.Header().Set("Location", registrationStatusURL(r, candidate.ID))
	respondJSON(w, RegisterClientResponse{Token: candidate.Token}, http.StatusCreated)
}

func registrationStatusURL(r *http.Request, clientID uuid.UUID) string {
	base := strings.TrimSuffix(r.URL.Path, "/register")
	return base + "/registration_status/" + clientID.String()
}

// RegistrationStatusResponse reports the state of a registration
type RegistrationStatusResponse struct {
	Status string `json:"status"`
}

// GetRegistrationStatus handles GET /client/registration_status/{client_id}
func (h *APIHandler) GetRegistrationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID, err := uuid.Parse(chi.URLParam(r, "client_id"))
	if err != nil {
		respondError(w, "Unknown client ID", http.StatusNotFound)
		return
	}

	client, err := h.clients.FindClient(ctx, clientID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to get client")
		return
	}

	status := "rejected"
	switch {
	case client.Pending():
		status = "pending"
	case client.Approved():
		status = "approved"
	}

	respondJSON(w, RegistrationStatusResponse{Status: status}, http.StatusOK)
}

// SignOn handles POST /client/sign_on
func (h *APIHandler) SignOn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, ok := h.approvedClient(w, r)
	if !ok {
		return
	}

	event, err := h.clients.SignOn(ctx, *client, sourceAddress(r))
	if err != nil {
		respondServiceError(w, r, err, "Failed to sign on client")
		return
	}

	publish(ctx, h.dispatcher, event)
	w.WriteHeader(http.StatusNoContent)
}

// SignOff handles POST /client/sign_off
func (h *APIHandler) SignOff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, ok := h.approvedClient(w, r)
	if !ok {
		return
	}

	event, err := h.clients.SignOff(ctx, *client, sourceAddress(r))
	if err != nil {
		respondServiceError(w, r, err, "Failed to sign off client")
		return
	}

	publish(ctx, h.dispatcher, event)
	w.WriteHeader(http.StatusNoContent)
}

// GetClientConfig handles GET /client/config
func (h *APIHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, ok := h.approvedClient(w, r)
	if !ok {
		return
	}

	cfg, err := h.clients.FindConfigForClient(ctx, *client)
	if errors.Is(err, models.ErrNotFound) {
		respondEmpty(w, http.StatusNotFound)
		return
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get client config")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(cfg.Content)
}

// UserResponse is the public view of a user
type UserResponse struct {
	ID         uuid.UUID `json:"id"`
	ScreenName string    `json:"screen_name"`
	AvatarURL  *string   `json:"avatar_url"`
}

// TagResponse describes a tag to the client that scanned it
type TagResponse struct {
	Identifier    string       `json:"identifier"`
	User          UserResponse `json:"user"`
	SoundFilename *string      `json:"sound_filename"`
	SoundURL      string       `json:"sound_url,omitempty"`
}

// GetTag handles GET /tags/{identifier}
func (h *APIHandler) GetTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tag, err := h.tags.FindTagByValue(ctx, chi.URLParam(r, "identifier"))
	if errors.Is(err, models.ErrNotFound) || (err == nil && tag.Suspended) {
		respondEmpty(w, http.StatusNotFound)
		return
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get tag")
		return
	}

	userSound, err := h.tags.FindSoundForUser(ctx, tag.User.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		respondServiceError(w, r, err, "Failed to get user sound")
		return
	}

	resp := TagResponse{
		Identifier: tag.Tag,
		User: UserResponse{
			ID:         tag.User.ID,
			ScreenName: tag.User.ScreenName,
			AvatarURL:  tag.User.AvatarURL,
		},
		SoundFilename: services.ResolveSound(*tag, userSound),
	}

	if resp.SoundFilename != nil && h.sounds != nil {
		url, err := h.sounds.SoundURL(ctx, *resp.SoundFilename)
		if err != nil {
			log.Warn().Err(err).Str("filename", *resp.SoundFilename).Msg("Failed to sign sound URL")
		} else {
			resp.SoundURL = url
		}
	}

	respondJSON(w, resp, http.StatusOK)
}

// StatusLocation is the location part of a status response
type StatusLocation struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

// StatusResponse represents a user's status at a party
type StatusResponse struct {
	User        UserResponse   `json:"user"`
	Whereabouts StatusLocation `json:"whereabouts"`
	SetAt       string         `json:"set_at"`
}

// GetStatus handles GET /statuses/{user_id}/{party_id}
func (h *APIHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		respondError(w, "Unknown user ID", http.StatusNotFound)
		return
	}

	user, err := h.users.FindUser(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, "Unknown user ID", http.StatusNotFound)
		return
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get user")
		return
	}

	party, err := h.users.FindParty(ctx, chi.URLParam(r, "party_id"))
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, "Unknown party ID", http.StatusNotFound)
		return
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get party")
		return
	}

	status, err := h.statuses.FindStatus(ctx, user.ID, party.ID)
	if errors.Is(err, models.ErrNotFound) {
		respondEmpty(w, http.StatusNotFound)
		return
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get status")
		return
	}

	location, err := h.locations.FindByID(ctx, status.LocationID)
	if err != nil {
		// a status always references an existing location
		log.Error().Err(err).Str("whereabouts_id", status.LocationID.String()).Msg("Failed to get whereabouts of status")
		respondError(w, "Failed to get whereabouts", http.StatusInternalServerError)
		return
	}

	respondJSON(w, StatusResponse{
		User: UserResponse{ID: user.ID, ScreenName: user.ScreenName, AvatarURL: user.AvatarURL},
		Whereabouts: StatusLocation{
			ID:          location.ID,
			Name:        location.Name,
			Description: location.Description,
		},
		SetAt: status.SetAt.Format(time.RFC3339Nano),
	}, http.StatusOK)
}

// SetStatusRequest represents the request to set a user's status
type SetStatusRequest struct {
	UserID          *uuid.UUID `json:"user_id"`
	PartyID         string     `json:"party_id"`
	WhereaboutsName string     `json:"whereabouts_name"`
}

// SetStatus handles POST /statuses
func (h *APIHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, ok := h.approvedClient(w, r)
	if !ok {
		return
	}

	if !isJSON(r) {
		respondError(w, "JSON body required", http.StatusUnsupportedMediaType)
		return
	}

	var req SetStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == nil || req.PartyID == "" || req.WhereaboutsName == "" {
		respondError(w, "user_id, party_id and whereabouts_name are required", http.StatusBadRequest)
		return
	}

	user, err := h.users.FindUser(ctx, *req.UserID)
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, "Unknown user ID", http.StatusBadRequest)
		return
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get user")
		return
	}

	party, err := h.users.FindParty(ctx, req.PartyID)
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, "Unknown party ID", http.StatusBadRequest)
		return
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get party")
		return
	}

	location, err := h.locations.FindByName(ctx, party.ID, req.WhereaboutsName)
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, "Unknown whereabouts name for this party", http.StatusBadRequest)
		return
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get whereabouts")
		return
	}

	if location.Party.ID != party.ID {
		respondError(w, "Whereabouts name does not belong to this party", http.StatusBadRequest)
		return
	}

	_, _, event, err := h.statuses.SetStatus(ctx, *user, *location, client, sourceAddress(r))
	if err != nil {
		respondServiceError(w, r, err, "Failed to set status")
		return
	}

	if h.metrics != nil {
		h.metrics.StatusUpdates.WithLabelValues(party.ID).Inc()
	}
	publish(ctx, h.dispatcher, event)

	w.WriteHeader(http.StatusNoContent)
}

// approvedClient resolves the client token header to an approved client.
// It responds 400 when there is none.
func (h *APIHandler) approvedClient(w http.ResponseWriter, r *http.Request) (*models.Client, bool) {
	ctx := r.Context()

	client, err := h.clients.FindClientByToken(ctx, r.Header.Get(middleware.ClientTokenHeader))
	if errors.Is(err, models.ErrNotFound) || (err == nil && !client.Approved()) {
		respondError(w, "Invalid client token", http.StatusBadRequest)
		return nil, false
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get client")
		return nil, false
	}

	return client, true
}
