package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"whereabouts-backend/internal/dispatch"
	"whereabouts-backend/internal/middleware"
	"whereabouts-backend/internal/models"
	"whereabouts-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AdminHandler serves the administration API
type AdminHandler struct {
	users        *services.UserService
	locations    *services.LocationService
	statuses     *services.StatusService
	clients      *services.ClientService
	tags         *services.TagService
	registration services.MutableRegistrationPolicy
	dispatcher   dispatch.Dispatcher
}

// NewAdminHandler creates a new admin handler. dispatcher may be nil.
func NewAdminHandler(
	users *services.UserService,
	locations *services.LocationService,
	statuses *services.StatusService,
	clients *services.ClientService,
	tags *services.TagService,
	registration services.MutableRegistrationPolicy,
	dispatcher dispatch.Dispatcher,
) *AdminHandler {
	return &AdminHandler{
		users:        users,
		locations:    locations,
		statuses:     statuses,
		clients:      clients,
		tags:         tags,
		registration: registration,
		dispatcher:   dispatcher,
	}
}

// Routes mounts the admin API. Authentication must already have run.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequirePermission(services.PermissionView))
		r.Get("/parties/{party_id}/locations", h.ListLocations)
		r.Get("/parties/{party_id}/statuses", h.ListStatuses)
		r.Get("/users/{user_id}/updates", h.ListUpdates)
		r.Get("/clients", h.ListClients)
		r.Get("/client_configs", h.ListClientConfigs)
		r.Get("/registration", h.GetRegistration)
		r.Get("/tags", h.ListTags)
		r.Get("/sounds", h.ListUserSounds)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequirePermission(services.PermissionAdministrate))
		r.Post("/parties/{party_id}/locations", h.CreateLocation)
		r.Post("/clients/{client_id}/approve", h.ApproveClient)
		r.Delete("/clients/{client_id}/candidate", h.DeleteCandidate)
		r.Delete("/clients/{client_id}", h.DeleteClient)
		r.Patch("/clients/{client_id}", h.UpdateClient)
		r.Post("/client_configs", h.CreateClientConfig)
		r.Put("/registration", h.SetRegistration)
		r.Post("/tags", h.CreateTag)
		r.Post("/sounds", h.CreateUserSound)
	})
}

// initiator resolves the authenticated administrator
func (h *AdminHandler) initiator(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		respondError(w, "Authorization required", http.StatusUnauthorized)
		return nil, false
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		respondError(w, "Invalid token", http.StatusUnauthorized)
		return nil, false
	}

	user, err := h.users.FindUser(r.Context(), userID)
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, "Unknown administrator", http.StatusForbidden)
		return nil, false
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get administrator")
		return nil, false
	}
	return user, true
}

func (h *AdminHandler) party(w http.ResponseWriter, r *http.Request) (*models.Party, bool) {
	party, err := h.users.FindParty(r.Context(), chi.URLParam(r, "party_id"))
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, "Unknown party ID", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		respondServiceError(w, r, err, "Failed to get party")
		return nil, false
	}
	return party, true
}

func (h *AdminHandler) client(w http.ResponseWriter, r *http.Request) (*models.Client, bool) {
	clientID, err := uuid.Parse(chi.URLParam(r, "client_id"))
	if err != nil {
		respondError(w, "Unknown client ID", http.StatusNotFound)
		return nil, false
	}

	client, err := h.clients.FindClient(r.Context(), clientID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to get client")
		return nil, false
	}
	return client, true
}

// decodeBody checks the content type and decodes the body. It responds
// on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if !isJSON(r) {
		respondError(w, "JSON body required", http.StatusUnsupportedMediaType)
		return false
	}
	if err := decodeJSON(r, v); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// ListLocations handles GET /parties/{party_id}/locations
func (h *AdminHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	party, ok := h.party(w, r)
	if !ok {
		return
	}

	locations, err := h.locations.ListForParty(ctx, party.ID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to list whereabouts")
		return
	}
	services.SortByPosition(locations)

	respondJSON(w, map[string]any{"whereabouts": locations}, http.StatusOK)
}

// CreateLocationRequest represents the request to create a location
type CreateLocationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	HideIfEmpty bool   `json:"hide_if_empty"`
	Secret      bool   `json:"secret"`
	Position    *int   `json:"position"`
}

// CreateLocation handles POST /parties/{party_id}/locations
func (h *AdminHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	party, ok := h.party(w, r)
	if !ok {
		return
	}

	var req CreateLocationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	location, err := h.locations.Create(ctx, *party, services.CreateLocationParams{
		Name:        req.Name,
		Description: req.Description,
		HideIfEmpty: req.HideIfEmpty,
		Secret:      req.Secret,
		Position:    req.Position,
	})
	if err != nil {
		respondServiceError(w, r, err, "Failed to create whereabouts")
		return
	}

	respondJSON(w, location, http.StatusCreated)
}

// ListStatuses handles GET /parties/{party_id}/statuses
func (h *AdminHandler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	party, ok := h.party(w, r)
	if !ok {
		return
	}

	statuses, err := h.statuses.ListStatuses(ctx, party.ID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to list statuses")
		return
	}

	respondJSON(w, map[string]any{"statuses": statuses}, http.StatusOK)
}

// ListUpdates handles GET /users/{user_id}/updates
func (h *AdminHandler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		respondError(w, "Unknown user ID", http.StatusNotFound)
		return
	}

	updates, err := h.statuses.ListUpdates(ctx, userID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to list updates")
		return
	}

	respondJSON(w, map[string]any{"updates": updates}, http.StatusOK)
}

// ListClients handles GET /clients
func (h *AdminHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clients, err := h.clients.ListClients(ctx)
	if err != nil {
		respondServiceError(w, r, err, "Failed to list clients")
		return
	}

	respondJSON(w, map[string]any{"clients": clients}, http.StatusOK)
}

// ApproveClient handles POST /clients/{client_id}/approve
func (h *AdminHandler) ApproveClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	initiator, ok := h.initiator(w, r)
	if !ok {
		return
	}
	candidate, ok := h.client(w, r)
	if !ok {
		return
	}

	client, event, err := h.clients.Approve(ctx, *candidate, *initiator)
	if err != nil {
		respondServiceError(w, r, err, "Failed to approve client")
		return
	}

	publish(ctx, h.dispatcher, event)
	respondJSON(w, client, http.StatusOK)
}

// DeleteCandidate handles DELETE /clients/{client_id}/candidate
func (h *AdminHandler) DeleteCandidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	initiator, ok := h.initiator(w, r)
	if !ok {
		return
	}
	candidate, ok := h.client(w, r)
	if !ok {
		return
	}

	if err := h.clients.DeleteCandidate(ctx, *candidate, *initiator); err != nil {
		respondServiceError(w, r, err, "Failed to delete client candidate")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteClient handles DELETE /clients/{client_id}
func (h *AdminHandler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	initiator, ok := h.initiator(w, r)
	if !ok {
		return
	}
	client, ok := h.client(w, r)
	if !ok {
		return
	}

	_, event, err := h.clients.Delete(ctx, *client, *initiator)
	if err != nil {
		respondServiceError(w, r, err, "Failed to delete client")
		return
	}

	publish(ctx, h.dispatcher, event)
	w.WriteHeader(http.StatusNoContent)
}

// UpdateClientRequest represents the administrator-assigned client details
type UpdateClientRequest struct {
	Location    *string    `json:"location"`
	Description *string    `json:"description"`
	ConfigID    *uuid.UUID `json:"config_id"`
}

// UpdateClient handles PATCH /clients/{client_id}
func (h *AdminHandler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, ok := h.client(w, r)
	if !ok {
		return
	}

	var req UpdateClientRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.clients.UpdateClient(ctx, *client, req.Location, req.Description, req.ConfigID); err != nil {
		respondServiceError(w, r, err, "Failed to update client")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListClientConfigs handles GET /client_configs
func (h *AdminHandler) ListClientConfigs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	configs, err := h.clients.ListClientConfigs(ctx)
	if err != nil {
		respondServiceError(w, r, err, "Failed to list client configs")
		return
	}

	respondJSON(w, map[string]any{"configs": configs}, http.StatusOK)
}

// CreateClientConfigRequest represents the request to create a client config
type CreateClientConfigRequest struct {
	Title       string          `json:"title"`
	Description *string         `json:"description"`
	Content     json.RawMessage `json:"content"`
}

// CreateClientConfig handles POST /client_configs
func (h *AdminHandler) CreateClientConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateClientConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		respondError(w, "title is required", http.StatusBadRequest)
		return
	}

	cfg, err := h.clients.CreateClientConfig(ctx, req.Title, req.Description, req.Content)
	if err != nil {
		respondServiceError(w, r, err, "Failed to create client config")
		return
	}

	respondJSON(w, cfg, http.StatusCreated)
}

// RegistrationResponse reports whether client registration is open
type RegistrationResponse struct {
	Status services.RegistrationStatus `json:"status"`
}

// GetRegistration handles GET /registration
func (h *AdminHandler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.registration.RegistrationStatus(ctx)
	if err != nil {
		respondServiceError(w, r, err, "Failed to get registration status")
		return
	}

	respondJSON(w, RegistrationResponse{Status: status}, http.StatusOK)
}

// SetRegistration handles PUT /registration
func (h *AdminHandler) SetRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	initiator, ok := h.initiator(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	status, err := services.ParseRegistrationStatus(req.Status)
	if err != nil {
		respondError(w, "status must be open or closed", http.StatusBadRequest)
		return
	}

	if err := h.registration.SetRegistrationStatus(ctx, status); err != nil {
		respondServiceError(w, r, err, "Failed to set registration status")
		return
	}

	log.Info().
		Str("status", string(status)).
		Str("changed_by", initiator.ScreenName).
		Msg("Whereabouts client registration changed")

	respondJSON(w, RegistrationResponse{Status: status}, http.StatusOK)
}

// ListTags handles GET /tags
func (h *AdminHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tags, err := h.tags.ListTags(ctx)
	if err != nil {
		respondServiceError(w, r, err, "Failed to list tags")
		return
	}

	respondJSON(w, map[string]any{"tags": tags}, http.StatusOK)
}

// CreateTagRequest represents the request to bind a tag to a user
type CreateTagRequest struct {
	Tag           string     `json:"tag"`
	UserID        *uuid.UUID `json:"user_id"`
	SoundFilename *string    `json:"sound_filename"`
	Suspended     bool       `json:"suspended"`
}

// CreateTag handles POST /tags
func (h *AdminHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creator, ok := h.initiator(w, r)
	if !ok {
		return
	}

	var req CreateTagRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == nil {
		respondError(w, "user_id is required", http.StatusBadRequest)
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

	tag, event, err := h.tags.CreateTag(ctx, *creator, *user, services.CreateTagParams{
		Tag:           req.Tag,
		SoundFilename: req.SoundFilename,
		Suspended:     req.Suspended,
	})
	if err != nil {
		respondServiceError(w, r, err, "Failed to create tag")
		return
	}

	publish(ctx, h.dispatcher, event)
	respondJSON(w, tag, http.StatusCreated)
}

// ListUserSounds handles GET /sounds
func (h *AdminHandler) ListUserSounds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sounds, err := h.tags.ListUserSounds(ctx)
	if err != nil {
		respondServiceError(w, r, err, "Failed to list user sounds")
		return
	}

	respondJSON(w, map[string]any{"sounds": sounds}, http.StatusOK)
}

// CreateUserSoundRequest represents the request to assign a sound to a user
type CreateUserSoundRequest struct {
	UserID   *uuid.UUID `json:"user_id"`
	Filename string     `json:"filename"`
}

// CreateUserSound handles POST /sounds
func (h *AdminHandler) CreateUserSound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateUserSoundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == nil {
		respondError(w, "user_id is required", http.StatusBadRequest)
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

	sound, err := h.tags.CreateUserSound(ctx, *user, req.Filename)
	if err != nil {
		respondServiceError(w, r, err, "Failed to create user sound")
		return
	}

	respondJSON(w, sound, http.StatusCreated)
}
