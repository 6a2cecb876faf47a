package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"net/netip"

	"whereabouts-backend/internal/dispatch"
	"whereabouts-backend/internal/events"
	"whereabouts-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// respondJSON sends v with the status code
func respondJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// respondEmpty sends an empty JSON object
func respondEmpty(w http.ResponseWriter, statusCode int) {
	respondJSON(w, struct{}{}, statusCode)
}

// respondServiceError maps a service failure to a status code. Storage
// details are logged, never sent.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		respondError(w, "invalid request", http.StatusBadRequest)
	case errors.Is(err, models.ErrNotFound):
		respondError(w, "not found", http.StatusNotFound)
	case errors.Is(err, models.ErrConflict):
		respondError(w, "conflict", http.StatusConflict)
	case errors.Is(err, models.ErrInvalidState):
		respondError(w, "invalid state", http.StatusConflict)
	case errors.Is(err, models.ErrTransientStorage):
		w.Header().Set("Retry-After", "1")
		respondError(w, "temporarily unavailable", http.StatusServiceUnavailable)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
		respondError(w, msg, http.StatusInternalServerError)
	}
}

// isJSON reports whether the request declares a JSON body
func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// decodeJSON decodes the request body into v
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

// sourceAddress returns the address of the remote peer, if parseable
func sourceAddress(r *http.Request) *netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	addr = addr.Unmap()
	return &addr
}

// publish hands the event to the dispatcher. The change it describes has
// been committed already, so failures are only logged.
func publish(ctx context.Context, d dispatch.Dispatcher, ev events.Event) {
	if d == nil {
		return
	}
	if err := d.Dispatch(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", ev.Name()).Msg("Failed to dispatch event")
	}
}
