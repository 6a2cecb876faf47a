package handlers

import (
	"net/http"

	"whereabouts-backend/internal/dispatch"
	"whereabouts-backend/internal/middleware"
	"whereabouts-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveHandler serves the live feed of announcements to administrators
type LiveHandler struct {
	hub  *dispatch.Hub
	auth middleware.TokenValidator
}

// NewLiveHandler creates a new live feed handler
func NewLiveHandler(hub *dispatch.Hub, auth middleware.TokenValidator) *LiveHandler {
	return &LiveHandler{hub: hub, auth: auth}
}

// HandleWebSocket handles GET /live?token=...&party_id=...
func (h *LiveHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// browsers cannot set headers on websocket requests
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	claims, err := h.auth.ValidateJWT(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if !claims.Has(services.PermissionView) {
		respondError(w, "Permission denied", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	connID := h.hub.Register(conn, r.URL.Query().Get("party_id"))
	defer h.hub.Unregister(connID)

	log.Info().
		Str("user_id", claims.UserID).
		Str("conn_id", connID.String()).
		Msg("Live feed connection established")

	// the feed is one-way; reading only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("conn_id", connID.String()).Msg("WebSocket error")
			}
			return
		}
	}
}
