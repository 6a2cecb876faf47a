package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"whereabouts-backend/internal/announce"
	"whereabouts-backend/internal/events"
	"whereabouts-backend/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// LiveMessage represents a message on the live feed
type LiveMessage struct {
	Type      string       `json:"type"`
	Timestamp int64        `json:"timestamp,omitempty"`
	Message   string       `json:"message,omitempty"`
	Data      events.Event `json:"data,omitempty"`
}

type liveConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	partyID string
}

func (c *liveConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages the live feed WebSocket connections and broadcasts events
// to them. Connections registered with a party only receive status
// updates of that party.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*liveConn
	metrics     *metrics.Metrics
}

// NewHub creates a new hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]*liveConn),
		metrics:     m,
	}
}

// Register adds a connection and returns its id
func (h *Hub) Register(conn *websocket.Conn, partyID string) uuid.UUID {
	id := uuid.New()

	h.mu.Lock()
	h.connections[id] = &liveConn{conn: conn, partyID: partyID}
	count := len(h.connections)
	h.mu.Unlock()

	h.setGauge(count)
	log.Info().Str("conn_id", id.String()).Str("party_id", partyID).Msg("Live connection registered")

	return id
}

// Unregister closes and removes a connection
func (h *Hub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	c, exists := h.connections[id]
	if exists {
		delete(h.connections, id)
	}
	count := len(h.connections)
	h.mu.Unlock()

	if !exists {
		return
	}
	c.conn.Close()
	h.setGauge(count)
	log.Info().Str("conn_id", id.String()).Msg("Live connection unregistered")
}

// Count returns the number of registered connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) Name() string { return "live" }

// Publish broadcasts the event to every matching connection. Connections
// that fail to receive it are dropped.
func (h *Hub) Publish(ctx context.Context, ev events.Event) error {
	msg := LiveMessage{
		Type:      ev.Name(),
		Timestamp: ev.Metadata().OccurredAt.UnixMilli(),
		Message:   announce.Text(ev),
		Data:      ev,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	partyID := ""
	if e, ok := ev.(events.StatusUpdated); ok {
		partyID = e.Party.ID
	}

	h.mu.RLock()
	targets := make(map[uuid.UUID]*liveConn, len(h.connections))
	for id, c := range h.connections {
		if c.partyID != "" && c.partyID != partyID {
			continue
		}
		targets[id] = c
	}
	h.mu.RUnlock()

	for id, c := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.write(data); err != nil {
			log.Warn().Err(err).Str("conn_id", id.String()).Msg("Failed to send live message")
			h.Unregister(id)
		}
	}

	return nil
}

func (h *Hub) setGauge(count int) {
	if h.metrics != nil {
		h.metrics.LiveConnections.Set(float64(count))
	}
}
