package models

import (
	"encoding/json"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// User is the display-capable record of an attendee or administrator
type User struct {
	ID         uuid.UUID `json:"id"`
	ScreenName string    `json:"screen_name"`
	AvatarURL  *string   `json:"avatar_url"`
}

// Party is the event a location belongs to
type Party struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Location represents a user's potential whereabouts at a party
type Location struct {
	ID          uuid.UUID `json:"id"`
	Party       Party     `json:"party"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Position    int       `json:"position"`
	HideIfEmpty bool      `json:"hide_if_empty"`
	Secret      bool      `json:"secret"`
}

// Status is a user's most recent whereabouts
type Status struct {
	UserID     uuid.UUID `json:"user_id"`
	LocationID uuid.UUID `json:"whereabouts_id"`
	SetAt      time.Time `json:"set_at"`
}

// Update is an immutable entry in a user's whereabouts history
type Update struct {
	ID            uuid.UUID   `json:"id"`
	UserID        uuid.UUID   `json:"user_id"`
	LocationID    uuid.UUID   `json:"whereabouts_id"`
	CreatedAt     time.Time   `json:"created_at"`
	SourceAddress *netip.Addr `json:"source_address,omitempty"`
}

// Tag is an identifier (RFID transponder, barcode, etc.) bound to a user
type Tag struct {
	ID            uuid.UUID `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Creator       User      `json:"creator"`
	Tag           string    `json:"tag"`
	User          User      `json:"user"`
	SoundFilename *string   `json:"sound_filename"`
	Suspended     bool      `json:"suspended"`
}

// UserSound overrides any tag-specific sound for a user
type UserSound struct {
	User     User   `json:"user"`
	Filename string `json:"filename"`
}

// ClientAuthorityStatus is the lifecycle state of a client
type ClientAuthorityStatus string

const (
	ClientPending  ClientAuthorityStatus = "pending"
	ClientApproved ClientAuthorityStatus = "approved"
	ClientDeleted  ClientAuthorityStatus = "deleted"
)

// Client represents a hardware checkpoint device
type Client struct {
	ID              uuid.UUID             `json:"id"`
	RegisteredAt    time.Time             `json:"registered_at"`
	ButtonCount     int                   `json:"button_count"`
	AudioOutput     bool                  `json:"audio_output"`
	AuthorityStatus ClientAuthorityStatus `json:"authority_status"`
	Token           *string               `json:"token"`
	Location        *string               `json:"location"`
	Description     *string               `json:"description"`
	ConfigID        *uuid.UUID            `json:"config_id"`
}

// Pending reports whether the client still awaits approval
func (c Client) Pending() bool {
	return c.AuthorityStatus == ClientPending
}

// Approved reports whether the client is live
func (c Client) Approved() bool {
	return c.AuthorityStatus == ClientApproved
}

// Liveliness tracks whether an approved client is signed on
type Liveliness struct {
	ClientID         uuid.UUID `json:"client_id"`
	SignedOn         bool      `json:"signed_on"`
	LatestActivityAt time.Time `json:"latest_activity_at"`
}

// ClientWithLiveliness is a client together with its liveliness status
type ClientWithLiveliness struct {
	Client
	SignedOn         bool      `json:"signed_on"`
	LatestActivityAt time.Time `json:"latest_activity_at"`
}

// ClientConfig is a configuration document that can be assigned to clients
type ClientConfig struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Description *string         `json:"description"`
	Content     json.RawMessage `json:"content"`
}
