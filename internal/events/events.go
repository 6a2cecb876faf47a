// Package events defines the closed set of domain events emitted by the
// whereabouts services. Consumers switch over the concrete types.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
)

// Event is implemented only by the types in this package.
type Event interface {
	// Name is the stable routing name of the event type
	Name() string
	// Metadata returns the fields every event carries
	Metadata() Meta
	sealed()
}

// Meta holds when an event occurred and who caused it
type Meta struct {
	OccurredAt time.Time  `json:"occurred_at"`
	Initiator  *EventUser `json:"initiator"`
}

// EventUser is a snapshot of a user at event creation time
type EventUser struct {
	ID         uuid.UUID `json:"id"`
	ScreenName string    `json:"screen_name"`
}

// EventParty is a snapshot of a party at event creation time
type EventParty struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// UserFrom builds an event snapshot of the user
func UserFrom(u models.User) *EventUser {
	return &EventUser{ID: u.ID, ScreenName: u.ScreenName}
}

// StatusUpdated is emitted after a user's whereabouts has been set
type StatusUpdated struct {
	Meta
	Party                  EventParty `json:"party"`
	User                   EventUser  `json:"user"`
	WhereaboutsDescription string     `json:"whereabouts_description"`
}

// ClientRegistered is emitted when a client candidate registers
type ClientRegistered struct {
	Meta
	ClientID uuid.UUID `json:"client_id"`
}

// ClientApproved is emitted when an administrator approves a candidate
type ClientApproved struct {
	Meta
	ClientID uuid.UUID `json:"client_id"`
}

// ClientDeleted is emitted when an approved client is deleted
type ClientDeleted struct {
	Meta
	ClientID uuid.UUID `json:"client_id"`
}

// ClientSignedOn is emitted when a client signs on
type ClientSignedOn struct {
	Meta
	ClientID uuid.UUID `json:"client_id"`
}

// ClientSignedOff is emitted when a client signs off
type ClientSignedOff struct {
	Meta
	ClientID uuid.UUID `json:"client_id"`
}

// TagCreated is emitted when an administrator binds a tag to a user
type TagCreated struct {
	Meta
	Tag  string    `json:"tag"`
	User EventUser `json:"user"`
}

const (
	NameStatusUpdated    = "whereabouts-status-updated"
	NameClientRegistered = "whereabouts-client-registered"
	NameClientApproved   = "whereabouts-client-approved"
	NameClientDeleted    = "whereabouts-client-deleted"
	NameClientSignedOn   = "whereabouts-client-signed-on"
	NameClientSignedOff  = "whereabouts-client-signed-off"
	NameTagCreated       = "whereabouts-tag-created"
)

func (e StatusUpdated) Name() string    { return NameStatusUpdated }
func (e ClientRegistered) Name() string { return NameClientRegistered }
func (e ClientApproved) Name() string   { return NameClientApproved }
func (e ClientDeleted) Name() string    { return NameClientDeleted }
func (e ClientSignedOn) Name() string   { return NameClientSignedOn }
func (e ClientSignedOff) Name() string  { return NameClientSignedOff }
func (e TagCreated) Name() string       { return NameTagCreated }

func (m Meta) Metadata() Meta { return m }

func (StatusUpdated) sealed()    {}
func (ClientRegistered) sealed() {}
func (ClientApproved) sealed()   {}
func (ClientDeleted) sealed()    {}
func (ClientSignedOn) sealed()   {}
func (ClientSignedOff) sealed()  {}
func (TagCreated) sealed()       {}

// Envelope is the wire form of an event published to brokers
type Envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

// Marshal encodes an event inside its envelope
func Marshal(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	data, err := json.Marshal(Envelope{Type: ev.Name(), Data: ev})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", ev.Name(), err)
	}
	return data, nil
}

// ClientIDOf returns the client an event refers to, if any
func ClientIDOf(ev Event) (uuid.UUID, bool) {
	switch e := ev.(type) {
	case ClientRegistered:
		return e.ClientID, true
	case ClientApproved:
		return e.ClientID, true
	case ClientDeleted:
		return e.ClientID, true
	case ClientSignedOn:
		return e.ClientID, true
	case ClientSignedOff:
		return e.ClientID, true
	case StatusUpdated, TagCreated:
		return uuid.Nil, false
	default:
		panic(fmt.Sprintf("unexpected event type %T", ev))
	}
}
