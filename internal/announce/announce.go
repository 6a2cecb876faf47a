// Package announce renders domain events as human-readable messages for
// chat integrations and the live admin feed.
package announce

import (
	"fmt"

	"whereabouts-backend/internal/events"
)

const fallbackScreenName = "Someone"

// Announcement is the rendered form of an event
type Announcement struct {
	EventName string `json:"event"`
	Text      string `json:"text"`
}

// Build renders the announcement for an event
func Build(ev events.Event) Announcement {
	return Announcement{
		EventName: ev.Name(),
		Text:      Text(ev),
	}
}

// Text returns the message for an event
func Text(ev events.Event) string {
	switch e := ev.(type) {
	case events.StatusUpdated:
		return fmt.Sprintf("%s's whereabouts changed to \"%s\".",
			screenName(e.User.ScreenName), e.WhereaboutsDescription)
	case events.ClientRegistered:
		return fmt.Sprintf("Whereabouts client %s has registered and awaits approval.", e.ClientID)
	case events.ClientApproved:
		return fmt.Sprintf("%s has approved whereabouts client %s.", initiatorName(e.Initiator), e.ClientID)
	case events.ClientDeleted:
		return fmt.Sprintf("%s has deleted whereabouts client %s.", initiatorName(e.Initiator), e.ClientID)
	case events.ClientSignedOn:
		return fmt.Sprintf("Whereabouts client %s has signed on.", e.ClientID)
	case events.ClientSignedOff:
		return fmt.Sprintf("Whereabouts client %s has signed off.", e.ClientID)
	case events.TagCreated:
		return fmt.Sprintf("%s has created whereabouts tag \"%s\" for %s.",
			initiatorName(e.Initiator), e.Tag, screenName(e.User.ScreenName))
	default:
		panic(fmt.Sprintf("unexpected event type %T", ev))
	}
}

func initiatorName(u *events.EventUser) string {
	if u == nil {
		return fallbackScreenName
	}
	return screenName(u.ScreenName)
}

func screenName(name string) string {
	if name == "" {
		return fallbackScreenName
	}
	return name
}
