package dispatch

import (
	"context"

	"whereabouts-backend/internal/announce"
	"whereabouts-backend/internal/events"

	"github.com/rs/zerolog/log"
)

// LogSink writes the announcement of every event to the log
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Publish(ctx context.Context, ev events.Event) error {
	a := announce.Build(ev)
	log.Info().
		Str("event", a.EventName).
		Time("occurred_at", ev.Metadata().OccurredAt).
		Msg(a.Text)
	return nil
}
