package main

import (
	"log/slog"

	"crestchain/core/events"
)

// logEmitter forwards node events to the structured log. A message broker
// could be slotted in here instead; for a single daemon the log stream is
// the event feed.
type logEmitter struct {
	log *slog.Logger
}

func (e logEmitter) Emit(evt events.Event) {
	attrs := evt.Attributes()
	fields := make([]any, 0, len(attrs))
	for k, v := range attrs {
		fields = append(fields, slog.String(k, v))
	}
	e.log.Info("event "+evt.EventType(), fields...)
}
