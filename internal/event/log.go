package event

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the log. It is the default publisher when no
// message transport is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.log.Info("event published", "kind", e.Kind(), "payload", e)
	return nil
}
