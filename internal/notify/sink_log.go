package notify

import (
	"context"
	"log/slog"
)

// LogSink writes lifecycle events to the structured log. Used when no broker
// is configured, and alongside Kafka in development.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, event Event) error {
	s.logger.Info("visit lifecycle event",
		"kind", event.Kind,
		"visit_id", event.VisitID,
		"actor_id", event.ActorID,
		"actor_role", event.ActorRole,
		"detail", event.Detail,
		"at", event.At,
	)
	return nil
}
