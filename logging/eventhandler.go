package logging

import (
	"context"
	"log/slog"

	es "github.com/terraskye/eventsourcing-engine"
)

// WithLoggingMiddleware logs every event handled by next. Skipped events
// are logged at debug level and are not treated as failures.
func WithLoggingMiddleware(logger *slog.Logger, next es.EventHandler) es.EventHandler {
	return es.NewEventHandlerFunc(func(ctx context.Context, event es.Event) error {
		l := logger.With(
			slog.Group(
				"event",
				slog.String("type", event.EventType()),
				slog.String("id", es.EventIDFromContext(ctx).String()),
				slog.String("stream", es.StreamIDFromContext(ctx)),
				slog.Uint64("version", es.VersionFromContext(ctx)),
				slog.Uint64("position", es.GlobalVersionFromContext(ctx)),
				slog.String("aggregate", es.AggregateIDFromContext(ctx)),
			),
		)

		l.DebugContext(ctx, "event processing started")

		err := next.Handle(ctx, event)

		switch {
		case err == nil:
			l.DebugContext(ctx, "event processed successfully")
		case es.IsSkipped(err):
			l.DebugContext(ctx, "event skipped")
		default:
			l.ErrorContext(ctx, "error processing event", slog.Any("error", err))
		}

		return err
	})
}
