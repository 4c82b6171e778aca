// Command subscriber runs one catch-up subscription against the configured
// event store and logs every event it delivers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	es "github.com/terraskye/eventsourcing-engine"
	"github.com/terraskye/eventsourcing-engine/checkpoint"
	"github.com/terraskye/eventsourcing-engine/eventstore/kurrentdb"
	"github.com/terraskye/eventsourcing-engine/eventstore/sqlite"
	"github.com/terraskye/eventsourcing-engine/logging"
	esotel "github.com/terraskye/eventsourcing-engine/otel"
	"github.com/terraskye/eventsourcing-engine/subscription"
)

func main() {
	if err := run(); err != nil {
		slog.Error("subscriber stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// source is what the worker needs from a backend.
type source interface {
	es.EventStore
	es.AllStreamSubscriber
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level, _ := cfg.level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := setupTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("flush traces", slog.Any("error", err))
		}
	}()

	store, checkpoints, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	worker, err := newWorker(cfg.SubscriptionID, store, checkpoints, logger)
	if err != nil {
		return err
	}

	logger.Info("subscriber starting",
		slog.String("backend", cfg.Backend),
		slog.String("subscription", cfg.SubscriptionID),
	)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newWorker wires a worker that logs every event it is handed, whether or
// not its type is known to this binary.
func newWorker(id string, store es.AllStreamSubscriber, checkpoints es.CheckpointStore, logger *slog.Logger) (*subscription.Worker, error) {
	projector := esotel.WithEventTelemetry(
		logging.WithLoggingMiddleware(logger, es.NewEventHandlerFunc(func(ctx context.Context, event es.Event) error {
			attrs := []any{
				slog.String("type", event.EventType()),
				slog.Uint64("position", es.GlobalVersionFromContext(ctx)),
				slog.String("stream", es.StreamIDFromContext(ctx)),
			}
			if raw, ok := event.(rawEvent); ok {
				attrs = append(attrs, slog.Any("data", raw.Payload))
			}
			logger.InfoContext(ctx, "event received", attrs...)
			return nil
		})),
	)

	return subscription.NewWorker(id, store, checkpoints,
		subscription.WithCodec(newCodec()),
		subscription.WithProjector(projector),
		subscription.WithLogger(logger),
	)
}

// openBackend returns the decorated store and the checkpoint store that
// suits the backend.
func openBackend(cfg config, logger *slog.Logger) (source, es.CheckpointStore, error) {
	entry := logrus.WithField("backend", cfg.Backend)

	switch cfg.Backend {
	case backendKurrentDB:
		store, err := kurrentdb.Dial(cfg.KurrentDBURL, kurrentdb.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return decorate(entry, store), kurrentdb.NewCheckpointStore(store), nil
	default:
		store, err := sqlite.Open(cfg.SQLitePath,
			sqlite.WithPollInterval(cfg.PollInterval),
			sqlite.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		decorated := decorate(entry, store)
		return decorated, checkpoint.NewEventStore(decorated), nil
	}
}

func decorate(entry *logrus.Entry, store es.EventStore) source {
	return esotel.WithEventStoreTelemetry(logging.WithEventStoreLogging(entry, store))
}
