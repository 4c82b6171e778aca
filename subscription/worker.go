// Package subscription runs catch-up subscriptions over the global log.
//
// A Worker attaches to the log right after its last checkpoint, delivers
// every event to its consumers one at a time, stores the checkpoint after
// each successful delivery and resubscribes with jittered backoff whenever
// the live read is dropped.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	es "github.com/terraskye/eventsourcing-engine"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidWorker is returned by NewWorker for an incomplete configuration.
	ErrInvalidWorker = errors.New("invalid subscription worker")
	// ErrAlreadyRunning is returned when Run is called on a running worker.
	ErrAlreadyRunning = errors.New("subscription worker already running")
)

// DeliveryError reports a consumer that failed to handle an event. The
// subscription is dropped and the event is delivered again after
// resubscribing.
type DeliveryError struct {
	Consumer       string
	EventType      string
	GlobalPosition uint64
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s at %d to %s: %v", e.EventType, e.GlobalPosition, e.Consumer, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type consumer struct {
	name    string
	handler es.EventHandler
}

// Worker is a catch-up subscription of one subscription id.
type Worker struct {
	id          string
	source      es.AllStreamSubscriber
	checkpoints es.CheckpointStore
	codec       es.Codec
	consumers   []consumer
	retry       es.RetryPolicy
	newBackOff  func() backoff.BackOff
	exclude     []string
	log         *slog.Logger

	// resubscribe allows a single subscribe attempt at a time. It is
	// released before any backoff wait.
	resubscribe sync.Mutex

	running atomic.Bool
	state   atomic.Int32
	last    atomic.Uint64
	hasLast atomic.Bool
}

// NewWorker returns a worker for subscription id reading from source and
// persisting progress in checkpoints.
//
// Example Usage:
//
//	w, err := subscription.NewWorker("orders-projection", store, checkpoint.NewEventStore(store),
//	    subscription.WithPublisher(router),
//	    subscription.WithProjector(projector),
//	)
//	go w.Run(ctx)
func NewWorker(id string, source es.AllStreamSubscriber, checkpoints es.CheckpointStore, opts ...Option) (*Worker, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty subscription id", ErrInvalidWorker)
	}
	if source == nil || checkpoints == nil {
		return nil, fmt.Errorf("%w: source and checkpoint store are required", ErrInvalidWorker)
	}

	w := &Worker{
		id:          id,
		source:      source,
		checkpoints: checkpoints,
		codec:       es.NewJSONCodec(nil),
		retry:       es.NoRetry,
		newBackOff:  NewJitterBackOff,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With(slog.String("subscription", id))
	return w, nil
}

// ID returns the subscription id.
func (w *Worker) ID() string {
	return w.id
}

// State returns the current lifecycle stage.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// LastCheckpoint returns the last position stored or loaded by the worker.
func (w *Worker) LastCheckpoint() (uint64, bool) {
	return w.last.Load(), w.hasLast.Load()
}

func (w *Worker) setState(s State) {
	if prev := State(w.state.Swap(int32(s))); prev != s {
		w.log.Debug("state changed", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Run subscribes and delivers events until ctx is cancelled, in which case
// it returns nil. It returns an error matching ErrDecodeFailure when an
// event cannot be decoded; such an event is never skipped.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer w.running.Store(false)

	w.setState(StateStarting)
	w.log.Info("starting subscription")

	sub, err := w.subscribe(ctx)
	for {
		if err != nil {
			// subscribe only gives up once ctx is done
			return w.terminate(err)
		}

		err = w.consume(ctx, sub)
		_ = sub.Close()
		w.setState(StateDropped)

		switch {
		case ctx.Err() != nil || errors.Is(err, es.ErrSubscriptionCanceled):
			return w.terminate(err)
		case errors.Is(err, es.ErrDecodeFailure):
			w.setState(StateTerminated)
			w.log.Error("stopping subscription on undecodable event", slog.Any("error", err))
			return fmt.Errorf("subscription %s: %w", w.id, err)
		}

		w.log.Warn("subscription dropped", slog.Any("reason", err))
		es.Resubscribes.Add(ctx, 1, metric.WithAttributes(
			es.AttrSubscriptionID.String(w.id),
			es.AttrDropReason.String(dropReason(err)),
		))
		w.setState(StateResubscribing)

		// resubscribing replays from the checkpoint, so whatever failed
		// comes back right away
		if werr := w.wait(ctx); werr != nil {
			return w.terminate(werr)
		}
		sub, err = w.subscribe(ctx)
	}
}

func (w *Worker) terminate(reason error) error {
	w.setState(StateTerminated)
	w.log.Info("subscription cancelled", slog.Any("reason", reason))
	return nil
}

func (w *Worker) wait(ctx context.Context) error {
	t := time.NewTimer(w.newBackOff().NextBackOff())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// subscribe retries attempt until it succeeds or ctx is done.
func (w *Worker) subscribe(ctx context.Context) (es.Subscription, error) {
	var sub es.Subscription
	op := func() error {
		s, err := w.attempt(ctx)
		if err != nil {
			return err
		}
		sub = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		w.setState(StateResubscribing)
		w.log.Warn("subscribe failed, retrying", slog.Any("error", err), slog.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(w.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	w.setState(StateSubscribed)
	return sub, nil
}

// attempt performs Starting once: load the checkpoint and open the
// subscription right after it.
func (w *Worker) attempt(ctx context.Context) (es.Subscription, error) {
	w.resubscribe.Lock()
	defer w.resubscribe.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, backoff.Permanent(err)
	}

	w.setState(StateStarting)
	position, found, err := w.checkpoints.Load(ctx, w.id)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	opts := es.SubscribeOptions{
		ExcludeEventTypes:   append([]string{es.CheckpointEventType}, w.exclude...),
		ExcludeSystemEvents: true,
	}
	if found {
		opts.From = position + 1
		w.last.Store(position)
		w.hasLast.Store(true)
	}

	sub, err := w.source.SubscribeToAll(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("subscribe from %d: %w", opts.From, err)
	}
	w.log.Info("subscribed", slog.Uint64("from", opts.From), slog.Bool("checkpoint", found))
	return sub, nil
}

func (w *Worker) consume(ctx context.Context, sub es.Subscription) error {
	for {
		w.setState(StateSubscribed)
		ev, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		if err := w.deliver(ctx, ev); err != nil {
			return err
		}
	}
}

func (w *Worker) deliver(ctx context.Context, ev es.LoggedEvent) error {
	w.setState(StateDelivering)

	logger := w.log.With(
		slog.Group(
			"event",
			slog.String("id", ev.EventID.String()),
			slog.String("type", ev.EventType),
			slog.String("stream", ev.StreamID),
			slog.Uint64("position", ev.GlobalPosition),
		),
	)
	attrs := metric.WithAttributes(
		es.AttrSubscriptionID.String(w.id),
		es.AttrEventType.String(ev.EventType),
	)

	if last, ok := w.LastCheckpoint(); ok && ev.GlobalPosition <= last {
		logger.Debug("skipping already processed event", slog.Uint64("checkpoint", last))
		return nil
	}
	if ev.EventType == es.CheckpointEventType || strings.HasPrefix(ev.StreamID, es.CheckpointStreamPrefix) {
		es.EventsSkipped.Add(ctx, 1, attrs)
		return nil
	}
	if len(ev.Data) == 0 {
		logger.Warn("skipping event with empty payload")
		es.EventsSkipped.Add(ctx, 1, attrs)
		return nil
	}

	ctx, span := es.Tracer().Start(ctx, "subscription.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			es.AttrSubscriptionID.String(w.id),
			es.AttrEventType.String(ev.EventType),
			es.AttrStreamID.String(ev.StreamID),
			es.AttrGlobalPosition.Int64(int64(ev.GlobalPosition)),
		),
	)
	defer span.End()
	start := time.Now()

	env, err := w.codec.Decode(ev)
	if err != nil {
		logger.Error("failed to decode event", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		es.DeliveryErrors.Add(ctx, 1, attrs)
		return err
	}

	handlerCtx := es.WithEnvelope(ctx, env)
	for _, c := range w.consumers {
		err := w.retry.Do(ctx, func() error {
			if err := c.handler.Handle(handlerCtx, env.Event); err != nil && !es.IsSkipped(err) {
				return err
			}
			return nil
		})
		if err != nil {
			logger.Error("event handler failed", slog.String("consumer", c.name), slog.Any("error", err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			es.DeliveryErrors.Add(ctx, 1, attrs)
			return &DeliveryError{Consumer: c.name, EventType: ev.EventType, GlobalPosition: ev.GlobalPosition, Err: err}
		}
	}
	es.DeliveryDuration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)

	// a delivery interrupted by shutdown must be seen again after restart
	if err := ctx.Err(); err != nil {
		logger.Info("cancelled during delivery, checkpoint not stored")
		return fmt.Errorf("%w: %w", es.ErrSubscriptionCanceled, err)
	}

	if err := w.checkpoints.Store(ctx, w.id, ev.GlobalPosition); err != nil {
		logger.Error("failed to store checkpoint", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("store checkpoint at %d: %w", ev.GlobalPosition, err)
	}
	w.last.Store(ev.GlobalPosition)
	w.hasLast.Store(true)

	es.EventsDelivered.Add(ctx, 1, attrs)
	es.CheckpointPosition.Record(ctx, int64(ev.GlobalPosition), metric.WithAttributes(es.AttrSubscriptionID.String(w.id)))
	logger.Debug("event delivered")
	return nil
}

func dropReason(err error) string {
	var delivery *DeliveryError
	switch {
	case errors.As(err, &delivery):
		return "delivery"
	case errors.Is(err, es.ErrCheckpointRegressed):
		return "checkpoint_regressed"
	case errors.Is(err, es.ErrSubscriptionDropped):
		return "dropped"
	}
	return "error"
}
