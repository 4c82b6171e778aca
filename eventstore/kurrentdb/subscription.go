package kurrentdb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	es "github.com/terraskye/eventsourcing-engine"
)

var _ es.Subscription = (*subscription)(nil)

type received struct {
	event es.LoggedEvent
	err   error
}

type subscription struct {
	opts   es.SubscribeOptions
	stream *kurrentdb.Subscription
	cancel context.CancelFunc

	events chan received
	once   sync.Once
	done   chan struct{}
}

// SubscribeToAll opens a catch-up subscription to $all. Exclusions are
// pushed to the cluster as an event type filter and checked again on
// receipt.
func (s *Store) SubscribeToAll(ctx context.Context, opts es.SubscribeOptions) (es.Subscription, error) {
	options := kurrentdb.SubscribeToAllOptions{
		From:   startPosition(opts.From),
		Filter: eventTypeFilter(opts),
	}

	subCtx, cancel := context.WithCancel(ctx)
	stream, err := s.client.SubscribeToAll(subCtx, options)
	if err != nil {
		cancel()
		return nil, es.WrapEventStoreError(fmt.Errorf("subscribe to $all from %d: %w", opts.From, err))
	}

	sub := &subscription{
		opts:   opts,
		stream: stream,
		cancel: cancel,
		events: make(chan received),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

// pump moves events from the gRPC stream to Recv until the stream ends.
func (sub *subscription) pump() {
	for {
		msg := sub.stream.Recv()
		var r received
		switch {
		case msg.SubscriptionDropped != nil:
			r.err = msg.SubscriptionDropped.Error
			if r.err == nil {
				r.err = errors.New("dropped by server")
			}
		case msg.EventAppeared != nil:
			r.event = toLogged(msg.EventAppeared.OriginalEvent())
		default:
			// checkpoints, caught-up and fell-behind notices
			continue
		}

		select {
		case sub.events <- r:
		case <-sub.done:
			return
		}
		if r.err != nil {
			return
		}
	}
}

func (sub *subscription) Recv(ctx context.Context) (es.LoggedEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return es.LoggedEvent{}, fmt.Errorf("%w: %w", es.ErrSubscriptionCanceled, ctx.Err())
		case <-sub.done:
			return es.LoggedEvent{}, es.ErrSubscriptionCanceled
		case r := <-sub.events:
			if r.err != nil {
				if errors.Is(r.err, context.Canceled) {
					return es.LoggedEvent{}, fmt.Errorf("%w: %w", es.ErrSubscriptionCanceled, r.err)
				}
				return es.LoggedEvent{}, fmt.Errorf("%w: %w", es.ErrSubscriptionDropped, r.err)
			}
			if sub.opts.Excludes(r.event.EventType) {
				continue
			}
			return r.event, nil
		}
	}
}

// Close ends the subscription; a pending Recv returns ErrSubscriptionCanceled.
func (sub *subscription) Close() error {
	var err error
	sub.once.Do(func() {
		close(sub.done)
		err = sub.stream.Close()
		sub.cancel()
	})
	return err
}

// startPosition converts an inclusive global position into the exclusive
// commit position the cluster resumes after. Global position g sits at
// commit g-1, so delivery from g starts after commit g-2.
func startPosition(from uint64) kurrentdb.AllPosition {
	if from <= 1 {
		return kurrentdb.Start{}
	}
	return kurrentdb.Position{Commit: from - 2, Prepare: from - 2}
}

// eventTypeFilter builds a server side regex that rejects the excluded
// types. The cluster evaluates it with .NET semantics, which support
// lookahead.
func eventTypeFilter(opts es.SubscribeOptions) *kurrentdb.SubscriptionFilter {
	var b strings.Builder
	b.WriteString("^")
	if opts.ExcludeSystemEvents {
		b.WriteString(`(?!\$)`)
	}
	if len(opts.ExcludeEventTypes) > 0 {
		quoted := make([]string, len(opts.ExcludeEventTypes))
		for i, t := range opts.ExcludeEventTypes {
			quoted[i] = regexp.QuoteMeta(t)
		}
		b.WriteString("(?!(?:" + strings.Join(quoted, "|") + ")$)")
	}
	if b.Len() == 1 {
		return nil
	}
	return &kurrentdb.SubscriptionFilter{
		Type:  kurrentdb.EventFilterType,
		Regex: b.String(),
	}
}
