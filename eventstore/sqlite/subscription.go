package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	es "github.com/terraskye/eventsourcing-engine"
)

var _ es.Subscription = (*subscription)(nil)

type subscription struct {
	store *Store
	opts  es.SubscribeOptions
	// next is the first global position not yet inspected.
	next uint64
	// buffered holds rows read ahead of Recv.
	buffered []es.LoggedEvent

	once sync.Once
	done chan struct{}
}

// SubscribeToAll opens a catch-up subscription over the events table. It
// reads in batches ordered by global position and waits for appends made
// through this Store, or for the poll interval, once it has caught up.
func (s *Store) SubscribeToAll(ctx context.Context, opts es.SubscribeOptions) (es.Subscription, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, es.WrapEventStoreError(ErrClosed)
	}

	next := opts.From
	if next == 0 {
		next = 1
	}
	return &subscription{
		store: s,
		opts:  opts,
		next:  next,
		done:  make(chan struct{}),
	}, nil
}

func (sub *subscription) Recv(ctx context.Context) (es.LoggedEvent, error) {
	for {
		select {
		case <-sub.done:
			return es.LoggedEvent{}, es.ErrSubscriptionCanceled
		case <-sub.store.done:
			return es.LoggedEvent{}, fmt.Errorf("%w: %w", es.ErrSubscriptionDropped, ErrClosed)
		default:
		}
		if err := ctx.Err(); err != nil {
			return es.LoggedEvent{}, fmt.Errorf("%w: %w", es.ErrSubscriptionCanceled, err)
		}

		for len(sub.buffered) > 0 {
			ev := sub.buffered[0]
			sub.buffered = sub.buffered[1:]
			if !sub.opts.Excludes(ev.EventType) {
				return ev, nil
			}
		}

		// taken before the query so an append racing with it still wakes us
		changed := sub.store.changedChan()
		n, err := sub.fill(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return es.LoggedEvent{}, fmt.Errorf("%w: %w", es.ErrSubscriptionCanceled, ctx.Err())
			}
			return es.LoggedEvent{}, fmt.Errorf("%w: %w", es.ErrSubscriptionDropped, err)
		}
		if n > 0 {
			continue
		}

		t := time.NewTimer(sub.store.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return es.LoggedEvent{}, fmt.Errorf("%w: %w", es.ErrSubscriptionCanceled, ctx.Err())
		case <-sub.done:
		case <-sub.store.done:
		case <-changed:
		case <-t.C:
		}
		t.Stop()
	}
}

// fill reads the next batch into the buffer and returns the number of rows.
func (sub *subscription) fill(ctx context.Context) (int, error) {
	rows, err := sub.store.db.QueryContext(ctx,
		selectEvents+` WHERE global_position >= ? ORDER BY global_position LIMIT ?`,
		int64(sub.next), sub.store.batchSize,
	)
	if err != nil {
		return 0, es.WrapEventStoreError(fmt.Errorf("poll events from %d: %w", sub.next, err))
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return n, err
		}
		sub.buffered = append(sub.buffered, ev)
		sub.next = ev.GlobalPosition + 1
		n++
	}
	if err := rows.Err(); err != nil {
		return n, es.WrapEventStoreError(fmt.Errorf("poll events from %d: %w", sub.next, err))
	}
	if n > 0 {
		sub.store.log.Debug("polled events", slog.Int("count", n), slog.Uint64("next", sub.next))
	}
	return n, nil
}

// Close ends the subscription; a pending Recv returns ErrSubscriptionCanceled.
func (sub *subscription) Close() error {
	sub.once.Do(func() { close(sub.done) })
	return nil
}
