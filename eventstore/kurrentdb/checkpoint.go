package kurrentdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	es "github.com/terraskye/eventsourcing-engine"
)

var _ es.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore keeps checkpoints in "checkpoint_{id}" streams capped at
// one event with $maxCount, so a load is a single backward read.
type CheckpointStore struct {
	store *Store

	mu     sync.Mutex
	cache  map[string]uint64
	capped map[string]bool
}

// NewCheckpointStore returns a checkpoint store sharing the client and
// codec of store.
func NewCheckpointStore(store *Store) *CheckpointStore {
	return &CheckpointStore{
		store:  store,
		cache:  make(map[string]uint64),
		capped: make(map[string]bool),
	}
}

func (c *CheckpointStore) Load(ctx context.Context, subscriptionID string) (uint64, bool, error) {
	stream := es.CheckpointStreamFor(subscriptionID)

	read, err := c.store.client.ReadStream(ctx, stream, kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Backwards,
		From:      kurrentdb.End{},
	}, 1)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, es.WrapEventStoreError(fmt.Errorf("load checkpoint %q: %w", subscriptionID, err))
	}
	defer read.Close()

	ev, err := read.Recv()
	switch {
	case errors.Is(err, io.EOF), isNotFound(err):
		return 0, false, nil
	case err != nil:
		return 0, false, es.WrapEventStoreError(fmt.Errorf("load checkpoint %q: %w", subscriptionID, err))
	}

	env, err := c.store.codec.Decode(toLogged(ev.OriginalEvent()))
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint %q: %w", subscriptionID, err)
	}
	position, ok := markerPosition(env.Event)
	if !ok {
		return 0, false, fmt.Errorf("load checkpoint %q: unexpected %s in checkpoint stream", subscriptionID, env.Event.EventType())
	}

	c.mu.Lock()
	c.cache[subscriptionID] = position
	c.capped[subscriptionID] = true
	c.mu.Unlock()
	return position, true, nil
}

func (c *CheckpointStore) Store(ctx context.Context, subscriptionID string, position uint64) error {
	c.mu.Lock()
	current, known := c.cache[subscriptionID]
	c.mu.Unlock()

	if !known {
		pos, found, err := c.Load(ctx, subscriptionID)
		if err != nil {
			return err
		}
		current, known = pos, found
	}
	if known {
		if position < current {
			return fmt.Errorf("%w: %s at %d, got %d", es.ErrCheckpointRegressed, subscriptionID, current, position)
		}
		if position == current {
			return nil
		}
	}

	stream := es.CheckpointStreamFor(subscriptionID)
	now := time.Now()
	marker := es.Envelope{
		EventID:    uuid.New(),
		StreamID:   stream,
		Metadata:   map[string]any{},
		Event:      es.CheckpointStored{SubscriptionID: subscriptionID, Position: position, StoredAt: now.UTC()},
		OccurredAt: now,
	}
	if _, err := c.store.AppendEvents(ctx, stream, es.Any, marker); err != nil {
		return fmt.Errorf("store checkpoint %q at %d: %w", subscriptionID, position, err)
	}

	c.mu.Lock()
	c.cache[subscriptionID] = position
	capped := c.capped[subscriptionID]
	c.mu.Unlock()

	if !capped {
		var md kurrentdb.StreamMetadata
		md.SetMaxCount(1)
		if _, err := c.store.client.SetStreamMetadata(ctx, stream, kurrentdb.AppendToStreamOptions{StreamState: kurrentdb.Any{}}, md); err != nil {
			return es.WrapEventStoreError(fmt.Errorf("cap checkpoint stream %q: %w", stream, err))
		}
		c.mu.Lock()
		c.capped[subscriptionID] = true
		c.mu.Unlock()
	}
	return nil
}

func markerPosition(ev es.Event) (uint64, bool) {
	switch e := ev.(type) {
	case es.CheckpointStored:
		return e.Position, true
	case *es.CheckpointStored:
		return e.Position, true
	}
	return 0, false
}
