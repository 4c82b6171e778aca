package eventsourcing

import (
	"context"
	"time"
)

// CheckpointEventType identifies checkpoint markers in the global log.
// Subscriptions filter it out.
const CheckpointEventType = "CheckpointStored"

// CheckpointStored is the marker appended to "checkpoint_{id}" each time a
// subscription advances.
type CheckpointStored struct {
	SubscriptionID string    `json:"subscriptionId"`
	Position       uint64    `json:"position"`
	StoredAt       time.Time `json:"storedAt"`
}

func (CheckpointStored) EventType() string { return CheckpointEventType }

// CheckpointStore maps a subscription id to the last global position it has
// fully processed.
//
// Implementations must be safe for concurrent use across different
// subscription ids. Calls for a single id are sequential.
type CheckpointStore interface {
	// Load returns the stored position, or found == false when the
	// subscription has never stored one.
	Load(ctx context.Context, subscriptionID string) (position uint64, found bool, err error)

	// Store records position. A position lower than the stored one fails
	// with ErrCheckpointRegressed. Storing the same position again is a no-op.
	Store(ctx context.Context, subscriptionID string, position uint64) error
}
