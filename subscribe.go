package eventsourcing

import (
	"context"
	"strings"
)

// SubscribeOptions describe where a subscription to the global log starts
// and which events it leaves out.
type SubscribeOptions struct {
	// From is the first global position to deliver, inclusive. Zero means
	// the start of the log.
	From uint64

	// ExcludeEventTypes lists event types the source drops before delivery.
	ExcludeEventTypes []string

	// ExcludeSystemEvents drops store internal events, whose type starts
	// with "$".
	ExcludeSystemEvents bool
}

// Excludes reports whether an event of the given type is filtered out.
func (o SubscribeOptions) Excludes(eventType string) bool {
	if o.ExcludeSystemEvents && strings.HasPrefix(eventType, "$") {
		return true
	}
	for _, t := range o.ExcludeEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// AllStreamSubscriber opens live catch-up reads of the global log.
type AllStreamSubscriber interface {
	SubscribeToAll(ctx context.Context, opts SubscribeOptions) (Subscription, error)
}

// Subscription is one open catch-up read. Events are returned in global
// order: historical events first, then live ones as they are appended.
//
// Recv blocks until an event arrives. It returns an error matching
// ErrSubscriptionCanceled when ctx is cancelled or the subscription is
// closed, and an error matching ErrSubscriptionDropped for any other
// termination.
type Subscription interface {
	Recv(ctx context.Context) (LoggedEvent, error)
	Close() error
}
