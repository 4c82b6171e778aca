package subscription

// State is the lifecycle stage of a Worker.
type State int32

const (
	// StateStarting loads the checkpoint and opens the subscription.
	StateStarting State = iota
	// StateSubscribed waits for the next event.
	StateSubscribed
	// StateDelivering hands one event to the consumers.
	StateDelivering
	// StateDropped means the live read ended and the worker decides what
	// to do next.
	StateDropped
	// StateResubscribing retries Starting with jittered backoff.
	StateResubscribing
	// StateTerminated is final.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateSubscribed:
		return "subscribed"
	case StateDelivering:
		return "delivering"
	case StateDropped:
		return "dropped"
	case StateResubscribing:
		return "resubscribing"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}
