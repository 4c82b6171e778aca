package eventsourcing

// Command is an intent addressed to a single aggregate.
type Command interface {
	AggregateID() string
}
