package eventsourcing

import "strconv"

// ExpectedVersion is the optimistic concurrency guard of an append. Non
// negative values name the exact 0-based revision of the last event in the
// stream; negative values are sentinels.
type ExpectedVersion int64

const (
	// NoStream means the stream must not contain any event yet.
	NoStream ExpectedVersion = -1
	// Any means append without checking the current revision.
	Any ExpectedVersion = -2
	// StreamExists means the stream must contain at least one event.
	StreamExists ExpectedVersion = -4
)

// Revision returns the expected version for a stream whose last event sits
// at the given 0-based position.
func Revision(position uint64) ExpectedVersion {
	return ExpectedVersion(position)
}

// IsExact reports whether v names a concrete revision rather than a sentinel.
func (v ExpectedVersion) IsExact() bool {
	return v >= 0
}

func (v ExpectedVersion) String() string {
	switch v {
	case NoStream:
		return "NoStream"
	case Any:
		return "Any"
	case StreamExists:
		return "StreamExists"
	}
	return strconv.FormatInt(int64(v), 10)
}

// CheckExpectedVersion validates expected against the stream's actual
// version, where actual is NoStream for a stream without events. It is
// shared by the in-process backends.
func CheckExpectedVersion(stream string, expected, actual ExpectedVersion) error {
	switch expected {
	case Any:
		return nil
	case StreamExists:
		if actual == NoStream {
			return &StreamRevisionConflictError{Stream: stream, ExpectedRevision: expected, ActualRevision: actual}
		}
		return nil
	}
	if expected != actual {
		return &StreamRevisionConflictError{Stream: stream, ExpectedRevision: expected, ActualRevision: actual}
	}
	return nil
}
