package eventsourcing

import (
	"fmt"
	"strconv"
	"strings"
)

// CheckpointStreamPrefix prefixes the reserved per-subscription stream that
// holds checkpoint markers.
const CheckpointStreamPrefix = "checkpoint_"

// StreamFor returns the stream id of an aggregate instance in the form
// "{aggregateType}-{id}".
//
// The id is converted to its canonical string form. Strings, fmt.Stringer
// values such as uuid.UUID, and integers are accepted. An empty type, a nil
// id or an id whose string form is empty or whitespace fails with
// ErrInvalidStreamID.
//
// Example Usage:
//
//	stream, err := StreamFor("Order", orderID) // "Order-7f1c..."
func StreamFor(aggregateType string, id any) (string, error) {
	if strings.TrimSpace(aggregateType) == "" {
		return "", fmt.Errorf("%w: empty aggregate type", ErrInvalidStreamID)
	}

	s, err := canonicalID(id)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: empty id for %s", ErrInvalidStreamID, aggregateType)
	}
	return aggregateType + "-" + s, nil
}

func canonicalID(id any) (string, error) {
	switch v := id.(type) {
	case nil:
		return "", fmt.Errorf("%w: nil id", ErrInvalidStreamID)
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	}
	return "", fmt.Errorf("%w: unsupported id type %T", ErrInvalidStreamID, id)
}

// CheckpointStreamFor returns the stream holding checkpoint markers of the
// given subscription.
func CheckpointStreamFor(subscriptionID string) string {
	return CheckpointStreamPrefix + subscriptionID
}

// ValidateStreamID rejects empty or whitespace stream ids before any I/O.
func ValidateStreamID(streamID string) error {
	if strings.TrimSpace(streamID) == "" {
		return fmt.Errorf("%w: empty stream id", ErrInvalidStreamID)
	}
	return nil
}
