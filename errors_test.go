package eventsourcing

import (
	"errors"
	"fmt"
	"testing"
)

type event struct{}

func (*event) EventType() string { return "myevent" }

func TestErrorStrings(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "StreamRevisionConflictError",
			err: StreamRevisionConflictError{
				Stream:           "stream-123",
				ExpectedRevision: Revision(5),
				ActualRevision:   Revision(7),
			},
			want: `concurrency conflict on stream "stream-123": (expected version 5, actual 7)`,
		},
		{
			name: "StreamRevisionConflictError with sentinels",
			err: &StreamRevisionConflictError{
				Stream:           "Order-1",
				ExpectedRevision: NoStream,
				ActualRevision:   Revision(0),
			},
			want: `concurrency conflict on stream "Order-1": (expected version NoStream, actual 0)`,
		},
		{
			name: "ErrSkippedEvent",
			err:  ErrSkippedEvent{Event: &event{}},
			want: "skipped event of type *eventsourcing.event",
		},
		{
			name: "EventDecodeError",
			err:  &EventDecodeError{EventID: "e1", EventType: "OrderCreated", Err: errors.New("bad json")},
			want: `decode event e1 ("OrderCreated"): bad json`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMatching(t *testing.T) {
	conflict := fmt.Errorf("store: %w", &StreamRevisionConflictError{Stream: "s", ExpectedRevision: Revision(1), ActualRevision: Revision(2)})
	if !IsConcurrencyConflict(conflict) {
		t.Fatal("expected wrapped conflict to match ErrConcurrencyConflict")
	}
	var target *StreamRevisionConflictError
	if !errors.As(conflict, &target) || target.ActualRevision != 2 {
		t.Fatalf("expected errors.As to extract the conflict, got %v", target)
	}

	decode := fmt.Errorf("deliver: %w", &EventDecodeError{Err: ErrUnregisteredEvent})
	if !errors.Is(decode, ErrDecodeFailure) {
		t.Fatal("expected decode error to match ErrDecodeFailure")
	}
	if !errors.Is(decode, ErrUnregisteredEvent) {
		t.Fatal("expected decode error to unwrap to its cause")
	}

	if IsConcurrencyConflict(errors.New("timeout")) {
		t.Fatal("plain error must not be a conflict")
	}
}

func TestWrapEventStoreError(t *testing.T) {
	if WrapEventStoreError(nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	cause := errors.New("connection refused")
	wrapped := WrapEventStoreError(cause)
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected wrapped error to unwrap to cause")
	}
	if again := WrapEventStoreError(wrapped); again != wrapped {
		t.Fatal("expected already wrapped error to be returned unchanged")
	}
}

func TestCheckExpectedVersion(t *testing.T) {
	tests := []struct {
		name     string
		expected ExpectedVersion
		actual   ExpectedVersion
		conflict bool
	}{
		{"any on empty", Any, NoStream, false},
		{"any on existing", Any, Revision(3), false},
		{"no stream on empty", NoStream, NoStream, false},
		{"no stream on existing", NoStream, Revision(0), true},
		{"exists on empty", StreamExists, NoStream, true},
		{"exists on existing", StreamExists, Revision(2), false},
		{"exact match", Revision(2), Revision(2), false},
		{"exact behind", Revision(1), Revision(2), true},
		{"exact on empty", Revision(0), NoStream, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckExpectedVersion("s", tt.expected, tt.actual)
			if got := IsConcurrencyConflict(err); got != tt.conflict {
				t.Fatalf("conflict = %v, want %v (err %v)", got, tt.conflict, err)
			}
		})
	}
}
