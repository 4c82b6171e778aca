package eventsourcing

import (
	"context"
	"errors"
	"io"
)

// Iterator is a lazy, forward-only sequence. It is not safe for concurrent use.
type Iterator[T any] struct {
	nextFunc func(ctx context.Context) (T, error)
	closer   func() error
	current  T
	err      error
	done     bool
}

// NewIteratorFunc creates an Iterator from a function that produces the next
// item. The function returns io.EOF when the sequence is exhausted.
func NewIteratorFunc[T any](nextFunc func(ctx context.Context) (T, error)) *Iterator[T] {
	return &Iterator[T]{nextFunc: nextFunc}
}

// NewSliceIterator iterates over a fixed slice.
func NewSliceIterator[T any](items []T) *Iterator[T] {
	i := 0
	return NewIteratorFunc(func(ctx context.Context) (T, error) {
		var zero T
		if i >= len(items) {
			return zero, io.EOF
		}
		item := items[i]
		i++
		return item, nil
	})
}

// WithCloser attaches a release function called once when iteration ends.
func (it *Iterator[T]) WithCloser(fn func() error) *Iterator[T] {
	it.closer = fn
	return it
}

// Next advances the iterator. Returns false if the iterator is done or an error occurred.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.finish(err)
		return false
	}

	v, err := it.nextFunc(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		it.finish(err)
		return false
	}
	it.current = v
	return true
}

func (it *Iterator[T]) finish(err error) {
	var zero T
	it.done = true
	it.current = zero
	it.err = err
	if it.closer != nil {
		if cerr := it.closer(); cerr != nil && it.err == nil {
			it.err = cerr
		}
		it.closer = nil
	}
}

// Value returns the current item.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the last error encountered during iteration.
func (it *Iterator[T]) Err() error {
	return it.err
}

// Close stops the iteration early and releases its resources.
func (it *Iterator[T]) Close() error {
	if it.done {
		return nil
	}
	it.finish(nil)
	return it.err
}

// All consumes the iterator and returns all items in a slice.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var results []T
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}
