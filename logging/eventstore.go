package logging

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	es "github.com/terraskye/eventsourcing-engine"
)

var (
	_ es.EventStore          = (*LoggingStore)(nil)
	_ es.Truncator           = (*LoggingStore)(nil)
	_ es.AllStreamSubscriber = (*LoggingStore)(nil)
)

// ErrSubscribeUnsupported is returned by SubscribeToAll when the wrapped
// store cannot subscribe.
var ErrSubscribeUnsupported = errors.New("wrapped store does not support subscriptions")

// LoggingStore logs appends, truncations and failures of the wrapped store.
// Reads are only logged when they fail to start.
type LoggingStore struct {
	logger *logrus.Entry
	next   es.EventStore
}

// WithEventStoreLogging wraps next.
func WithEventStoreLogging(logger *logrus.Entry, next es.EventStore) *LoggingStore {
	return &LoggingStore{logger: logger, next: next}
}

func (s *LoggingStore) StreamExists(ctx context.Context, streamID string) (bool, error) {
	exists, err := s.next.StreamExists(ctx, streamID)
	if err != nil {
		s.logger.WithField("stream", streamID).WithError(err).Error("stream exists failed")
	}
	return exists, err
}

func (s *LoggingStore) ReadStream(ctx context.Context, streamID string, from uint64, maxCount uint64) (*es.Iterator[*es.Envelope], error) {
	iter, err := s.next.ReadStream(ctx, streamID, from, maxCount)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"stream": streamID, "from": from}).WithError(err).Error("read stream failed")
	}
	return iter, err
}

func (s *LoggingStore) AppendEvents(ctx context.Context, streamID string, expected es.ExpectedVersion, events ...es.Envelope) (es.AppendResult, error) {
	l := s.logger.WithFields(logrus.Fields{
		"stream":   streamID,
		"expected": expected.String(),
		"events":   len(events),
	})

	result, err := s.next.AppendEvents(ctx, streamID, expected, events...)
	switch {
	case err == nil:
		l.WithFields(logrus.Fields{
			"version":  result.NextExpectedVersion,
			"position": result.GlobalPosition,
		}).Debug("events appended")
	case es.IsConcurrencyConflict(err):
		l.WithError(err).Warn("append conflicted")
	default:
		l.WithError(err).Error("append failed")
	}
	return result, err
}

// TruncateStream forwards to the wrapped store and does nothing when it
// cannot truncate.
func (s *LoggingStore) TruncateStream(ctx context.Context, streamID string, before uint64) error {
	truncator, ok := s.next.(es.Truncator)
	if !ok {
		return nil
	}
	l := s.logger.WithFields(logrus.Fields{"stream": streamID, "before": before})
	if err := truncator.TruncateStream(ctx, streamID, before); err != nil {
		l.WithError(err).Error("truncate failed")
		return err
	}
	l.Debug("stream truncated")
	return nil
}

func (s *LoggingStore) SubscribeToAll(ctx context.Context, opts es.SubscribeOptions) (es.Subscription, error) {
	source, ok := s.next.(es.AllStreamSubscriber)
	if !ok {
		return nil, ErrSubscribeUnsupported
	}
	sub, err := source.SubscribeToAll(ctx, opts)
	if err != nil {
		s.logger.WithField("from", opts.From).WithError(err).Error("subscribe failed")
		return nil, err
	}
	s.logger.WithField("from", opts.From).Info("subscribed to all")
	return sub, nil
}

func (s *LoggingStore) Commit(ctx context.Context) error {
	err := s.next.Commit(ctx)
	if err != nil {
		s.logger.WithError(err).Error("commit failed")
	}
	return err
}

func (s *LoggingStore) Close() error {
	err := s.next.Close()
	if err != nil {
		s.logger.WithError(err).Error("close failed")
	}
	return err
}
