// Package kurrentdb adapts a KurrentDB cluster to the event store,
// subscription and checkpoint contracts.
//
// Global positions are the commit positions of the cluster shifted by one,
// so that zero keeps meaning "nothing processed".
package kurrentdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	es "github.com/terraskye/eventsourcing-engine"
)

var (
	_ es.EventStore          = (*Store)(nil)
	_ es.Truncator           = (*Store)(nil)
	_ es.AllStreamSubscriber = (*Store)(nil)
)

// Store is a KurrentDB backed event store.
type Store struct {
	client *kurrentdb.Client
	codec  es.Codec
	log    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCodec replaces the JSON codec bound to the default registry.
func WithCodec(c es.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// NewEventStore creates a KurrentDB-backed eventstore
func NewEventStore(client *kurrentdb.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		codec:  es.NewJSONCodec(nil),
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("store", "kurrentdb"))
	return s
}

// Dial connects to the cluster named by a kurrentdb:// connection string.
func Dial(connectionString string, opts ...Option) (*Store, error) {
	cfg, err := kurrentdb.ParseConnectionString(connectionString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	client, err := kurrentdb.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kurrentdb client: %w", err)
	}
	return NewEventStore(client, opts...), nil
}

func (s *Store) StreamExists(ctx context.Context, streamID string) (bool, error) {
	if err := es.ValidateStreamID(streamID); err != nil {
		return false, err
	}
	_, found, err := s.lastRevision(ctx, streamID)
	if err != nil {
		return false, es.WrapEventStoreError(fmt.Errorf("stream exists %q: %w", streamID, err))
	}
	return found, nil
}

// lastRevision returns the revision of the last event of the stream. A
// stream whose events were all truncated still counts as found.
func (s *Store) lastRevision(ctx context.Context, streamID string) (uint64, bool, error) {
	stream, err := s.client.ReadStream(ctx, streamID, kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Backwards,
		From:      kurrentdb.End{},
	}, 1)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	defer stream.Close()

	ev, err := stream.Recv()
	switch {
	case errors.Is(err, io.EOF):
		return 0, true, nil
	case isNotFound(err):
		return 0, false, nil
	case err != nil:
		return 0, false, err
	}
	return ev.OriginalEvent().EventNumber, true, nil
}

func (s *Store) ReadStream(ctx context.Context, streamID string, from uint64, maxCount uint64) (*es.Iterator[*es.Envelope], error) {
	if err := es.ValidateStreamID(streamID); err != nil {
		return nil, err
	}

	count := uint64(math.MaxInt64)
	if maxCount > 0 {
		count = maxCount
	}
	stream, err := s.client.ReadStream(ctx, streamID, kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Forwards,
		From:      kurrentdb.StreamRevision{Value: from},
	}, count)
	if err != nil {
		if isNotFound(err) {
			return es.NewSliceIterator[*es.Envelope](nil), nil
		}
		return nil, es.WrapEventStoreError(fmt.Errorf("read stream %q: %w", streamID, err))
	}

	iter := es.NewIteratorFunc(func(ctx context.Context) (*es.Envelope, error) {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || isNotFound(err) {
				return nil, io.EOF
			}
			return nil, es.WrapEventStoreError(fmt.Errorf("read stream %q: %w", streamID, err))
		}
		return s.codec.Decode(toLogged(ev.OriginalEvent()))
	})
	return iter.WithCloser(func() error {
		stream.Close()
		return nil
	}), nil
}

func (s *Store) AppendEvents(ctx context.Context, streamID string, expected es.ExpectedVersion, events ...es.Envelope) (es.AppendResult, error) {
	if err := es.ValidateBatch(streamID, events); err != nil {
		return es.AppendResult{}, err
	}
	state, err := streamState(expected)
	if err != nil {
		return es.AppendResult{}, err
	}

	data, err := s.eventData(streamID, events)
	if err != nil {
		return es.AppendResult{}, fmt.Errorf("append to stream %q: %w", streamID, err)
	}

	result, err := s.client.AppendToStream(ctx, streamID, kurrentdb.AppendToStreamOptions{
		StreamState: state,
	}, data...)
	if err != nil {
		if isWrongExpectedVersion(err) {
			return es.AppendResult{}, s.conflict(ctx, streamID, expected)
		}
		return es.AppendResult{}, es.WrapEventStoreError(fmt.Errorf("append to stream %q: %w", streamID, err))
	}

	return es.AppendResult{
		GlobalPosition:      result.CommitPosition + 1,
		NextExpectedVersion: result.NextExpectedVersion,
	}, nil
}

// eventData encodes the whole batch before anything is sent.
func (s *Store) eventData(streamID string, events []es.Envelope) ([]kurrentdb.EventData, error) {
	out := make([]kurrentdb.EventData, len(events))
	for i, env := range events {
		env.StreamID = streamID
		env.GlobalVersion = 0
		ev, err := s.codec.Encode(env)
		if err != nil {
			return nil, err
		}
		out[i] = kurrentdb.EventData{
			EventID:     ev.EventID,
			EventType:   ev.EventType,
			ContentType: contentType(ev.ContentType),
			Data:        ev.Data,
			Metadata:    ev.Metadata,
		}
	}
	return out, nil
}

// conflict builds the error of a rejected append, looking up the actual
// revision the cluster holds.
func (s *Store) conflict(ctx context.Context, streamID string, expected es.ExpectedVersion) error {
	actual := es.NoStream
	revision, found, err := s.lastRevision(ctx, streamID)
	if err != nil {
		s.log.Warn("could not read actual revision after conflict", slog.String("stream", streamID), slog.Any("error", err))
		actual = es.StreamExists
	} else if found {
		actual = es.Revision(revision)
	}
	return &es.StreamRevisionConflictError{Stream: streamID, ExpectedRevision: expected, ActualRevision: actual}
}

// TruncateStream sets $tb on the stream; the cluster hides older events and
// scavenges them later.
func (s *Store) TruncateStream(ctx context.Context, streamID string, before uint64) error {
	if err := es.ValidateStreamID(streamID); err != nil {
		return err
	}
	var md kurrentdb.StreamMetadata
	md.SetTruncateBefore(before)
	if _, err := s.client.SetStreamMetadata(ctx, streamID, kurrentdb.AppendToStreamOptions{StreamState: kurrentdb.Any{}}, md); err != nil {
		return es.WrapEventStoreError(fmt.Errorf("truncate stream %q: %w", streamID, err))
	}
	return nil
}

// Commit is a no-op: every append is acknowledged by the cluster.
func (s *Store) Commit(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func streamState(v es.ExpectedVersion) (kurrentdb.StreamState, error) {
	switch {
	case v == es.Any:
		return kurrentdb.Any{}, nil
	case v == es.NoStream:
		return kurrentdb.NoStream{}, nil
	case v == es.StreamExists:
		return kurrentdb.StreamExists{}, nil
	case v.IsExact():
		return kurrentdb.StreamRevision{Value: uint64(v)}, nil
	}
	return nil, fmt.Errorf("%w: unknown expected version %d", es.ErrInvalidEventBatch, int64(v))
}

func contentType(ct string) kurrentdb.ContentType {
	if ct == es.ContentTypeJSON {
		return kurrentdb.ContentTypeJson
	}
	return kurrentdb.ContentTypeBinary
}

func toLogged(ev *kurrentdb.RecordedEvent) es.LoggedEvent {
	return es.LoggedEvent{
		EventID:        ev.EventID,
		StreamID:       ev.StreamID,
		EventType:      ev.EventType,
		ContentType:    ev.ContentType,
		Data:           ev.Data,
		Metadata:       ev.UserMetadata,
		StreamPosition: ev.EventNumber,
		GlobalPosition: ev.Position.Commit + 1,
		CreatedAt:      ev.CreatedDate,
	}
}

func errorCode(err error) (kurrentdb.ErrorCode, bool) {
	var kerr *kurrentdb.Error
	if !errors.As(err, &kerr) {
		return 0, false
	}
	return kerr.Code(), true
}

func isNotFound(err error) bool {
	code, ok := errorCode(err)
	return ok && code == kurrentdb.ErrorCodeResourceNotFound
}

func isWrongExpectedVersion(err error) bool {
	code, ok := errorCode(err)
	return ok && code == kurrentdb.ErrorCodeWrongExpectedVersion
}
