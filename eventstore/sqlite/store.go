// Package sqlite stores the event log in a SQLite database.
//
// Events live in a single table whose autoincrement key is the global
// position. Stream positions are tracked per stream so truncated streams
// keep counting. Writers use immediate transactions, which makes the
// commit order equal to the global order.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	es "github.com/terraskye/eventsourcing-engine"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("sqlite store closed")

var (
	_ es.EventStore          = (*Store)(nil)
	_ es.Truncator           = (*Store)(nil)
	_ es.AllStreamSubscriber = (*Store)(nil)
)

// Store is an EventStore over a SQLite file.
type Store struct {
	db           *sql.DB
	codec        es.Codec
	pollInterval time.Duration
	batchSize    int
	log          *slog.Logger

	mu      sync.Mutex
	changed chan struct{}
	done    chan struct{}
	closed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithCodec replaces the JSON codec bound to the default registry.
func WithCodec(c es.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithPollInterval sets how often subscriptions look for events written by
// other processes. Appends made through this Store wake them immediately.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		s.pollInterval = d
	}
}

// WithBatchSize bounds the number of rows a subscription reads per query.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		s.batchSize = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:           db,
		codec:        es.NewJSONCodec(nil),
		pollInterval: 500 * time.Millisecond,
		batchSize:    256,
		log:          slog.Default(),
		changed:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("store", "sqlite"))
	return s, nil
}

func (s *Store) StreamExists(ctx context.Context, streamID string) (bool, error) {
	if err := es.ValidateStreamID(streamID); err != nil {
		return false, err
	}
	if s.isClosed() {
		return false, es.WrapEventStoreError(ErrClosed)
	}
	var next int64
	err := s.db.QueryRowContext(ctx, `SELECT next_position FROM streams WHERE stream_id = ?`, streamID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, es.WrapEventStoreError(fmt.Errorf("stream exists %q: %w", streamID, err))
	}
	return next > 0, nil
}

const selectEvents = `SELECT global_position, event_id, stream_id, stream_position, event_type, content_type, data, metadata, created_at FROM events`

func (s *Store) ReadStream(ctx context.Context, streamID string, from uint64, maxCount uint64) (*es.Iterator[*es.Envelope], error) {
	if err := es.ValidateStreamID(streamID); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, es.WrapEventStoreError(ErrClosed)
	}

	limit := int64(-1)
	if maxCount > 0 {
		limit = int64(maxCount)
	}
	rows, err := s.db.QueryContext(ctx,
		selectEvents+` WHERE stream_id = ? AND stream_position >= ? ORDER BY stream_position LIMIT ?`,
		streamID, int64(from), limit,
	)
	if err != nil {
		return nil, es.WrapEventStoreError(fmt.Errorf("read stream %q: %w", streamID, err))
	}

	iter := es.NewIteratorFunc(func(ctx context.Context) (*es.Envelope, error) {
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return nil, es.WrapEventStoreError(fmt.Errorf("read stream %q: %w", streamID, err))
			}
			return nil, io.EOF
		}
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		return s.codec.Decode(ev)
	})
	return iter.WithCloser(rows.Close), nil
}

func (s *Store) AppendEvents(ctx context.Context, streamID string, expected es.ExpectedVersion, events ...es.Envelope) (es.AppendResult, error) {
	if err := es.ValidateBatch(streamID, events); err != nil {
		return es.AppendResult{}, err
	}
	if s.isClosed() {
		return es.AppendResult{}, es.WrapEventStoreError(ErrClosed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return es.AppendResult{}, es.WrapEventStoreError(fmt.Errorf("begin append to %q: %w", streamID, err))
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	exists := true
	err = tx.QueryRowContext(ctx, `SELECT next_position FROM streams WHERE stream_id = ?`, streamID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return es.AppendResult{}, es.WrapEventStoreError(fmt.Errorf("load stream %q: %w", streamID, err))
	}

	actual := es.NoStream
	if next > 0 {
		actual = es.Revision(uint64(next - 1))
	}
	if err := es.CheckExpectedVersion(streamID, expected, actual); err != nil {
		return es.AppendResult{}, err
	}

	if !exists {
		if _, err := tx.ExecContext(ctx, `INSERT INTO streams (stream_id, next_position) VALUES (?, 0)`, streamID); err != nil {
			if isConstraintError(err) {
				return es.AppendResult{}, &es.StreamRevisionConflictError{Stream: streamID, ExpectedRevision: expected, ActualRevision: es.StreamExists}
			}
			return es.AppendResult{}, es.WrapEventStoreError(fmt.Errorf("create stream %q: %w", streamID, err))
		}
	}

	var lastGlobal int64
	for i, env := range events {
		env.StreamID = streamID
		env.Version = uint64(next) + uint64(i)
		env.GlobalVersion = 0
		ev, err := s.codec.Encode(env)
		if err != nil {
			return es.AppendResult{}, fmt.Errorf("append to stream %q: %w", streamID, err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO events (event_id, stream_id, stream_position, event_type, content_type, data, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.EventID.String(), streamID, int64(ev.StreamPosition), ev.EventType, ev.ContentType,
			nonNil(ev.Data), nonNil(ev.Metadata), ev.CreatedAt.UTC().UnixMilli(),
		)
		if err != nil {
			if isConstraintError(err) && strings.Contains(err.Error(), "event_id") {
				return es.AppendResult{}, fmt.Errorf("%w: event %s already stored", es.ErrInvalidEventBatch, ev.EventID)
			}
			if isConstraintError(err) {
				return es.AppendResult{}, &es.StreamRevisionConflictError{Stream: streamID, ExpectedRevision: expected, ActualRevision: actual}
			}
			return es.AppendResult{}, es.WrapEventStoreError(fmt.Errorf("insert event into %q: %w", streamID, err))
		}
		if lastGlobal, err = res.LastInsertId(); err != nil {
			return es.AppendResult{}, es.WrapEventStoreError(err)
		}
	}

	newNext := next + int64(len(events))
	if _, err := tx.ExecContext(ctx, `UPDATE streams SET next_position = ? WHERE stream_id = ?`, newNext, streamID); err != nil {
		return es.AppendResult{}, es.WrapEventStoreError(fmt.Errorf("advance stream %q: %w", streamID, err))
	}
	if err := tx.Commit(); err != nil {
		if isBusyError(err) {
			return es.AppendResult{}, es.WrapEventStoreError(fmt.Errorf("commit append to %q: database busy: %w", streamID, err))
		}
		return es.AppendResult{}, es.WrapEventStoreError(fmt.Errorf("commit append to %q: %w", streamID, err))
	}
	s.notify()

	return es.AppendResult{
		GlobalPosition:      uint64(lastGlobal),
		NextExpectedVersion: uint64(newNext - 1),
	}, nil
}

// TruncateStream deletes the events before position before. The stream
// row and its position counter are kept.
func (s *Store) TruncateStream(ctx context.Context, streamID string, before uint64) error {
	if err := es.ValidateStreamID(streamID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE stream_id = ? AND stream_position < ?`, streamID, int64(before)); err != nil {
		return es.WrapEventStoreError(fmt.Errorf("truncate stream %q: %w", streamID, err))
	}
	return nil
}

// Commit is a no-op: every append runs in its own transaction.
func (s *Store) Commit(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	return s.db.Close()
}

// notify wakes subscriptions waiting for new events.
func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) changedChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (es.LoggedEvent, error) {
	var (
		global, position, created int64
		id                        string
		ev                        es.LoggedEvent
	)
	if err := row.Scan(&global, &id, &ev.StreamID, &position, &ev.EventType, &ev.ContentType, &ev.Data, &ev.Metadata, &created); err != nil {
		return es.LoggedEvent{}, es.WrapEventStoreError(fmt.Errorf("scan event: %w", err))
	}
	eventID, err := uuid.Parse(id)
	if err != nil {
		return es.LoggedEvent{}, &es.EventDecodeError{EventID: id, EventType: ev.EventType, Err: err}
	}
	ev.EventID = eventID
	ev.GlobalPosition = uint64(global)
	ev.StreamPosition = uint64(position)
	ev.CreatedAt = time.UnixMilli(created).UTC()
	return ev, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
