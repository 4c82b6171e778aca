package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	es "github.com/terraskye/eventsourcing-engine"
	"github.com/terraskye/eventsourcing-engine/fixtures"
	"github.com/terraskye/eventsourcing-engine/logging"
)

func newEntry() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

func TestWithEventStoreLogging_Append(t *testing.T) {
	entry, hook := newEntry()
	store := logging.WithEventStoreLogging(entry, fixtures.NewStoreSpy())

	if _, err := store.AppendEvents(t.Context(), "Order-1", es.NoStream,
		fixtures.EnvelopesFor("Order-1", fixtures.OrderCreatedEvent)...); err != nil {
		t.Fatalf("append: %v", err)
	}

	last := hook.LastEntry()
	if last == nil || last.Message != "events appended" {
		t.Fatalf("expected an append entry, got %+v", last)
	}
	if last.Level != logrus.DebugLevel || last.Data["stream"] != "Order-1" || last.Data["events"] != 1 {
		t.Errorf("unexpected entry %v %v", last.Level, last.Data)
	}
}

func TestWithEventStoreLogging_AppendLevels(t *testing.T) {
	tests := []struct {
		name  string
		store *fixtures.StoreSpy
		level logrus.Level
	}{
		{"conflict", fixtures.ConcurrencyConflictStore("Order-1", es.NoStream, es.Revision(0)), logrus.WarnLevel},
		{"failure", fixtures.NewStoreSpy().FailOnAppend(errors.New("disk full")), logrus.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, hook := newEntry()
			store := logging.WithEventStoreLogging(entry, tt.store)

			_, err := store.AppendEvents(t.Context(), "Order-1", es.NoStream,
				fixtures.EnvelopesFor("Order-1", fixtures.OrderCreatedEvent)...)
			if err == nil {
				t.Fatal("expected an error")
			}
			last := hook.LastEntry()
			if last == nil || last.Level != tt.level {
				t.Fatalf("expected level %v, got %+v", tt.level, last)
			}
			if _, ok := last.Data[logrus.ErrorKey]; !ok {
				t.Error("expected the error to be attached")
			}
		})
	}
}

func TestWithEventStoreLogging_ReadFailure(t *testing.T) {
	entry, hook := newEntry()
	readErr := errors.New("gone")
	store := logging.WithEventStoreLogging(entry, fixtures.NewStoreSpy().FailOnRead(readErr))

	if _, err := store.ReadStream(t.Context(), "Order-1", 0, 0); !errors.Is(err, readErr) {
		t.Fatalf("expected read error, got %v", err)
	}
	if len(hook.AllEntries()) != 1 || hook.LastEntry().Level != logrus.ErrorLevel {
		t.Errorf("expected one error entry, got %d", len(hook.AllEntries()))
	}
}

func TestWithEventStoreLogging_SubscribeUnsupported(t *testing.T) {
	entry, _ := newEntry()
	store := logging.WithEventStoreLogging(entry, fixtures.NewStoreSpy())
	if _, err := store.SubscribeToAll(t.Context(), es.SubscribeOptions{}); !errors.Is(err, logging.ErrSubscribeUnsupported) {
		t.Fatalf("expected ErrSubscribeUnsupported, got %v", err)
	}
}

func TestWithCommandLogging(t *testing.T) {
	entry, hook := newEntry()
	failure := errors.New("rejected")
	handler := logging.WithCommandLogging[fixtures.CreateOrder](entry, func(ctx context.Context, cmd fixtures.CreateOrder) (es.AppendResult, error) {
		if cmd.Customer == "" {
			return es.AppendResult{}, failure
		}
		return es.AppendResult{NextExpectedVersion: 0}, nil
	})

	if _, err := handler(t.Context(), fixtures.CreateOrder{OrderID: "1", Customer: "alice"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if first := hook.AllEntries()[0]; first.Message != "dispatch" || first.Data["aggregateId"] != "1" {
		t.Errorf("unexpected first entry %+v", first)
	}

	hook.Reset()
	if _, err := handler(t.Context(), fixtures.CreateOrder{OrderID: "2"}); !errors.Is(err, failure) {
		t.Fatalf("expected failure, got %v", err)
	}
	if last := hook.LastEntry(); last.Level != logrus.ErrorLevel || last.Message != "dispatch failed" {
		t.Errorf("unexpected last entry %+v", last)
	}
}

func TestWithLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handleErr := errors.New("projection down")
	spy := fixtures.NewEventHandlerSpy().FailOnHandle(handleErr)

	env := fixtures.NewEnvelope(fixtures.OrderCreatedEvent, fixtures.WithGlobalVersion(9))
	err := logging.WithLoggingMiddleware(logger, spy).Handle(es.WithEnvelope(t.Context(), env), env.Event)
	if !errors.Is(err, handleErr) {
		t.Fatalf("expected handler error, got %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	var record struct {
		Level string `json:"level"`
		Msg   string `json:"msg"`
		Event struct {
			Type     string `json:"type"`
			Stream   string `json:"stream"`
			Position uint64 `json:"position"`
		} `json:"event"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record.Level != "ERROR" || record.Event.Type != "OrderCreated" || record.Event.Stream != "Order-1" || record.Event.Position != 9 {
		t.Errorf("unexpected record %+v", record)
	}
}
