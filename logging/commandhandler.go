package logging

import (
	"context"
	"reflect"

	"github.com/sirupsen/logrus"
	es "github.com/terraskye/eventsourcing-engine"
)

// WithCommandLogging wraps a CommandHandler with logging functionality.
// It logs the command type and aggregate ID before execution, and logs
// errors if the command fails. Concurrency conflicts are logged as
// warnings since callers usually retry them.
func WithCommandLogging[C es.Command](logger *logrus.Entry, next es.CommandHandler[C]) es.CommandHandler[C] {
	return func(ctx context.Context, command C) (es.AppendResult, error) {
		l := logger.WithFields(logrus.Fields{
			"command":     reflect.TypeOf(command).String(),
			"aggregateId": command.AggregateID(),
		})
		l.Info("dispatch")

		result, err := next(ctx, command)
		switch {
		case err == nil:
			l.WithField("version", result.NextExpectedVersion).Debug("dispatch succeeded")
		case es.IsConcurrencyConflict(err):
			l.WithError(err).Warn("dispatch conflicted")
		default:
			l.WithError(err).Error("dispatch failed")
		}

		return result, err
	}
}
