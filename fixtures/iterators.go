package fixtures

import (
	"context"

	es "github.com/terraskye/eventsourcing-engine"
)

// FailAfterNIterator yields the first n envelopes and then fails with err,
// the way a read that loses its connection mid-stream does.
func FailAfterNIterator(envelopes []*es.Envelope, n int, err error) *es.Iterator[*es.Envelope] {
	if n > len(envelopes) {
		n = len(envelopes)
	}
	remaining := envelopes[:n]
	return es.NewIteratorFunc(func(ctx context.Context) (*es.Envelope, error) {
		if len(remaining) == 0 {
			return nil, err
		}
		env := remaining[0]
		remaining = remaining[1:]
		return env, nil
	})
}
