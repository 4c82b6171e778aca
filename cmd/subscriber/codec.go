package main

import (
	"encoding/json"
	"fmt"

	es "github.com/terraskye/eventsourcing-engine"
)

// rawEvent carries the payload of an event type this command has no Go
// type for.
type rawEvent struct {
	name    string
	Payload json.RawMessage
}

func (e rawEvent) EventType() string { return e.name }

// newCodec decodes every JSON payload in the log. Registered types decode
// as usual; anything else becomes a rawEvent.
func newCodec() *es.JSONCodec {
	r := es.NewRegistry()
	r.SetFallback(func(name string, data []byte) (es.Event, error) {
		if !json.Valid(data) {
			return nil, fmt.Errorf("payload of %s is not valid JSON", name)
		}
		return rawEvent{name: name, Payload: append(json.RawMessage(nil), data...)}, nil
	})
	return es.NewJSONCodec(r)
}
