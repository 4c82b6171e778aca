package eventsourcing

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Decoder turns a serialized payload back into its concrete Event type.
type Decoder func(data []byte) (Event, error)

// FallbackDecoder decodes payloads whose name has no registered decoder.
type FallbackDecoder func(name string, data []byte) (Event, error)

// Registry maps event type names to decoders. It is populated at startup,
// before any store or subscription reads from the log.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
	fallback FallbackDecoder
}

// DefaultRegistry is used by NewJSONCodec(nil) and RegisterEvent.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a registry that already knows the checkpoint marker.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[string]Decoder)}
	Register[CheckpointStored](r)
	return r
}

// RegisterDecoder registers a decoder under a custom name.
//
// Panics:
//   - If name is empty or dec is nil.
//   - If the name is already registered.
func (r *Registry) RegisterDecoder(name string, dec Decoder) {
	if name == "" {
		panic("cannot register event with empty name")
	}
	if dec == nil {
		panic(fmt.Sprintf("cannot register nil decoder for event: %s", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decoders[name]; exists {
		panic(fmt.Sprintf("event already registered: %s", name))
	}
	r.decoders[name] = dec
}

// SetFallback installs fn for names without a decoder. Without a fallback
// such names fail with ErrUnregisteredEvent.
func (r *Registry) SetFallback(fn FallbackDecoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fn
}

// Decode resolves name and decodes data with the registered decoder.
func (r *Registry) Decode(name string, data []byte) (Event, error) {
	r.mu.RLock()
	dec, ok := r.decoders[name]
	fallback := r.fallback
	r.mu.RUnlock()

	switch {
	case ok:
		return dec(data)
	case fallback != nil:
		return fallback(name, data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnregisteredEvent, name)
}

// Registered reports whether name has a decoder.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[name]
	return ok
}

// Names returns the registered event names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Register registers T under the name returned by its zero value's
// EventType. T may be a struct or a pointer to a struct; decoding produces
// the same shape.
//
// Example Usage:
//
//	Register[OrderCreated](registry)
func Register[T Event](r *Registry) {
	RegisterAs[T](r, EventTypeOf[T]())
}

// RegisterAs registers T under a name independent of its EventType.
func RegisterAs[T Event](r *Registry, name string) {
	r.RegisterDecoder(name, func(data []byte) (Event, error) {
		var ev T
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	})
}

// RegisterEvent registers T on the DefaultRegistry.
func RegisterEvent[T Event]() {
	Register[T](DefaultRegistry)
}
