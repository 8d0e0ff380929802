package evp

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Serializer turns events into payload bytes and back. Unmarshal must know how
// to rebuild every event type that can reach the relay or the processor.
type Serializer interface {
	Marshal(e Event) ([]byte, error)
	Unmarshal(eventType string, payload []byte) (Event, error)
}

// EventFactory returns a new zero value (usually a pointer) of a concrete event.
type EventFactory func() Event

// JSONSerializer is a Serializer that encodes payloads as JSON and decodes them
// using factories registered per event type.
type JSONSerializer struct {
	mu        sync.RWMutex
	factories map[string]EventFactory
}

var _ Serializer = (*JSONSerializer)(nil)

func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{factories: map[string]EventFactory{}}
}

// Register binds an event type tag to the factory used when deserializing it.
func (s *JSONSerializer) Register(eventType string, f EventFactory) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return ErrEventTypeRequired
	}
	if f == nil {
		return fmt.Errorf("a factory is required for event type '%s'", eventType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[eventType] = f
	return nil
}

// Marshal encodes the event as JSON.
func (s *JSONSerializer) Marshal(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("could not serialize a nil event")
	}
	if strings.TrimSpace(e.EventType()) == "" {
		return nil, ErrEventTypeRequired
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("could not serialize event '%s': %w", e.EventType(), err)
	}
	return payload, nil
}

// Unmarshal rebuilds an event of the given type from its JSON payload.
func (s *JSONSerializer) Unmarshal(eventType string, payload []byte) (Event, error) {
	s.mu.RLock()
	f, ok := s.factories[eventType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	e := f()
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("could not deserialize event '%s': %w", eventType, err)
	}
	return e, nil
}
