package evp

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain or integration event. The returned type tag must be stable
// because it is stored with the payload and used to resolve handlers.
type Event interface {
	EventType() string
}

// Envelope is the serialized wrapper around an event. It is the unit that flows
// through both the outbox path and the in-process path.
type Envelope struct {
	Id         uuid.UUID // assigned at creation, immutable
	Type       string    // event type tag (e.g. "OrderPlaced")
	Payload    []byte    // serialized event body
	OccurredAt time.Time // when the event was raised
}

// OutboxRecord contains all the information stored in the underlying outbox
// table.
type OutboxRecord struct {
	Envelope
	ProcessedAt *time.Time // nil while pending
	Error       *string    // last failure reason, if any
	Attempts    int        // number of failed dispatches
}

// Pending reports whether the record still has to be relayed.
func (r *OutboxRecord) Pending() bool {
	return r.ProcessedAt == nil
}

// newEnvelope serializes e and wraps it into a fresh envelope.
func newEnvelope(e Event, s Serializer, now time.Time) (*Envelope, error) {
	payload, err := s.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Id:         uuid.New(),
		Type:       e.EventType(),
		Payload:    payload,
		OccurredAt: now.UTC(),
	}, nil
}
