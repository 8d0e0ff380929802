package evp

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Bus is the publish facade for in-process integration events. Delivery is
// best effort: nothing is persisted.
type Bus struct {
	queue      *Queue
	serializer Serializer
	now        func() time.Time
}

func NewBus(q *Queue, s Serializer) *Bus {
	if q == nil || s == nil {
		panic("you must provide a queue and a serializer")
	}
	return &Bus{queue: q, serializer: s, now: time.Now}
}

// Publish wraps the event into an envelope and hands it to the queue. It
// returns as soon as the queue accepts it, not once it is delivered.
func (b *Bus) Publish(ctx context.Context, e Event) (uuid.UUID, error) {
	env, err := newEnvelope(e, b.serializer, b.now())
	if err != nil {
		return uuid.Nil, err
	}
	if err := b.queue.Enqueue(ctx, env); err != nil {
		return uuid.Nil, err
	}
	return env.Id, nil
}
