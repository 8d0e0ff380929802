package test

import (
	"context"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	kafkago "github.com/segmentio/kafka-go"
	tally "github.com/uber-go/tally/v4"
)

type MockedTallyCounter struct {
	Ctr    int64
	Output chan int64
}

var _ tally.Counter = (*MockedTallyCounter)(nil)

func (c *MockedTallyCounter) Inc(delta int64) {
	c.Ctr += delta
	c.Output <- c.Ctr
}

type MockedKafkaProducer struct {
	MockedReportToSend []kafka.Event
	Snitch             chan *kafka.Message
	RetVal             error
}

func (p *MockedKafkaProducer) Produce(msg *kafka.Message, internal chan kafka.Event) error {
	// send the message to the outside in order to assert it.
	if p.Snitch != nil {
		p.Snitch <- msg
	}

	// send the predefined delivery reports without blocking the caller.
	go func() {
		for _, r := range p.MockedReportToSend {
			internal <- r
		}
	}()

	return p.RetVal
}

type MockedKafkaEvent struct{}

func (*MockedKafkaEvent) String() string {
	return "mock"
}

// MockedKafkaWriter records the messages written through it.
type MockedKafkaWriter struct {
	mu       sync.Mutex
	Messages []kafkago.Message
	RetVal   error
}

func (w *MockedKafkaWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.RetVal != nil {
		return w.RetVal
	}
	w.Messages = append(w.Messages, msgs...)
	return nil
}

// Written returns a copy of the recorded messages.
func (w *MockedKafkaWriter) Written() []kafkago.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafkago.Message(nil), w.Messages...)
}
