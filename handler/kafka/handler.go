package kafka

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/3rs4lg4d0/eventpipe/handler"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
)

const defaultDeliveryTimeout = 10 * time.Second

// kafkaProducer is the subset of *kafka.Producer used by the handler.
type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// Handler forwards integration events to Kafka using the confluent client.
// Each event type goes to its own topic and Handle waits for the delivery
// report, so a nil error means the broker acknowledged the message.
type Handler struct {
	producer   kafkaProducer
	serializer evp.Serializer
	timeout    time.Duration
	logger     evp.Logger
}

var _ evp.Handler = (*Handler)(nil)
var _ evp.Loggable = (*Handler)(nil)

func New(p kafkaProducer, s evp.Serializer) *Handler {
	if p == nil || reflect.ValueOf(p).IsNil() {
		panic("producer is mandatory")
	}
	if s == nil {
		panic("serializer is mandatory")
	}
	return &Handler{
		producer:   p,
		serializer: s,
		timeout:    defaultDeliveryTimeout,
		logger:     &evp.NopLogger{},
	}
}

func (h *Handler) SetLogger(l evp.Logger) {
	h.logger = l
}

// SetDeliveryTimeout sets how long Handle waits for a delivery report.
func (h *Handler) SetDeliveryTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

func (h *Handler) Handle(ctx context.Context, id uuid.UUID, e evp.Event) error {
	payload, err := h.serializer.Marshal(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	// buffered so a late report never blocks the producer's event loop.
	dc := make(chan kafka.Event, 1)
	topic := handler.TopicName(e.EventType())
	err = h.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(id.String()),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: handler.HeaderId, Value: []byte(id.String())},
			{Key: handler.HeaderEventType, Value: []byte(e.EventType())},
		},
	}, dc)
	if err != nil {
		return fmt.Errorf("could not produce message to topic %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no delivery report for message %s: %w", id, ctx.Err())
		case ev := <-dc:
			m, ok := ev.(*kafka.Message)
			if !ok {
				h.logger.Debug(fmt.Sprintf("Ignored event: %s", ev))
				continue
			}
			if m.TopicPartition.Error != nil {
				return fmt.Errorf("could not deliver message to topic %s: %w", topic, m.TopicPartition.Error)
			}
			h.logger.Debug(fmt.Sprintf("Delivered message to topic %s [%d] at offset %v",
				topic, m.TopicPartition.Partition, m.TopicPartition.Offset))
			return nil
		}
	}
}
