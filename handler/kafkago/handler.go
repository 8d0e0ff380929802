package kafkago

import (
	"context"
	"fmt"
	"reflect"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/3rs4lg4d0/eventpipe/handler"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by the handler.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Handler forwards integration events to Kafka using segmentio/kafka-go.
// The topic is set per message, so the writer must be created without a
// Topic.
type Handler struct {
	writer     messageWriter
	serializer evp.Serializer
	logger     evp.Logger
}

var _ evp.Handler = (*Handler)(nil)
var _ evp.Loggable = (*Handler)(nil)

func New(w messageWriter, s evp.Serializer) *Handler {
	if w == nil || reflect.ValueOf(w).IsNil() {
		panic("writer is mandatory")
	}
	if s == nil {
		panic("serializer is mandatory")
	}
	return &Handler{
		writer:     w,
		serializer: s,
		logger:     &evp.NopLogger{},
	}
}

func (h *Handler) SetLogger(l evp.Logger) {
	h.logger = l
}

func (h *Handler) Handle(ctx context.Context, id uuid.UUID, e evp.Event) error {
	payload, err := h.serializer.Marshal(e)
	if err != nil {
		return err
	}

	topic := handler.TopicName(e.EventType())
	err = h.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(id.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: handler.HeaderId, Value: []byte(id.String())},
			{Key: handler.HeaderEventType, Value: []byte(e.EventType())},
		},
	})
	if err != nil {
		return fmt.Errorf("could not write message to topic %s: %w", topic, err)
	}
	h.logger.Debug(fmt.Sprintf("Delivered message %s to topic %s", id, topic))

	return nil
}

// NewWriter builds a kafka-go writer suitable for this handler.
func NewWriter(brokers []string, clientId string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Transport:              &kafka.Transport{ClientID: clientId},
	}
}
