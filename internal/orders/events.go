package orders

import (
	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/google/uuid"
)

const (
	OrderPlacedType   = "OrderPlaced"
	OrderReceivedType = "OrderReceived"
)

// OrderPlaced is raised inside the order transaction and travels through the
// outbox.
type OrderPlaced struct {
	OrderId  uuid.UUID `json:"orderId"`
	Customer string    `json:"customer"`
	Total    int64     `json:"total"`
}

func (OrderPlaced) EventType() string { return OrderPlacedType }

// OrderReceived is published on the in-process bus right after the order is
// stored. Losing it is acceptable.
type OrderReceived struct {
	OrderId  uuid.UUID `json:"orderId"`
	Customer string    `json:"customer"`
}

func (OrderReceived) EventType() string { return OrderReceivedType }

// RegisterEvents teaches the serializer how to rebuild the order events.
func RegisterEvents(s *evp.JSONSerializer) error {
	if err := s.Register(OrderPlacedType, func() evp.Event { return &OrderPlaced{} }); err != nil {
		return err
	}
	return s.Register(OrderReceivedType, func() evp.Event { return &OrderReceived{} })
}
