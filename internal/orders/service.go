package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/google/uuid"
)

var ErrInvalidOrder = errors.New("invalid order")

type Order struct {
	Id        uuid.UUID
	Customer  string
	Total     int64
	CreatedAt time.Time
}

// Store persists orders using the transaction carried by ctx.
type Store interface {
	Insert(ctx context.Context, o Order) error
}

// Publisher hands integration events to the in-process bus.
type Publisher interface {
	Publish(ctx context.Context, e evp.Event) (uuid.UUID, error)
}

type Service struct {
	writer    *evp.Writer
	publisher Publisher
	store     Store
	logger    evp.Logger
	now       func() time.Time
}

var _ evp.Loggable = (*Service)(nil)

func NewService(w *evp.Writer, p Publisher, s Store) *Service {
	if w == nil || p == nil || s == nil {
		panic("you must provide a writer, a publisher and a store")
	}
	return &Service{
		writer:    w,
		publisher: p,
		store:     s,
		logger:    &evp.NopLogger{},
		now:       time.Now,
	}
}

func (s *Service) SetLogger(l evp.Logger) {
	s.logger = l
}

// Place stores the order and its OrderPlaced event in one unit of work. Once
// committed it publishes OrderReceived on the bus; a publish failure is only
// logged because the order itself is already safe.
func (s *Service) Place(ctx context.Context, customer string, total int64) (Order, error) {
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return Order{}, fmt.Errorf("%w: customer is required", ErrInvalidOrder)
	}
	if total <= 0 {
		return Order{}, fmt.Errorf("%w: total must be positive", ErrInvalidOrder)
	}

	o := Order{
		Id:        uuid.New(),
		Customer:  customer,
		Total:     total,
		CreatedAt: s.now().UTC(),
	}
	err := s.writer.InTx(ctx, func(uow *evp.UnitOfWork) error {
		if err := s.store.Insert(uow.Context(), o); err != nil {
			return fmt.Errorf("could not store order %s: %w", o.Id, err)
		}
		uow.Raise(OrderPlaced{OrderId: o.Id, Customer: o.Customer, Total: o.Total})
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if _, err := s.publisher.Publish(ctx, OrderReceived{OrderId: o.Id, Customer: o.Customer}); err != nil {
		s.logger.Error(fmt.Sprintf("could not publish OrderReceived for order %s", o.Id), err)
	}

	return o, nil
}
