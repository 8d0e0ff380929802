package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/google/uuid"
)

// Ledger keeps how many times each placed order was confirmed. The relay can
// deliver an event more than once, so confirmations are keyed by event id.
type Ledger struct {
	mu        sync.Mutex
	confirmed map[uuid.UUID]uuid.UUID // order id -> event id
	counter   evp.Counter
}

func NewLedger(c evp.Counter) *Ledger {
	if c == nil {
		c = &evp.NopCounter{}
	}
	return &Ledger{confirmed: map[uuid.UUID]uuid.UUID{}, counter: c}
}

// Confirmations returns how many distinct confirmations an order received.
func (l *Ledger) Confirmations(orderId uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.confirmed[orderId]; ok {
		return 1
	}
	return 0
}

func (l *Ledger) confirm(_ context.Context, id uuid.UUID, e evp.Event) error {
	placed, ok := e.(*OrderPlaced)
	if !ok {
		return fmt.Errorf("unexpected event %T", e)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.confirmed[placed.OrderId]; seen {
		return nil
	}
	l.confirmed[placed.OrderId] = id
	l.counter.Inc(1)
	return nil
}

// RegisterHandlers binds the order handlers to the registry. Each dispatch
// gets its own handler value; the ledger is the only shared state.
func RegisterHandlers(r *evp.Registry, ledger *Ledger, logger evp.Logger) error {
	if logger == nil {
		logger = &evp.NopLogger{}
	}
	err := r.RegisterFactory(OrderPlacedType, func() evp.Handler {
		return evp.HandlerFunc(ledger.confirm)
	})
	if err != nil {
		return err
	}
	return r.RegisterFactory(OrderReceivedType, func() evp.Handler {
		return evp.HandlerFunc(func(_ context.Context, id uuid.UUID, e evp.Event) error {
			received, ok := e.(*OrderReceived)
			if !ok {
				return fmt.Errorf("unexpected event %T", e)
			}
			logger.Info(fmt.Sprintf("order %s received from %s (event %s)", received.OrderId, received.Customer, id))
			return nil
		})
	})
}
