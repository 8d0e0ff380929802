package evp

import (
	"context"
	"errors"
	"fmt"
)

// dispatcher deserializes an envelope and invokes every handler registered
// for its type. It is shared by the relay and the processor.
type dispatcher struct {
	serializer Serializer
	resolver   HandlerResolver
}

// dispatch invokes all the handlers, even when some of them fail, and returns
// the joined failures.
func (d *dispatcher) dispatch(ctx context.Context, env *Envelope) error {
	e, err := d.serializer.Unmarshal(env.Type, env.Payload)
	if err != nil {
		return err
	}

	var errs []error
	for i, h := range d.resolver.Resolve(env.Type) {
		if err := invoke(ctx, h, env, e); err != nil {
			errs = append(errs, fmt.Errorf("handler #%d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// invoke runs one handler turning a panic into an error.
func invoke(ctx context.Context, h Handler, env *Envelope, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.Handle(ctx, env.Id, e)
}
