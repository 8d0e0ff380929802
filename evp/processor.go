package evp

import (
	"context"
	"fmt"
)

// Processor is the single consumer of the in-process queue. It delivers every
// envelope to its handlers and never retries.
type Processor struct {
	queue      *Queue
	dispatcher dispatcher
	logger     Logger
	successCtr Counter
	errorCtr   Counter
}

func NewProcessor(q *Queue, s Serializer, hr HandlerResolver) *Processor {
	if q == nil || s == nil || hr == nil {
		panic("you must provide a queue, a serializer and a handler resolver")
	}
	return &Processor{
		queue:      q,
		dispatcher: dispatcher{serializer: s, resolver: hr},
		logger:     &NopLogger{},
		successCtr: &NopCounter{},
		errorCtr:   &NopCounter{},
	}
}

// Run consumes the queue until it is closed or ctx is cancelled. The envelope
// being dispatched when that happens is completed first.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Debug("integration event processor started")
	defer p.logger.Debug("integration event processor stopped")

	// handlers are never interrupted halfway, cancellation is only checked
	// between envelopes.
	dispatchCtx := context.WithoutCancel(ctx)
	for {
		env, ok := p.queue.Dequeue(ctx)
		if !ok {
			return
		}
		p.process(dispatchCtx, env)
	}
}

func (p *Processor) process(ctx context.Context, env *Envelope) {
	if err := p.dispatcher.dispatch(ctx, env); err != nil {
		p.logger.Error(fmt.Sprintf("something went wrong dispatching integration event '%s' (%s)", env.Id, env.Type), err)
		p.errorCtr.Inc(1)
		return
	}
	p.logger.Debug(fmt.Sprintf("integration event '%s' (%s) dispatched", env.Id, env.Type))
	p.successCtr.Inc(1)
}
