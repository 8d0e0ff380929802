package evp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pipeline wires the outbox writer, the relay, the in-process queue, the bus
// and the processor, and owns the lifetime of the background loops.
type Pipeline struct {
	settings   Settings
	logger     Logger
	repository Repository
	writer     *Writer
	queue      *Queue
	bus        *Bus
	processor  *Processor
	relay      *Relay
	now        func() time.Time

	relaySuccessCtr     Counter
	relayErrorCtr       Counter
	processorSuccessCtr Counter
	processorErrorCtr   Counter

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// opt allows optional configuration.
type opt func(p *Pipeline)

// WithLogger allows clients to configure an optional logger.
func WithLogger(l Logger) opt {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRelayCounters allows clients to configure optional counters for the
// relayed and failed outbox records.
func WithRelayCounters(success Counter, failure Counter) opt {
	return func(p *Pipeline) {
		if success != nil {
			p.relaySuccessCtr = success
		}
		if failure != nil {
			p.relayErrorCtr = failure
		}
	}
}

// WithProcessorCounters allows clients to configure optional counters for the
// dispatched and failed in-process events.
func WithProcessorCounters(success Counter, failure Counter) opt {
	return func(p *Pipeline) {
		if success != nil {
			p.processorSuccessCtr = success
		}
		if failure != nil {
			p.processorErrorCtr = failure
		}
	}
}

// WithClock overrides the clock used to stamp envelopes and processed records.
func WithClock(now func() time.Time) opt {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a pipeline using the provided settings, options and
// collaborators. The relay is only created when Settings.EnableRelay is set.
func New(s Settings, r Repository, sz Serializer, hr HandlerResolver, options ...opt) *Pipeline {
	if r == nil || sz == nil || hr == nil {
		panic("you must provide a repository, a serializer and a handler resolver")
	}
	validateSettings(&s)

	p := &Pipeline{
		settings:            s,
		logger:              &NopLogger{},
		repository:          r,
		now:                 time.Now,
		relaySuccessCtr:     &NopCounter{},
		relayErrorCtr:       &NopCounter{},
		processorSuccessCtr: &NopCounter{},
		processorErrorCtr:   &NopCounter{},
	}
	for _, o := range options {
		o(p)
	}

	if l, ok := r.(Loggable); ok {
		l.SetLogger(p.logger)
	}

	p.writer = NewWriter(r, sz)
	p.writer.now = p.now
	p.queue = NewQueue(s.QueueCapacity)
	p.bus = NewBus(p.queue, sz)
	p.bus.now = p.now
	p.processor = NewProcessor(p.queue, sz, hr)
	p.processor.logger = p.logger
	p.processor.successCtr, p.processor.errorCtr = p.processorSuccessCtr, p.processorErrorCtr

	if s.EnableRelay {
		p.logger.Debug("the outbox relay is enabled")
		p.relay = NewRelay(s, r, sz, hr)
		p.relay.logger = p.logger
		p.relay.now = p.now
		p.relay.successCtr, p.relay.errorCtr = p.relaySuccessCtr, p.relayErrorCtr
	}
	return p
}

// Writer returns the outbox writer.
func (p *Pipeline) Writer() *Writer {
	return p.writer
}

// Bus returns the in-process event bus.
func (p *Pipeline) Bus() *Bus {
	return p.bus
}

// Queue returns the in-process event queue.
func (p *Pipeline) Queue() *Queue {
	return p.queue
}

// Relay returns the outbox relay, or nil if it is disabled.
func (p *Pipeline) Relay() *Relay {
	return p.relay
}

// Begin opens a unit of work whose events are captured into the outbox.
func (p *Pipeline) Begin(ctx context.Context) (*UnitOfWork, error) {
	return p.writer.Begin(ctx)
}

// Publish publishes an integration event on the in-process bus.
func (p *Pipeline) Publish(ctx context.Context, e Event) (uuid.UUID, error) {
	return p.bus.Publish(ctx, e)
}

// Start launches the processor and, if enabled, the relay. They run until
// Shutdown is called or ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrPipelineStarted
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.processor.Run(ctx)
	}()
	if p.relay != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.relay.Run(ctx)
		}()
	}
	return nil
}

// Shutdown stops the background loops, closes the queue and waits for the
// in-flight work to finish or ctx to expire. Committed outbox records that were
// not relayed yet remain pending.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("event pipeline stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
