package evp

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Writer captures domain events into the outbox inside business transactions.
type Writer struct {
	repository Repository
	serializer Serializer
	now        func() time.Time
}

func NewWriter(r Repository, s Serializer) *Writer {
	if r == nil || s == nil {
		panic("you must provide a repository and a serializer")
	}
	return &Writer{repository: r, serializer: s, now: time.Now}
}

// Append serializes the events and saves them inside the transaction already
// present in ctx. Every event is serialized before the first insert so that a
// serialization problem never leaves a partial set of rows in the transaction.
func (w *Writer) Append(ctx context.Context, events ...Event) error {
	records := make([]*OutboxRecord, 0, len(events))
	for _, e := range events {
		env, err := newEnvelope(e, w.serializer, w.now())
		if err != nil {
			return err
		}
		records = append(records, &OutboxRecord{Envelope: *env})
	}
	for _, r := range records {
		if err := w.repository.Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Begin opens a new unit of work.
func (w *Writer) Begin(ctx context.Context) (*UnitOfWork, error) {
	txCtx, tx, err := w.repository.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not begin the unit of work: %w", err)
	}
	return &UnitOfWork{ctx: txCtx, tx: tx, writer: w}, nil
}

// InTx runs fn inside a unit of work and commits it when fn succeeds.
func (w *Writer) InTx(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	uow, err := w.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(uow); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}

// UnitOfWork groups a business transaction with the domain events raised while
// it was open. Commit persists both or nothing.
type UnitOfWork struct {
	mu     sync.Mutex
	ctx    context.Context
	tx     Tx
	writer *Writer
	events []Event
	closed bool
}

// Context returns the context carrying the native transaction.
func (u *UnitOfWork) Context() context.Context {
	return u.ctx
}

// Raise records domain events to be persisted on commit.
func (u *UnitOfWork) Raise(events ...Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, events...)
}

// Pending returns how many events are waiting for the commit.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.events)
}

// Commit collects the pending events, writes them to the outbox, commits the
// transaction and clears the events. Any failure rolls everything back.
func (u *UnitOfWork) Commit() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitOfWorkClosed
	}
	u.closed = true
	events := u.events
	u.events = nil

	if err := u.writer.Append(u.ctx, events...); err != nil {
		_ = u.tx.Rollback(u.ctx)
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	if err := u.tx.Commit(u.ctx); err != nil {
		_ = u.tx.Rollback(u.ctx)
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	return nil
}

// Rollback aborts the transaction and drops the pending events. Calling it
// after Commit is a no-op.
func (u *UnitOfWork) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	u.events = nil
	return u.tx.Rollback(u.ctx)
}
