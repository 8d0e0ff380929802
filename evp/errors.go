package evp

import "errors"

var (
	ErrCommitFailed      = errors.New("unit of work commit failed")
	ErrUnitOfWorkClosed  = errors.New("unit of work already committed or rolled back")
	ErrQueueClosed       = errors.New("event queue is closed")
	ErrRelayBusy         = errors.New("relay cycle already in progress")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrEventTypeRequired = errors.New("event type is required")
	ErrHandlerRequired   = errors.New("event handler is required")
	ErrHandlerPanic      = errors.New("event handler panicked")
	ErrClaimLost         = errors.New("outbox record is no longer claimed by this relay")
	ErrPipelineStarted   = errors.New("pipeline already started")
)
