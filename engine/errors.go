package engine

import "github.com/pkg/errors"

var (
	// ErrQueueFull returned when every submission slot is held by an
	// outstanding request. Recoverable, retry after draining a completion.
	ErrQueueFull = errors.New("engine: queue full")

	// ErrClosed returned once shutdown has begun.
	ErrClosed = errors.New("engine: closed")

	// ErrHandleBusy returned by Close while requests are still in flight.
	ErrHandleBusy = errors.New("engine: in-flight requests outstanding")

	// ErrDuplicateTag and ErrUnknownTag indicate broken correlation
	// bookkeeping. Neither can be triggered by valid input, both abort the
	// engine rather than being swallowed.
	ErrDuplicateTag = errors.New("engine: duplicate correlation tag")
	ErrUnknownTag   = errors.New("engine: unknown correlation tag")

	// ErrBroken returned by every operation after a consistency violation
	// aborted the engine.
	ErrBroken = errors.New("engine: aborted after consistency violation")

	// ErrPublishDeferred returned by Submit when the kernel notification
	// failed after the entry was queued. The request is live: the returned
	// tag is valid, the buffer stays pinned and the next flush retries the
	// notification.
	ErrPublishDeferred = errors.New("engine: kernel notification deferred")

	// ErrKernelRejected wraps the errno of an operation the kernel refused.
	// Always delivered through the result sink, never from Submit.
	ErrKernelRejected = errors.New("engine: kernel rejected operation")

	// ErrCancelled delivered through the sink when a request was resolved by
	// cancellation instead of a natural completion.
	ErrCancelled = errors.New("engine: request cancelled")
)
