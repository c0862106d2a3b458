package engine

import (
	"time"

	"github.com/ringq/ringq"
)

// Ring is the substrate surface the engine drives. ringq.Ring satisfies it,
// tests run the protocol against an in-memory substrate.
type Ring interface {
	// Capacity is the fixed number of submission slots.
	Capacity() uint32
	// Reserve hands out a writable submission slot, nil when all slots are
	// reserved and unpublished.
	Reserve() *ringq.SQEntry
	// Publish flushes reserved slots to the kernel, optionally blocking until
	// waitFor completions are ready.
	Publish(waitFor uint32) (int, error)
	// PeekCompletion reads the next completion without consuming it.
	PeekCompletion() (ringq.CQEntry, bool)
	// Advance marks n completions consumed so their ring slots recycle.
	Advance(n uint32)
	// WaitCompletion blocks until min completions are ready or timeout
	// elapses, negative timeout waits indefinitely. Spurious returns are
	// allowed, callers re-peek.
	WaitCompletion(min uint32, timeout time.Duration) error
	// Close releases all kernel resources. Undefined while requests are in
	// flight, the engine sequences this.
	Close() error
}

var _ Ring = (*ringq.Ring)(nil)
