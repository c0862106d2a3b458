package engine

import (
	"time"

	"github.com/pkg/errors"
	"github.com/ringq/ringq"
)

// Policy selects how Shutdown disposes of in-flight requests.
type Policy uint8

const (
	// Wait pumps until every in-flight request completes naturally.
	Wait Policy = iota
	// Cancel issues best-effort cancels (when the substrate supports them),
	// pumps for the grace period and resolves stragglers as Cancelled.
	// Without cancel support it degrades to a grace-bounded wait.
	Cancel
)

// Shutdown stops accepting submissions, disposes of every in-flight request
// per policy and only then destroys the ring handle. Blocked submitters are
// woken with ErrClosed, a running Serve loop is interrupted first so the
// sequencer becomes the sole completion drainer.
func (e *Engine) Shutdown(policy Policy) error {
	if err := e.markClosed(); err != nil {
		return err
	}
	e.slots.close()
	e.stopServing()

	e.mu.Lock()
	flushErr := e.flushLocked()
	e.mu.Unlock()
	if flushErr != nil || e.isBroken() {
		// requests that never reached the kernel (or whose completions can no
		// longer be trusted) will not complete naturally
		e.abortRemaining()
		closeErr := e.ring.Close()
		if flushErr != nil {
			return errors.Wrap(flushErr, "publish during shutdown")
		}
		if closeErr != nil {
			return closeErr
		}
		return ErrBroken
	}

	var deadline time.Time
	if policy == Cancel {
		if e.cancelSupport {
			e.cancelAll()
		}
		deadline = time.Now().Add(e.grace)
	}

	for e.table.size() > 0 {
		wait := WaitForever
		if policy == Cancel {
			wait = time.Until(deadline)
			if wait <= 0 {
				break
			}
		}
		if _, err := e.Pump(1, wait); err != nil {
			if errors.Is(err, ErrClosed) {
				// leftover serve-stop sentinel
				continue
			}
			e.abortRemaining()
			_ = e.ring.Close()
			return err
		}
	}

	e.abortRemaining()
	return e.ring.Close()
}

// Close destroys the ring handle immediately. Rejected with ErrHandleBusy
// while requests are in flight, since kernel memory backing them may still be
// referenced, use Shutdown to drain first.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.table.size() > 0 {
		e.mu.Unlock()
		return ErrHandleBusy
	}
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.closed = true
	e.mu.Unlock()

	e.slots.close()
	e.stopServing()
	return e.ring.Close()
}

func (e *Engine) markClosed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	return nil
}

// cancelAll submits a best-effort cancel for every in-flight tag. Cancel
// completions are engine-internal, the targets resolve through their own
// completions (ECANCELED or a natural result that won the race).
func (e *Engine) cancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tag := range e.table.tags() {
		sqe := e.reserveLocked()
		if sqe == nil {
			break
		}
		ringq.AsyncCancel(sqe, tag)
		sqe.SetUserData(internalBit | tag)
		e.pending++
	}
	_ = e.flushLocked()
}

// abortRemaining resolves every request still in the table with a Cancelled
// outcome. Cancellation is cooperative: the kernel may still touch the
// buffers until their natural completions, the Cancelled result keeps the
// buffer reference alive for that reason.
func (e *Engine) abortRemaining() {
	for _, req := range e.table.drain() {
		if req.sink != nil {
			req.sink <- newForcedResult(req)
		}
		e.slots.release(1)
	}
}
