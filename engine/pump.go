package engine

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/ringq/ringq"
)

// WaitForever makes Pump wait indefinitely for completions.
const WaitForever = time.Duration(-1)

// Serve re-checks the stop flag on this cadence, bounding shutdown latency
// when the wakeup sentinel cannot be published.
const serveWake = 50 * time.Millisecond

// Pump publishes pending submissions, then drains completions until at least
// minComplete were delivered or timeout elapsed. Zero timeout polls without
// blocking, WaitForever waits indefinitely. Returns the number of completions
// processed, zero is valid on timeout.
//
// Completions arrive in any order relative to submission. Each is matched to
// its request by tag, classified and sent to the request's sink, then its
// ring slot is released. A completion carrying a tag the table does not know
// is a protocol bug: the engine is marked broken and the error returned, no
// result is ever fabricated.
//
// One logical goroutine drains completions, either through Pump or through
// Serve, never both.
func (e *Engine) Pump(minComplete int, timeout time.Duration) (int, error) {
	if e.isBroken() {
		return 0, ErrBroken
	}

	e.mu.Lock()
	err := e.flushLocked()
	e.mu.Unlock()
	if err != nil {
		return 0, errors.Wrap(err, "publish")
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	processed := 0
	for {
		for {
			cqe, ok := e.ring.PeekCompletion()
			if !ok {
				break
			}
			e.ring.Advance(1)
			counted, err := e.deliver(cqe)
			if err != nil {
				return processed, err
			}
			if counted {
				processed++
			}
		}

		if processed >= minComplete || timeout == 0 {
			return processed, nil
		}
		wait := timeout
		if timeout > 0 {
			wait = time.Until(deadline)
			if wait <= 0 {
				return processed, nil
			}
		}
		if err := e.ring.WaitCompletion(1, wait); err != nil {
			return processed, errors.Wrap(err, "wait completion")
		}
	}
}

func (e *Engine) deliver(cqe ringq.CQEntry) (bool, error) {
	ud := cqe.UserData()
	if ud&stopBit != 0 {
		return false, ErrClosed
	}
	if ud&internalBit != 0 {
		// completion of an engine-issued cancel, the target request resolves
		// through its own completion
		return false, nil
	}

	req, err := e.table.resolve(ud)
	if err != nil {
		atomic.StoreUint32(&e.broken, 1)
		return false, err
	}
	if req.sink != nil {
		req.sink <- newResult(req, cqe)
	}
	e.slots.release(1)
	return true, nil
}

// Serve drains completions in a loop until shutdown, for callers that do not
// drive the pump themselves. Mutually exclusive with caller-driven Pump.
// Returns nil when stopped by Shutdown or Close.
func (e *Engine) Serve() error {
	if !atomic.CompareAndSwapUint32(&e.serving, 0, 1) {
		return errors.New("engine: Serve may run once")
	}
	defer e.servedOnce.Do(func() { close(e.served) })
	for atomic.LoadUint32(&e.stopping) == 0 {
		_, err := e.Pump(1, serveWake)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	return nil
}

// interruptServe wakes the Serve loop with a sentinel nop whose tag carries
// the stop bit, bypassing slot accounting and the request table.
func (e *Engine) interruptServe() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sqe := e.reserveLocked()
	if sqe == nil {
		return errors.Wrap(ErrQueueFull, "stop signal")
	}
	ringq.Nop(sqe)
	sqe.SetUserData(stopBit)
	e.pending++
	return e.flushLocked()
}

// stopServing returns only once the Serve loop is no longer touching the
// ring, so shutdown may destroy the handle afterwards. The sentinel gives a
// prompt wakeup, the stop flag covers the sentinel failing to publish.
func (e *Engine) stopServing() {
	if atomic.LoadUint32(&e.serving) == 0 {
		return
	}
	atomic.StoreUint32(&e.stopping, 1)
	_ = e.interruptServe()
	<-e.served
}
