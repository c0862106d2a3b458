package engine

import (
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/ringq/ringq"
)

// Submit registers one operation and hands it to the kernel, returning the
// correlation tag its completion will carry. op populates the submission
// entry, buf (optional) is the memory the operation reads or writes, sink
// (optional) receives the outcome. buf must not be mutated, freed or reused
// until the result is delivered. The sink channel needs capacity or a
// concurrent receiver, delivery blocks the pump otherwise.
//
// Backpressure surfaces here: with the default fail-fast policy Submit
// returns ErrQueueFull once depth requests are outstanding, with
// WithBlockOnFull it waits for a completion to free a slot. Kernel-reported
// outcomes are never returned from Submit, they always arrive through the
// sink.
//
// A failed kernel notification is not a dead submission: Submit returns the
// valid tag together with ErrPublishDeferred, the request stays registered
// with its entry queued, buf stays pinned until the result is delivered, and
// the next flush (or Pump) retries the notification. Every other error means
// the request was never accepted and buf is free.
func (e *Engine) Submit(op Operation, buf []byte, sink chan<- *Result) (uint64, error) {
	if e.isBroken() {
		return 0, ErrBroken
	}
	if err := e.slots.acquire(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.slots.release(1)
		return 0, ErrClosed
	}

	tag := e.nonce & tagMask
	e.nonce++
	req := &request{tag: tag, buf: buf, sink: sink, submitted: time.Now()}
	if err := e.table.register(tag, req); err != nil {
		e.mu.Unlock()
		e.slots.release(1)
		return 0, err
	}

	sqe := e.reserveLocked()
	if sqe == nil {
		// the registration must not outlive a failed population, a dangling
		// table entry would block shutdown forever
		e.table.remove(tag)
		e.mu.Unlock()
		e.slots.release(1)
		return 0, errors.Wrap(ErrQueueFull, "no submission slot after flush")
	}

	if op != nil {
		op(sqe)
	}
	if buf != nil {
		sqe.SetAddr(uint64(uintptr(unsafe.Pointer(&buf[0]))))
		sqe.SetLen(uint32(len(buf)))
	}
	req.want = sqe.Len()
	sqe.SetUserData(tag)
	e.pending++

	var err error
	if e.flushEvery > 0 && e.pending >= e.flushEvery {
		err = e.flushLocked()
	}
	e.mu.Unlock()

	if err != nil {
		// the entry stays queued in the submission ring and registered, the
		// next flush retries the kernel notification
		return tag, errors.Wrapf(ErrPublishDeferred, "publish: %v", err)
	}
	return tag, nil
}

// reserveLocked returns a writable submission slot, recycling published slots
// by flushing when the ring is full of unpublished entries. Outstanding
// requests are bounded by the ring capacity, so after a flush a slot exists.
func (e *Engine) reserveLocked() *ringq.SQEntry {
	if sqe := e.ring.Reserve(); sqe != nil {
		return sqe
	}
	if err := e.flushLocked(); err != nil {
		return nil
	}
	return e.ring.Reserve()
}

func (e *Engine) flushLocked() error {
	if e.pending == 0 {
		return nil
	}
	if _, err := e.ring.Publish(0); err != nil {
		return err
	}
	e.pending = 0
	return nil
}
