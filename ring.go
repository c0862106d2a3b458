package ringq

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type sqRing struct {
	head        *uint32
	tail        *uint32
	ringMask    *uint32
	ringEntries *uint32
	dropped     *uint32
	flags       *uint32
	array       uint32Array

	sqes    sqeArray
	sqeHead uint32
	sqeTail uint32
}

type uint32Array uintptr

func (a uint32Array) get(idx uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(uintptr(a) + uintptr(idx*4)))
}

func (a uint32Array) set(idx uint32, value uint32) {
	*(*uint32)(unsafe.Pointer(uintptr(a) + uintptr(idx*4))) = value
}

type sqeArray uintptr

func (a sqeArray) at(idx uint32) *SQEntry {
	return (*SQEntry)(unsafe.Pointer(uintptr(a) + uintptr(idx)*sqeSize))
}

type cqRing struct {
	head        *uint32
	tail        *uint32
	ringMask    *uint32
	ringEntries *uint32
	overflow    *uint32
	cqes        cqeArray
}

type cqeArray uintptr

func (a cqeArray) get(idx uint32) CQEntry {
	return *(*CQEntry)(unsafe.Pointer(uintptr(a) + uintptr(idx)*cqeSize))
}

// Ring owns one pair of kernel-shared rings. Capacity is fixed at Setup and
// never changes. Index bookkeeping is not safe for uncoordinated concurrent
// writers; callers serialize reserve/publish themselves (the engine package
// does).
type Ring struct {
	// fd returned by IO_URING_SETUP
	fd     int
	params IOUringParams

	sq sqRing
	cq cqRing

	eventfd uintptr
	poller  *poll

	// pointers returned by mmap calls, used only for munmap
	sqData []byte
	// cqData can be nil if kernel supports IORING_FEAT_SINGLE_MMAP
	cqData      []byte
	sqArrayData []byte
}

// Fd is the ring file descriptor.
func (r *Ring) Fd() int {
	return r.fd
}

// Capacity is the number of submission slots the ring was created with.
func (r *Ring) Capacity() uint32 {
	return r.params.SQEntries
}

// CQSize is the completion ring capacity, normally twice Capacity.
func (r *Ring) CQSize() uint32 {
	return r.params.CQEntries
}

// Reserve hands out the next writable submission slot, or nil if every slot
// is reserved and not yet published. The returned entry is zeroed. The slot
// becomes reusable once Publish hands it to the kernel, independent of when
// the operation completes.
func (r *Ring) Reserve() *SQEntry {
	head := atomic.LoadUint32(r.sq.head)
	next := r.sq.sqeTail + 1
	if next-head > *r.sq.ringEntries {
		return nil
	}
	idx := r.sq.sqeTail & *r.sq.ringMask
	r.sq.sqeTail = next
	sqe := r.sq.sqes.at(idx)
	*sqe = SQEntry{}
	return sqe
}

// Publish flushes every reserved slot to the kernel, optionally blocking
// until waitFor completions are ready. Returns the number of entries the
// kernel consumed.
func (r *Ring) Publish(waitFor uint32) (int, error) {
	submitted := r.flushSq()
	var flags uint32
	if !r.sqNeedsEnter(submitted, &flags) && waitFor == 0 {
		return int(submitted), nil
	}
	if waitFor > 0 || (r.params.Flags&IORING_SETUP_IOPOLL) > 0 {
		flags |= IORING_ENTER_GETEVENTS
	}
	return r.enter(submitted, waitFor, flags)
}

// PeekCompletion reads the completion at the ring head without consuming it.
// The entry is copied out of the shared region so it stays valid after
// Advance.
func (r *Ring) PeekCompletion() (CQEntry, bool) {
	head := *r.cq.head
	if head < atomic.LoadUint32(r.cq.tail) {
		return r.cq.cqes.get(head & *r.cq.ringMask), true
	}
	return CQEntry{}, false
}

// Advance marks n completions consumed, releasing their ring slots to the
// kernel.
func (r *Ring) Advance(n uint32) {
	atomic.StoreUint32(r.cq.head, *r.cq.head+n)
}

// WaitCompletion blocks until at least min completions are ready or timeout
// elapses. A negative timeout waits indefinitely. Timed waits have epoll's
// millisecond granularity, sub-millisecond timeouts round up. Returning nil
// does not guarantee a completion is visible; callers re-peek.
func (r *Ring) WaitCompletion(min uint32, timeout time.Duration) error {
	if timeout == 0 {
		return nil
	}
	if timeout < 0 {
		for {
			_, err := r.enter(0, min, IORING_ENTER_GETEVENTS)
			if err == unix.EINTR {
				continue
			}
			return err
		}
	}
	if r.poller == nil {
		if err := r.setupPoller(); err != nil {
			return err
		}
		// completions posted before the eventfd registration won't signal it,
		// report a spurious wakeup so the caller re-peeks
		return nil
	}
	return r.poller.wait(timeout)
}

func (r *Ring) enter(submitted, minComplete, flags uint32) (int, error) {
	r1, _, errno := unix.Syscall6(IO_URING_ENTER, uintptr(r.fd), uintptr(submitted), uintptr(minComplete), uintptr(flags), 0, 0)
	if errno == 0 {
		return int(r1), nil
	}
	return int(r1), errno
}

func (r *Ring) flushSq() uint32 {
	if r.sq.sqeTail == r.sq.sqeHead {
		return 0
	}
	tail := *r.sq.tail
	mask := *r.sq.ringMask
	flushed := r.sq.sqeTail - r.sq.sqeHead
	for toSubmit := flushed; toSubmit > 0; toSubmit-- {
		r.sq.array.set(tail&mask, r.sq.sqeHead&mask)
		tail++
		r.sq.sqeHead++
	}
	atomic.StoreUint32(r.sq.tail, tail)
	return flushed
}

func (r *Ring) sqNeedsEnter(submitted uint32, flags *uint32) bool {
	if (r.params.Flags&IORING_SETUP_SQPOLL) == 0 && submitted > 0 {
		return true
	}
	if (atomic.LoadUint32(r.sq.flags) & IORING_SQ_NEED_WAKEUP) > 0 {
		*flags |= IORING_ENTER_SQ_WAKEUP
		return true
	}
	return false
}

func (r *Ring) setupPoller() error {
	if r.poller != nil {
		return nil
	}
	if err := r.setupEventfd(); err != nil {
		return err
	}
	p, err := newPoll(int(r.eventfd))
	if err != nil {
		return err
	}
	r.poller = p
	return nil
}
