package engine

import (
	"sync"
	"time"

	"github.com/ringq/ringq"
	"golang.org/x/sys/unix"
)

// fakeRing is an in-memory substrate implementing the Ring surface, so the
// lifecycle protocol can be exercised without a kernel. In auto mode every
// published entry completes immediately with autoRes, otherwise entries stay
// in flight until the test resolves them with complete.
type fakeRing struct {
	mu   sync.Mutex
	cond *sync.Cond

	capacity uint32
	reserved []*ringq.SQEntry
	inflight []ringq.SQEntry
	cq       []ringq.CQEntry

	auto    bool
	autoRes func(ringq.SQEntry) int32
	cancels bool

	publishErr error
	publishes  []int
	closed     bool
}

func newFakeRing(capacity uint32) *fakeRing {
	f := &fakeRing{capacity: capacity}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func autoFakeRing(capacity uint32) *fakeRing {
	f := newFakeRing(capacity)
	f.auto = true
	f.autoRes = func(e ringq.SQEntry) int32 {
		return int32(e.Len())
	}
	return f
}

func (f *fakeRing) Capacity() uint32 {
	return f.capacity
}

func (f *fakeRing) Reserve() *ringq.SQEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if uint32(len(f.reserved)) >= f.capacity {
		return nil
	}
	sqe := &ringq.SQEntry{}
	f.reserved = append(f.reserved, sqe)
	return sqe
}

// setPublishErr makes Publish fail without consuming reserved entries, so
// retries still find them queued.
func (f *fakeRing) setPublishErr(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

func (f *fakeRing) Publish(waitFor uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return 0, f.publishErr
	}
	n := len(f.reserved)
	for _, sqe := range f.reserved {
		e := *sqe
		switch {
		case f.cancels && e.Opcode() == ringq.IORING_OP_ASYNC_CANCEL:
			if f.dropInflight(e.Addr()) {
				f.cq = append(f.cq,
					ringq.NewCQEntry(e.Addr(), -int32(unix.ECANCELED), 0),
					ringq.NewCQEntry(e.UserData(), 0, 0))
			} else {
				f.cq = append(f.cq, ringq.NewCQEntry(e.UserData(), -int32(unix.ENOENT), 0))
			}
		case f.auto:
			f.cq = append(f.cq, ringq.NewCQEntry(e.UserData(), f.autoRes(e), 0))
		default:
			f.inflight = append(f.inflight, e)
		}
	}
	f.reserved = nil
	f.publishes = append(f.publishes, n)
	f.cond.Broadcast()
	return n, nil
}

func (f *fakeRing) dropInflight(tag uint64) bool {
	for i, e := range f.inflight {
		if e.UserData() == tag {
			f.inflight = append(f.inflight[:i], f.inflight[i+1:]...)
			return true
		}
	}
	return false
}

// complete resolves one published entry as the kernel would.
func (f *fakeRing) complete(tag uint64, res int32, flags uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropInflight(tag)
	f.cq = append(f.cq, ringq.NewCQEntry(tag, res, flags))
	f.cond.Broadcast()
}

// inject posts a completion that was never submitted.
func (f *fakeRing) inject(tag uint64, res int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cq = append(f.cq, ringq.NewCQEntry(tag, res, 0))
	f.cond.Broadcast()
}

func (f *fakeRing) PeekCompletion() (ringq.CQEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cq) == 0 {
		return ringq.CQEntry{}, false
	}
	return f.cq[0], true
}

func (f *fakeRing) Advance(n uint32) {
	f.mu.Lock()
	f.cq = f.cq[n:]
	f.mu.Unlock()
}

func (f *fakeRing) WaitCompletion(min uint32, timeout time.Duration) error {
	if timeout == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	timedOut := false
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			f.mu.Lock()
			timedOut = true
			f.mu.Unlock()
			f.cond.Broadcast()
		})
		defer timer.Stop()
	}
	for uint32(len(f.cq)) < min && !timedOut {
		f.cond.Wait()
	}
	return nil
}

func (f *fakeRing) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRing) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeRing) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.publishes {
		total += n
	}
	return total
}
