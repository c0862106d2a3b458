package engine

import "sync"

// slots bounds the number of outstanding requests at the configured depth.
// Submission ring slots themselves recycle at publish time, what this guards
// is the table/completion capacity: a request holds its slot from acquire
// until its completion is delivered.
type slots struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity uint32
	inflight uint32
	block    bool
	closed   bool
}

func newSlots(capacity uint32, block bool) *slots {
	s := &slots{capacity: capacity, block: block}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// acquire reserves one slot. Depending on policy it blocks until a completion
// frees one or fails fast with ErrQueueFull.
func (s *slots) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return ErrClosed
		}
		if s.inflight < s.capacity {
			s.inflight++
			return nil
		}
		if !s.block {
			return ErrQueueFull
		}
		s.cond.Wait()
	}
}

func (s *slots) release(n uint32) {
	s.mu.Lock()
	s.inflight -= n
	s.mu.Unlock()
	for ; n > 0; n-- {
		s.cond.Signal()
	}
}

func (s *slots) outstanding() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// close refuses further acquisitions and wakes blocked submitters.
func (s *slots) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}
