// Package fixed provides an off-heap buffer pool whose memory can be
// registered with a ring for fixed read/write operations. A buffer leased to
// an in-flight request must be returned to the pool only after the request's
// completion is delivered, the pool is how callers keep that lifetime rule
// cheap to follow.
package fixed

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return &Buffer{}
	},
}

// New initializes an mmap'ed region carved into n buffers of bufsize bytes
// and, if reg is non-nil, registers it with the ring.
func New(bufsize, n int, reg Registrar) (*Pool, error) {
	alloc := &allocator{
		max:        n,
		bufferSize: bufsize,
	}
	if err := alloc.init(reg); err != nil {
		return nil, err
	}
	var head *node
	for i := n - 1; i >= 0; i-- {
		head = &node{
			next:  head,
			index: i,
		}
	}
	return &Pool{
		alloc: alloc,
		head:  head,
	}, nil
}

// Pool manages registered off-heap buffers with a lock-free freelist.
type Pool struct {
	alloc *allocator
	head  *node
}

// Get leases a buffer. Blocks spinning if every buffer is leased, which means
// leases were not returned after completion delivery.
func (p *Pool) Get() *Buffer {
	for {
		old := (*node)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&p.head))))
		if old != nil {
			index := old.index
			next := old.next
			if atomic.CompareAndSwapPointer((*unsafe.Pointer)(unsafe.Pointer(&p.head)), unsafe.Pointer(old), unsafe.Pointer(next)) {
				buf := bufferPool.Get().(*Buffer)
				buf.B = p.alloc.bufAt(index)
				buf.poolIndex = index
				buf.pos = 0
				return buf
			}
		}
		runtime.Gosched()
	}
}

// Put returns a leased buffer. Only call it once the completion of the
// request holding the lease has been observed.
func (p *Pool) Put(b *Buffer) {
	next := &node{index: b.poolIndex}
	for {
		head := (*node)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&p.head))))
		next.next = head
		if atomic.CompareAndSwapPointer((*unsafe.Pointer)(unsafe.Pointer(&p.head)), unsafe.Pointer(head), unsafe.Pointer(next)) {
			bufferPool.Put(b)
			return
		}
		runtime.Gosched()
	}
}

// Close munmaps the region. Callers must ensure every lease was returned,
// the kernel or a late Put would otherwise reference invalid memory.
func (p *Pool) Close() error {
	return p.alloc.close()
}

type node struct {
	next  *node
	index int
}
