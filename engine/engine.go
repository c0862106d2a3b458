// Package engine implements the submission/completion lifecycle protocol on
// top of a kernel ring pair: slot accounting under backpressure, correlation
// of submissions to out-of-order completions, batched kernel notification and
// a shutdown sequence that never destroys the ring with requests in flight.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ringq/ringq"
)

// Tag bits reserved for engine-internal traffic. Caller-visible tags stay
// below internalBit, so both markers survive the kernel echo untouched.
const (
	// stopBit marks the sentinel nop that interrupts Serve.
	stopBit uint64 = 1 << 63
	// internalBit marks completions of engine-issued cancel requests.
	internalBit uint64 = 1 << 62

	tagMask = internalBit - 1
)

// Option ...
type Option func(*Engine)

// WithBlockOnFull makes Submit wait for a free slot instead of failing fast
// with ErrQueueFull.
func WithBlockOnFull() Option {
	return func(e *Engine) {
		e.blockOnFull = true
	}
}

// WithFlushEvery publishes to the kernel once k submissions are pending
// instead of after every one. Batching trades submission latency for fewer
// syscalls, pending entries are always flushed by the next Pump.
func WithFlushEvery(k uint32) Option {
	return func(e *Engine) {
		e.flushEvery = k
	}
}

// WithFlushOnPump defers publishing entirely to the pump cycle.
func WithFlushOnPump() Option {
	return func(e *Engine) {
		e.flushEvery = 0
	}
}

// WithDepth bounds outstanding requests below the ring capacity.
func WithDepth(n uint32) Option {
	return func(e *Engine) {
		if n > 0 && n < e.depth {
			e.depth = n
		}
	}
}

// WithCancelGrace bounds how long the Cancel shutdown policy waits for
// completions after issuing cancels. Default one second.
func WithCancelGrace(d time.Duration) Option {
	return func(e *Engine) {
		e.grace = d
	}
}

// WithCancelSupport declares whether the substrate honors async cancel.
// Without it the Cancel shutdown policy skips issuing cancels and only
// applies the grace bound. ringq.Ring.SupportsCancel probes the kernel.
func WithCancelSupport(ok bool) Option {
	return func(e *Engine) {
		e.cancelSupport = ok
	}
}

// Engine drives one ring pair. Submissions may come from many goroutines, the
// reserve-populate-publish sequence is serialized internally. Completions are
// drained by a single logical pump, either caller-driven Pump or the Serve
// loop.
type Engine struct {
	ring Ring

	// mu covers the submission side: slot population, publish bookkeeping and
	// the closed flag.
	mu      sync.Mutex
	nonce   uint64
	pending uint32
	closed  bool

	flushEvery    uint32
	grace         time.Duration
	depth         uint32
	blockOnFull   bool
	cancelSupport bool

	table *table
	slots *slots

	// broken is set when the kernel reports a tag the table does not know, a
	// bookkeeping bug that invalidates the in-flight count for good.
	broken uint32

	serving    uint32
	stopping   uint32
	served     chan struct{}
	servedOnce sync.Once
}

// New wraps an existing ring handle. The engine owns the handle from here on
// and destroys it during shutdown.
func New(ring Ring, opts ...Option) *Engine {
	e := &Engine{
		ring:       ring,
		flushEvery: 1,
		grace:      time.Second,
		depth:      ring.Capacity(),
		served:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.table = newTable(int(e.depth))
	e.slots = newSlots(e.depth, e.blockOnFull)
	return e
}

// Setup creates a kernel ring sized for `size` outstanding slots and an
// engine on top of it.
func Setup(size uint, params *ringq.IOUringParams, opts ...Option) (*Engine, error) {
	ring, err := ringq.Setup(size, params)
	if err != nil {
		return nil, err
	}
	return New(ring, opts...), nil
}

// Depth is the configured bound on outstanding requests.
func (e *Engine) Depth() uint32 {
	return e.depth
}

// InFlight is the number of submitted requests without a delivered outcome.
func (e *Engine) InFlight() int {
	return e.table.size()
}

func (e *Engine) isBroken() bool {
	return atomic.LoadUint32(&e.broken) == 1
}
