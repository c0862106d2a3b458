package engine

import (
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/ringq/ringq"
	"golang.org/x/sys/unix"
)

// Operation populates a reserved submission slot with an opaque payload.
// Anything referenced from the entry must stay valid until the completion is
// delivered.
type Operation func(*ringq.SQEntry)

// request is one operation submitted but not yet completed. Owned by the
// request table from registration until its completion is delivered. The
// buffer reference keeps caller memory pinned across the asynchronous
// boundary.
type request struct {
	tag       uint64
	buf       []byte
	want      uint32
	sink      chan<- *Result
	submitted time.Time
}

// Kind classifies a delivered completion.
type Kind uint8

const (
	// Success is a completion reporting the full requested count.
	Success Kind = iota
	// Partial reports fewer units than requested, the caller decides whether
	// to resubmit the remainder.
	Partial
	// Failure is an operation the kernel rejected.
	Failure
	// Cancelled is a request resolved by cancellation.
	Cancelled
)

var resultPool = sync.Pool{
	New: func() interface{} {
		return &Result{}
	},
}

// Result is one kernel-reported outcome, delivered through the sink the
// request was submitted with. Call Dispose once consumed to return it to the
// pool.
type Result struct {
	tag       uint64
	res       int32
	flags     uint32
	want      uint32
	buf       []byte
	submitted time.Time
	forced    bool
}

func newResult(req *request, cqe ringq.CQEntry) *Result {
	r := resultPool.Get().(*Result)
	r.tag = req.tag
	r.res = cqe.Result()
	r.flags = cqe.Flags()
	r.want = req.want
	r.buf = req.buf
	r.submitted = req.submitted
	r.forced = false
	return r
}

// newForcedResult resolves a request without a kernel completion, used when
// shutdown gives up waiting.
func newForcedResult(req *request) *Result {
	r := resultPool.Get().(*Result)
	r.tag = req.tag
	r.res = -int32(unix.ECANCELED)
	r.flags = 0
	r.want = req.want
	r.buf = req.buf
	r.submitted = req.submitted
	r.forced = true
	return r
}

// Tag echoes the correlation tag Submit returned.
func (r *Result) Tag() uint64 {
	return r.tag
}

func (r *Result) Kind() Kind {
	switch {
	case r.forced || r.Errno() == unix.ECANCELED:
		return Cancelled
	case r.res < 0:
		return Failure
	case r.want > 0 && uint32(r.res) < r.want:
		return Partial
	default:
		return Success
	}
}

// Count is the completed byte/unit count, zero for failed operations.
func (r *Result) Count() int {
	if r.res < 0 {
		return 0
	}
	return int(r.res)
}

// Errno is the raw kernel error, zero on success.
func (r *Result) Errno() syscall.Errno {
	if r.res >= 0 {
		return 0
	}
	return syscall.Errno(-r.res)
}

func (r *Result) Err() error {
	errno := r.Errno()
	switch {
	case r.forced || errno == unix.ECANCELED:
		return ErrCancelled
	case errno != 0:
		return errors.Wrap(ErrKernelRejected, errno.Error())
	}
	return nil
}

// Flags carries completion flags, e.g. the more-data-pending marker.
func (r *Result) Flags() uint32 {
	return r.flags
}

// Buffer returns the memory the request referenced. For Cancelled results the
// kernel may still touch it until a natural completion would have arrived, so
// only reuse buffers of Cancelled results once the ring itself is gone.
func (r *Result) Buffer() []byte {
	return r.buf
}

// Elapsed is the time between submission and delivery.
func (r *Result) Elapsed() time.Duration {
	return time.Since(r.submitted)
}

// Dispose puts the result back into the reusable pool.
func (r *Result) Dispose() {
	*r = Result{}
	resultPool.Put(r)
}
