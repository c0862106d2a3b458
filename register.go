package ringq

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	IORING_REGISTER_BUFFERS uintptr = iota
	IORING_UNREGISTER_BUFFERS
	IORING_REGISTER_FILES
	IORING_UNREGISTER_FILES
	IORING_REGISTER_EVENTFD
	IORING_UNREGISTER_EVENTFD
	IORING_REGISTER_FILES_UPDATE
	IORING_REGISTER_EVENTFD_ASYNC
	IORING_REGISTER_PROBE
)

const IO_URING_OP_SUPPORTED uint16 = 1 << 0

const probeOpsSize = uintptr(IORING_OP_LAST) + 1

// Probe reports which operations the kernel understands.
type Probe struct {
	LastOp uint8
	OpsLen uint8
	resv   uint16
	resv2  [3]uint32
	Ops    [probeOpsSize]ProbeOp
}

func (p Probe) IsSupported(op uint8) bool {
	for i := uint8(0); i < p.OpsLen; i++ {
		if p.Ops[i].Op != op {
			continue
		}
		return p.Ops[i].Flags&IO_URING_OP_SUPPORTED > 0
	}
	return false
}

type ProbeOp struct {
	Op    uint8
	resv  uint8
	Flags uint16
	resv2 uint32
}

func (r *Ring) register(code uintptr, arg unsafe.Pointer, n uintptr) error {
	_, _, errno := unix.Syscall6(
		IO_URING_REGISTER,
		uintptr(r.fd),
		code, uintptr(arg), n, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// RegisterProbe fills probe with the supported operation set.
func (r *Ring) RegisterProbe(probe *Probe) error {
	return r.register(IORING_REGISTER_PROBE, unsafe.Pointer(probe), probeOpsSize)
}

// SupportsCancel reports whether the kernel accepts async cancel requests.
// Probe registration itself appeared in the same kernel release window, so a
// probe failure means no cancel support either.
func (r *Ring) SupportsCancel() bool {
	var probe Probe
	if err := r.RegisterProbe(&probe); err != nil {
		return false
	}
	return probe.IsSupported(IORING_OP_ASYNC_CANCEL)
}

// RegisterBuffers registers memory regions for fixed reads and writes.
// Registration waits for the ring to become idle.
func (r *Ring) RegisterBuffers(iovec []unix.Iovec) error {
	return r.register(IORING_REGISTER_BUFFERS, unsafe.Pointer(&iovec[0]), uintptr(len(iovec)))
}

func (r *Ring) UnregisterBuffers() error {
	return r.register(IORING_UNREGISTER_BUFFERS, nil, 0)
}

// RegisterFiles registers descriptors for fixed-file operations.
func (r *Ring) RegisterFiles(fds []int32) error {
	return r.register(IORING_REGISTER_FILES, unsafe.Pointer(&fds[0]), uintptr(len(fds)))
}

func (r *Ring) UnregisterFiles() error {
	return r.register(IORING_UNREGISTER_FILES, nil, 0)
}

func (r *Ring) setupEventfd() error {
	if r.eventfd != 0 {
		return nil
	}
	efd, err := unix.Eventfd(0, 0)
	if err != nil {
		return err
	}
	r.eventfd = uintptr(efd)
	if err := r.register(IORING_REGISTER_EVENTFD, unsafe.Pointer(&r.eventfd), 1); err != nil {
		_ = unix.Close(efd)
		r.eventfd = 0
		return err
	}
	return nil
}

func (r *Ring) closeEventfd() error {
	if r.eventfd == 0 {
		return nil
	}
	err := r.register(IORING_UNREGISTER_EVENTFD, nil, 0)
	if cerr := unix.Close(int(r.eventfd)); err == nil {
		err = cerr
	}
	r.eventfd = 0
	return err
}
