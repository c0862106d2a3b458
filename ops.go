package ringq

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// The engine treats operation payloads as opaque, these helpers cover the
// operations the engine itself relies on plus plain read/write for tests and
// examples.

// Nop ...
func Nop(sqe *SQEntry) {
	sqe.opcode = IORING_OP_NOP
}

// AsyncCancel requests best-effort cancellation of the submission that was
// tagged with userData. The target may still complete naturally first.
func AsyncCancel(sqe *SQEntry, userData uint64) {
	sqe.opcode = IORING_OP_ASYNC_CANCEL
	sqe.fd = -1
	sqe.addr = userData
}

// Timeout completes after ts unless count other completions arrive first.
func Timeout(sqe *SQEntry, ts *unix.Timespec, count uint64, abs bool) {
	sqe.opcode = IORING_OP_TIMEOUT
	sqe.fd = -1
	sqe.addr = (uint64)(uintptr(unsafe.Pointer(ts)))
	sqe.len = 1
	sqe.offset = count
	if abs {
		sqe.opcodeFlags = IORING_TIMEOUT_ABS
	}
}

// Read ...
func Read(sqe *SQEntry, fd uintptr, buf []byte) {
	sqe.opcode = IORING_OP_READ
	sqe.fd = int32(fd)
	sqe.addr = (uint64)(uintptr(unsafe.Pointer(&buf[0])))
	sqe.len = uint32(len(buf))
}

// Write ...
func Write(sqe *SQEntry, fd uintptr, buf []byte) {
	sqe.opcode = IORING_OP_WRITE
	sqe.fd = int32(fd)
	sqe.addr = (uint64)(uintptr(unsafe.Pointer(&buf[0])))
	sqe.len = uint32(len(buf))
}

// WriteFixed writes from a registered buffer.
func WriteFixed(sqe *SQEntry, fd uintptr, base *byte, n, offset uint64, bufIndex uint16) {
	sqe.opcode = IORING_OP_WRITE_FIXED
	sqe.fd = int32(fd)
	sqe.len = uint32(n)
	sqe.offset = offset
	sqe.addr = (uint64)(uintptr(unsafe.Pointer(base)))
	sqe.SetBufIndex(bufIndex)
}

// ReadFixed reads into a registered buffer.
func ReadFixed(sqe *SQEntry, fd uintptr, base *byte, n, offset uint64, bufIndex uint16) {
	sqe.opcode = IORING_OP_READ_FIXED
	sqe.fd = int32(fd)
	sqe.len = uint32(n)
	sqe.offset = offset
	sqe.addr = (uint64)(uintptr(unsafe.Pointer(base)))
	sqe.SetBufIndex(bufIndex)
}
