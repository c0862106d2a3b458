package fixed

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Registrar registers the pool's memory with a ring so operations can use
// the fixed variants. ringq.Ring implements it.
type Registrar interface {
	RegisterBuffers(iovec []unix.Iovec) error
}

var iovecSize = int(unsafe.Sizeof(unix.Iovec{}))

type allocator struct {
	max        int // number of buffers
	bufferSize int

	buffers int // start of the buffers region in the allocated mem

	// mem is split in two parts:
	// header - a single iovec covering the buffers region
	// buffers - max buffers of bufferSize each
	mem []byte
}

func (a *allocator) init(reg Registrar) error {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_ANON | unix.MAP_PRIVATE
	header := iovecSize
	size := a.bufferSize*a.max + header
	mem, err := unix.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return err
	}
	a.buffers = header
	a.mem = mem
	iovec := (*unix.Iovec)(unsafe.Pointer(&a.mem[0]))
	iovec.Base = &mem[header]
	iovec.Len = uint64(size - header)
	if reg == nil {
		return nil
	}
	return reg.RegisterBuffers((*[1]unix.Iovec)(unsafe.Pointer(&a.mem[0]))[:])
}

func (a *allocator) close() error {
	return unix.Munmap(a.mem)
}

func (a *allocator) bufAt(pos int) []byte {
	if pos >= a.max {
		return nil
	}
	start := a.buffers + pos*a.bufferSize
	return a.mem[start : start+a.bufferSize]
}
