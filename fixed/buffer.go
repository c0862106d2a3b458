package fixed

// Buffer is one lease from the pool. The whole region is registered as a
// single iovec, so the ring-side buffer index is always zero.
type Buffer struct {
	// B is the leased memory.
	B []byte

	poolIndex int
	pos       int
}

// Index is the io_uring buffer index of the registered region.
func (b *Buffer) Index() uint16 {
	return 0
}

func (b *Buffer) Base() *byte {
	return &b.B[0]
}

// Len is the number of bytes marked used with Adjust.
func (b *Buffer) Len() uint64 {
	return uint64(b.pos)
}

// Adjust advances the used marker, e.g. by the count a completion reported.
func (b *Buffer) Adjust(n int) {
	b.pos += n
}
