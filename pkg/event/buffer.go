package event

// CapacityMode controls when ResultBuffer decides that it must reallocate
type CapacityMode int

const (
	// Reallocate only when the payload doesn't fit into the allocated memory
	CapacityTracked CapacityMode = iota
	// Reallocate whenever the payload is longer than the previous payload, even if it would fit.
	// This is strlen() of the old result, which is what C hosts of the SDK historically compared against.
	CapacityLegacy
)

// ResultBuffer holds the most recent result, followed by a NUL terminator, so that it can
// be handed across a C boundary as a char*.
// The memory is owned by the buffer. Slices returned by Write and Bytes are borrowed,
// and are only valid until the next call to Write or Reset.
// It never shrinks, except for Reset, which releases the memory.
// ResultBuffer is not safe for concurrent use.
type ResultBuffer struct {
	Mode CapacityMode

	buf         []byte // len(buf) is the allocated capacity, including the terminator
	n           int    // length of the current content
	allocations int
}

func NewResultBuffer(mode CapacityMode) *ResultBuffer {
	return &ResultBuffer{
		Mode: mode,
	}
}

// Write copies payload into the buffer, and returns the borrowed copy
func (b *ResultBuffer) Write(payload []byte) []byte {
	need := len(payload)
	realloc := false
	switch {
	case b.buf == nil:
		realloc = true
	case b.Mode == CapacityLegacy:
		realloc = b.n < need
	default:
		realloc = len(b.buf) < need+1
	}
	if realloc {
		b.buf = make([]byte, need+1)
		b.allocations++
	}
	copy(b.buf, payload)
	b.buf[need] = 0
	b.n = need
	return b.Bytes()
}

// Bytes returns the current content, without the terminator
func (b *ResultBuffer) Bytes() []byte {
	if b.buf == nil {
		return nil
	}
	return b.buf[:b.n:b.n]
}

// Terminated returns the current content, including the NUL terminator
func (b *ResultBuffer) Terminated() []byte {
	if b.buf == nil {
		return nil
	}
	return b.buf[:b.n+1]
}

// Cap returns the number of bytes allocated, including space for the terminator
func (b *ResultBuffer) Cap() int {
	return len(b.buf)
}

// Allocations returns the number of times the buffer has been (re)allocated
func (b *ResultBuffer) Allocations() int {
	return b.allocations
}

// Reset releases the memory. Previously returned slices must no longer be used.
func (b *ResultBuffer) Reset() {
	b.buf = nil
	b.n = 0
}
