package transport

import (
	"encoding/binary"
	"fmt"
)

// DefaultRegionCapacity is the response region size in bytes.
const DefaultRegionCapacity = 4096

// lengthPrefix is the size of the little-endian length header.
const lengthPrefix = 4

// CapacityError occurs when an envelope does not fit the response region.
type CapacityError struct {
	Size     int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("envelope of %d bytes exceeds region capacity %d (with %d-byte header)",
		e.Size, e.Capacity, lengthPrefix)
}

// ResponseRegion is the fixed-size buffer the responder writes results into.
//
//	[0, 4)    envelope length N, little-endian u32
//	[4, 4+N)  envelope bytes
//
// The region is not synchronized itself; SharedChannel serializes access.
type ResponseRegion struct {
	buf []byte
}

// NewResponseRegion allocates a region. A capacity below the header size
// falls back to DefaultRegionCapacity.
func NewResponseRegion(capacity int) *ResponseRegion {
	if capacity <= lengthPrefix {
		capacity = DefaultRegionCapacity
	}
	return &ResponseRegion{buf: make([]byte, capacity)}
}

// Capacity returns the region size in bytes.
func (r *ResponseRegion) Capacity() int {
	return len(r.buf)
}

// Fits reports whether an envelope of n bytes can be written.
func (r *ResponseRegion) Fits(n int) bool {
	return n >= 0 && lengthPrefix+n <= len(r.buf)
}

// Write zeroes the region and stores env behind its length prefix. The size
// is checked before anything is touched, so an oversized envelope leaves
// the previous contents intact.
func (r *ResponseRegion) Write(env []byte) error {
	if !r.Fits(len(env)) {
		return &CapacityError{Size: len(env), Capacity: len(r.buf)}
	}
	clear(r.buf)
	binary.LittleEndian.PutUint32(r.buf, uint32(len(env)))
	copy(r.buf[lengthPrefix:], env)
	return nil
}

// Read copies the envelope out of the region.
func (r *ResponseRegion) Read() ([]byte, error) {
	n := binary.LittleEndian.Uint32(r.buf)
	if uint64(n)+lengthPrefix > uint64(len(r.buf)) {
		return nil, fmt.Errorf("region length prefix %d exceeds capacity %d", n, len(r.buf))
	}
	out := make([]byte, n)
	copy(out, r.buf[lengthPrefix:lengthPrefix+int(n)])
	return out, nil
}

// Reset zeroes the region.
func (r *ResponseRegion) Reset() {
	clear(r.buf)
}
