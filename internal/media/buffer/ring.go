// Package buffer provides the byte buffers used by stream transports.
package buffer

import (
	"fmt"

	"github.com/attaebra/hdhr-stream/internal/constants"
)

// Ring is a fixed capacity circular byte store with independent head (write)
// and tail (read) cursors. One byte is always kept free so that a full ring
// can be told apart from an empty one:
//
//	Readable() + Writable() == Capacity() - 1
//
// Bytes behind the tail stay in place until the head wraps over them, which
// lets callers Rewind into data that was already consumed.
type Ring struct {
	data []byte
	head int
	tail int
}

// NewRing creates a ring whose capacity is size rounded up to a multiple of
// 64KiB. A size of zero yields the minimum capacity.
func NewRing(size int) *Ring {
	return &Ring{data: make([]byte, AlignUp(size, constants.BufferAlignment))}
}

// AlignUp rounds n up to the next multiple of align (minimum one align).
func AlignUp(n, align int) int {
	if n <= 0 {
		return align
	}
	return ((n + align - 1) / align) * align
}

// AlignDown rounds n down to a multiple of align.
func AlignDown(n, align int) int {
	if n <= 0 {
		return 0
	}
	return n - n%align
}

// Capacity returns the size of the backing array.
func (r *Ring) Capacity() int {
	return len(r.data)
}

// Readable returns the number of bytes between tail and head.
func (r *Ring) Readable() int {
	return (r.head - r.tail + len(r.data)) % len(r.data)
}

// Writable returns the number of bytes that can be written without
// overtaking the tail.
func (r *Ring) Writable() int {
	return len(r.data) - r.Readable() - 1
}

// Write copies as much of p as fits and returns the count copied.
func (r *Ring) Write(p []byte) int {
	n := len(p)
	if free := r.Writable(); n > free {
		n = free
	}

	written := 0
	for written < n {
		chunk := copy(r.data[r.head:], p[written:n])
		r.head = (r.head + chunk) % len(r.data)
		written += chunk
	}
	return written
}

// Read copies up to len(p) readable bytes into p and advances the tail.
func (r *Ring) Read(p []byte) int {
	n := len(p)
	if avail := r.Readable(); n > avail {
		n = avail
	}

	read := 0
	for read < n {
		end := len(r.data)
		if r.head > r.tail {
			end = r.head
		}
		chunk := copy(p[read:n], r.data[r.tail:end])
		r.tail = (r.tail + chunk) % len(r.data)
		read += chunk
	}
	return read
}

// Rewind moves the tail back by n bytes, making already consumed bytes
// readable again. The caller must know those bytes have not been overwritten.
func (r *Ring) Rewind(n int) error {
	if n < 0 || r.Readable()+n > len(r.data)-1 {
		return fmt.Errorf("rewind of %d bytes exceeds ring window (readable %d, capacity %d)",
			n, r.Readable(), len(r.data))
	}
	r.tail = (r.tail - n + len(r.data)) % len(r.data)
	return nil
}

// Skip discards n readable bytes.
func (r *Ring) Skip(n int) error {
	if n < 0 || n > r.Readable() {
		return fmt.Errorf("skip of %d bytes exceeds readable %d", n, r.Readable())
	}
	r.tail = (r.tail + n) % len(r.data)
	return nil
}

// Reset empties the ring.
func (r *Ring) Reset() {
	r.head = 0
	r.tail = 0
}
