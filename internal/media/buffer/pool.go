package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// Pool hands out fixed length scratch chunks for transport reads.
type Pool struct {
	pool      bytebufferpool.Pool
	chunkSize int
}

// NewPool creates a pool of chunkSize byte buffers.
func NewPool(chunkSize int) *Pool {
	return &Pool{chunkSize: chunkSize}
}

// ChunkSize returns the length of buffers returned by Get.
func (p *Pool) ChunkSize() int {
	return p.chunkSize
}

// Get returns a buffer whose B has length ChunkSize.
func (p *Pool) Get() *bytebufferpool.ByteBuffer {
	buf := p.pool.Get()
	if cap(buf.B) < p.chunkSize {
		buf.B = make([]byte, p.chunkSize)
	} else {
		buf.B = buf.B[:p.chunkSize]
	}
	return buf
}

// Put returns a buffer to the pool.
func (p *Pool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}
