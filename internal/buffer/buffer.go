// Package buffer provides pooled byte buffers used while copying and
// decompressing response bodies, keeping per-request allocations bounded.
package buffer

import (
	"runtime"

	"github.com/valyala/bytebufferpool"
)

// Pool is a thread-safe pool of byte slices that reuses buffers to reduce
// allocation overhead on the request path. It wraps valyala/bytebufferpool,
// growing buffers to a configured minimum capacity on checkout and relying
// on the underlying pool for lifecycle management and reuse.
type Pool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// New creates a Pool that hands out buffers with at least minSize capacity.
func New(minSize int) *Pool {
	return &Pool{
		bufferSize: minSize,
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves a reset buffer from the pool, growing it to the configured
// minimum size if the pooled instance is smaller.
func (p *Pool) Get() *bytebufferpool.ByteBuffer {
	buf := p.pool.Get()
	buf.Reset()
	if cap(buf.B) < p.bufferSize {
		buf.B = make([]byte, 0, p.bufferSize)
	}
	return buf
}

// Put returns a buffer to the pool for reuse.
func (p *Pool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		p.pool.Put(buf)
	}
}

// Cleanup triggers a GC pass to reclaim memory from buffers that have fallen
// out of the pool's retention window. Intended to be called periodically
// from a background maintenance loop, not per-request.
func (p *Pool) Cleanup() {
	runtime.GC()
}

// CopyBufferSize bounds the intermediate buffer used when streaming a
// response body to a client, so a slow client cannot force unbounded
// memory growth on the proxy side.
const CopyBufferSize = 64 * 1024
