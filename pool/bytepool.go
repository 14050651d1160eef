// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
//
// sync.Pool-backed scratch buffers for socket reads. All connections share
// one pool; buffers are returned as soon as their bytes have been copied
// into the connection's frame buffer.

package pool

import (
	"sync"

	"github.com/momentics/wsreactor/api"
)

// DefaultChunkSize is the read chunk size used when none is configured.
const DefaultChunkSize = 16 * 1024

// BytePool implements api.BytePool on top of sync.Pool.
type BytePool struct {
	pool sync.Pool
	size int
}

var _ api.BytePool = (*BytePool)(nil)

// NewBytePool returns a pool whose fresh buffers have capacity size.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &BytePool{size: size}
}

// Size reports the capacity of freshly allocated buffers.
func (b *BytePool) Size() int { return b.size }

// Acquire returns a buffer of length n, reusing pooled storage when it is
// large enough.
func (b *BytePool) Acquire(n int) []byte {
	if n <= 0 {
		n = b.size
	}
	if v := b.pool.Get(); v != nil {
		buf := *(v.(*[]byte))
		if cap(buf) >= n {
			return buf[:n]
		}
	}
	c := b.size
	if n > c {
		c = n
	}
	return make([]byte, n, c)
}

// Release returns buf to the pool.
func (b *BytePool) Release(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	buf = buf[:0]
	b.pool.Put(&buf)
}
