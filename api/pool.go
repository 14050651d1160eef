// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Defines the buffer pooling contract used for socket reads.

package api

// BytePool provides reusable []byte scratch buffers for socket reads.
type BytePool interface {
	// Acquire returns a slice of exactly n bytes.
	Acquire(n int) []byte

	// Release returns a buffer to the pool. The caller must not touch buf
	// afterwards.
	Release(buf []byte)
}
