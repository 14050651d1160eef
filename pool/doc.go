// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for wsreactor: reusable scratch buffers for non-blocking
// socket reads. See bytepool.go.
package pool
