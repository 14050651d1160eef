// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the socket and reactor
// contracts in package api.

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/wsreactor/api"
)

// NetConn is an in-memory, non-blocking api.NetConn.
type NetConn struct {
	mu          sync.Mutex
	fd          uintptr
	remote      string
	inbound     []byte
	outbound    []byte
	writeBudget int // bytes accepted before ErrWouldBlock; <0 means unlimited
	readErr     error
	writeErr    error
	hungUp      bool
	closed      bool
	writeClosed bool
}

var _ api.NetConn = (*NetConn)(nil)

// NewNetConn creates a fake connection with the given descriptor number.
func NewNetConn(fd uintptr) *NetConn {
	return &NetConn{
		fd:          fd,
		remote:      fmt.Sprintf("fake:%d", fd),
		writeBudget: -1,
	}
}

// Feed queues bytes for subsequent Read calls.
func (c *NetConn) Feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = append(c.inbound, p...)
}

// HangUp makes Read report ErrPeerClosed once queued bytes are consumed.
func (c *NetConn) HangUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hungUp = true
}

// SetReadError configures Read to fail with err.
func (c *NetConn) SetReadError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// SetWriteError configures Write to fail with err.
func (c *NetConn) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// SetWriteBudget limits how many more bytes Write accepts before reporting
// ErrWouldBlock. A negative budget removes the limit.
func (c *NetConn) SetWriteBudget(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeBudget = n
}

// Read implements api.NetConn.
func (c *NetConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, api.ErrTransportClosed
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(c.inbound) == 0 {
		if c.hungUp {
			return 0, api.ErrPeerClosed
		}
		return 0, api.ErrWouldBlock
	}
	n := copy(p, c.inbound)
	c.inbound = c.inbound[n:]
	return n, nil
}

// Write implements api.NetConn.
func (c *NetConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.writeClosed {
		return 0, api.ErrTransportClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	n := len(p)
	if c.writeBudget >= 0 && n > c.writeBudget {
		n = c.writeBudget
	}
	c.outbound = append(c.outbound, p[:n]...)
	if c.writeBudget >= 0 {
		c.writeBudget -= n
	}
	if n < len(p) {
		return n, api.ErrWouldBlock
	}
	return n, nil
}

// CloseWrite implements api.NetConn.
func (c *NetConn) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeClosed = true
	return nil
}

// Close implements api.NetConn.
func (c *NetConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// RawFD implements api.NetConn.
func (c *NetConn) RawFD() uintptr { return c.fd }

// RemoteAddr implements api.NetConn.
func (c *NetConn) RemoteAddr() string { return c.remote }

// Written returns a copy of everything written so far.
func (c *NetConn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.outbound))
	copy(out, c.outbound)
	return out
}

// TakeWritten returns and clears everything written so far.
func (c *NetConn) TakeWritten() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.outbound
	c.outbound = nil
	return out
}

// Closed reports whether Close was called.
func (c *NetConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WriteClosed reports whether CloseWrite was called.
func (c *NetConn) WriteClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeClosed
}
