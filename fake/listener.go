// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"sync"

	"github.com/momentics/wsreactor/api"
)

// Listener is an in-memory api.Listener fed with fake connections.
type Listener struct {
	mu        sync.Mutex
	fd        uintptr
	pending   []*NetConn
	acceptErr error
	closed    bool
}

var _ api.Listener = (*Listener)(nil)

// NewListener creates a listener with the given descriptor number.
func NewListener(fd uintptr) *Listener {
	return &Listener{fd: fd}
}

// Push queues connections to be returned by Accept.
func (l *Listener) Push(conns ...*NetConn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, conns...)
}

// SetAcceptError makes the next Accept fail with err.
func (l *Listener) SetAcceptError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acceptErr = err
}

// Accept implements api.Listener.
func (l *Listener) Accept() (api.NetConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, api.ErrListenerShutdown
	}
	if err := l.acceptErr; err != nil {
		l.acceptErr = nil
		return nil, err
	}
	if len(l.pending) == 0 {
		return nil, api.ErrWouldBlock
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c, nil
}

// Close implements api.Listener.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// RawFD implements api.Listener.
func (l *Listener) RawFD() uintptr { return l.fd }

// Addr implements api.Listener.
func (l *Listener) Addr() string { return "fake:listener" }
