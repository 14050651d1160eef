// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the socket abstractions (NetConn, Listener) the reactor driver and
// the connection state machine work against. Implementations are
// non-blocking: an operation that cannot make progress returns ErrWouldBlock.

package api

// NetConn abstracts a non-blocking, full-duplex stream socket.
type NetConn interface {
	// Read reads into p. It returns ErrWouldBlock when no data is available
	// and ErrPeerClosed once the peer has closed its side.
	Read(p []byte) (n int, err error)

	// Write writes from p. A short count with ErrWouldBlock means the
	// socket send buffer is full.
	Write(p []byte) (n int, err error)

	// CloseWrite shuts down the sending side of the stream.
	CloseWrite() error

	// Close shuts down the connection.
	Close() error

	// RawFD returns the underlying OS-level file descriptor.
	RawFD() uintptr

	// RemoteAddr returns the peer address in printable form.
	RemoteAddr() string
}

// Listener is a non-blocking stream listener.
type Listener interface {
	// Accept returns the next pending connection or ErrWouldBlock when none
	// is ready.
	Accept() (NetConn, error)

	// Close stops listening.
	Close() error

	// RawFD returns the listening socket descriptor.
	RawFD() uintptr

	// Addr returns the bound address in printable form.
	Addr() string
}
