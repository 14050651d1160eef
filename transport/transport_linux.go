//go:build linux
// +build linux

// File: transport/transport_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux sockets created with SOCK_NONBLOCK and driven through x/sys/unix.

package transport

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/wsreactor/api"
)

// Listener is a non-blocking listening socket.
type Listener struct {
	fd      int
	addr    string
	noDelay bool

	mu     sync.Mutex
	closed bool
}

var _ api.Listener = (*Listener)(nil)

// Listen binds addr and starts listening without blocking.
func Listen(addr string, cfg ListenConfig) (api.Listener, error) {
	ta, err := resolve(addr)
	if err != nil {
		return nil, err
	}

	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := ta.IP.To4(); ip4 != nil {
		s := &unix.SockaddrInet4{Port: ta.Port}
		copy(s.Addr[:], ip4)
		sa = s
	} else {
		family = unix.AF_INET6
		s := &unix.SockaddrInet6{Port: ta.Port}
		copy(s.Addr[:], ta.IP.To16())
		sa = s
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind %s", addr)
	}
	if err := unix.Listen(fd, cfg.backlog()); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "listen")
	}

	bound := addr
	if local, err := unix.Getsockname(fd); err == nil {
		bound = sockaddrString(local)
	}
	return &Listener{fd: fd, addr: bound, noDelay: cfg.NoDelay}, nil
}

// Accept returns the next pending connection or api.ErrWouldBlock when the
// accept queue is empty.
func (l *Listener) Accept() (api.NetConn, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, api.ErrListenerShutdown
	}
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			if l.noDelay {
				_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			}
			return &Conn{fd: nfd, remote: sockaddrString(sa)}, nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil, api.ErrWouldBlock
		default:
			return nil, errors.Wrap(err, "accept4")
		}
	}
}

// Close stops listening.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return errors.Wrap(unix.Close(l.fd), "close listener")
}

// RawFD returns the listening descriptor.
func (l *Listener) RawFD() uintptr { return uintptr(l.fd) }

// Addr returns the bound address, with the kernel-chosen port when the
// listener was opened on port 0.
func (l *Listener) Addr() string { return l.addr }

// Conn is an accepted non-blocking TCP connection.
type Conn struct {
	fd     int
	remote string
	closed bool
}

var _ api.NetConn = (*Conn)(nil)

// Read reads available bytes. It reports api.ErrWouldBlock when nothing is
// buffered and api.ErrPeerClosed on end of stream.
func (c *Conn) Read(p []byte) (int, error) {
	if c.closed {
		return 0, api.ErrTransportClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, api.ErrPeerClosed
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, api.ErrWouldBlock
		case errors.Is(err, unix.ECONNRESET):
			return 0, errors.Wrap(api.ErrPeerClosed, "connection reset")
		default:
			return 0, errors.Wrap(err, "read")
		}
	}
}

// Write writes as much of p as the socket buffer accepts. A short count is
// accompanied by api.ErrWouldBlock.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, api.ErrTransportClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return written, api.ErrWouldBlock
		case errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNRESET):
			return written, errors.Wrap(api.ErrPeerClosed, err.Error())
		default:
			return written, errors.Wrap(err, "write")
		}
	}
	return written, nil
}

// CloseWrite shuts down the sending side of the connection.
func (c *Conn) CloseWrite() error {
	if c.closed {
		return api.ErrTransportClosed
	}
	return errors.Wrap(unix.Shutdown(c.fd, unix.SHUT_WR), "shutdown")
}

// Close releases the descriptor. It is safe to call more than once.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return errors.Wrap(unix.Close(c.fd), "close")
}

// RawFD returns the socket descriptor.
func (c *Conn) RawFD() uintptr { return uintptr(c.fd) }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.remote }

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return (&net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}).String()
	case *unix.SockaddrInet6:
		return (&net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}).String()
	default:
		return "unknown"
	}
}
