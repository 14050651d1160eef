// File: transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package transport provides non-blocking TCP sockets on raw descriptors.
// Nothing in this package ever parks a goroutine: operations that cannot
// make progress return api.ErrWouldBlock and the caller waits for the
// reactor to report readiness.

package transport

import (
	"net"

	"github.com/pkg/errors"
)

// DefaultBacklog is the listen queue length used when none is configured.
const DefaultBacklog = 1024

// ListenConfig tunes Listen.
type ListenConfig struct {
	// Backlog is the kernel accept queue length.
	Backlog int
	// NoDelay disables Nagle's algorithm on accepted connections.
	NoDelay bool
}

func (c ListenConfig) backlog() int {
	if c.Backlog <= 0 {
		return DefaultBacklog
	}
	return c.Backlog
}

// resolve parses a "host:port" listen address. An empty host binds every
// IPv4 interface.
func resolve(addr string) (*net.TCPAddr, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %q", addr)
	}
	if ta.IP == nil {
		ta.IP = net.IPv4zero
	}
	return ta, nil
}
