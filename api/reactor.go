// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for the readiness-driven reactor that
// multiplexes the listener and every connection on a single goroutine.

package api

import (
	"strings"
	"time"
)

// Token is the opaque identifier a socket is registered under. The reactor
// hands it back with every readiness notification.
type Token uint64

// Interest is the set of readiness kinds a registration asks for.
type Interest uint8

const (
	// InterestReadable asks for read readiness.
	InterestReadable Interest = 1 << iota
	// InterestWritable asks for write readiness.
	InterestWritable
	// InterestHangup asks only to learn that the peer went away.
	InterestHangup
)

// IsReadable reports whether read readiness is requested.
func (i Interest) IsReadable() bool { return i&InterestReadable != 0 }

// IsWritable reports whether write readiness is requested.
func (i Interest) IsWritable() bool { return i&InterestWritable != 0 }

// IsHangup reports whether only hang-up notification is requested.
func (i Interest) IsHangup() bool { return i&InterestHangup != 0 }

func (i Interest) String() string {
	var parts []string
	if i.IsReadable() {
		parts = append(parts, "readable")
	}
	if i.IsWritable() {
		parts = append(parts, "writable")
	}
	if i.IsHangup() {
		parts = append(parts, "hangup")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// PollOpt selects the notification discipline of a registration.
type PollOpt uint8

const (
	// PollEdge reports readiness transitions rather than levels.
	PollEdge PollOpt = 1 << iota
	// PollOneshot disarms the registration after one notification; it must
	// be re-armed with Reregister.
	PollOneshot
)

// Event is one readiness notification.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
	Hangup   bool // peer closed or half-closed the stream
	Error    bool // socket error pending
}

// Reactor is a readiness-notification multiplexer (epoll on Linux).
type Reactor interface {
	// Register starts watching fd under tok.
	Register(fd uintptr, tok Token, interest Interest, opts PollOpt) error

	// Reregister replaces the interest of an already registered fd and
	// re-arms a oneshot registration.
	Reregister(fd uintptr, tok Token, interest Interest, opts PollOpt) error

	// Deregister stops watching fd.
	Deregister(fd uintptr) error

	// Wait blocks up to timeout (negative blocks indefinitely) and fills
	// events. It returns the number of events written.
	Wait(events []Event, timeout time.Duration) (int, error)

	// Close releases the underlying poller.
	Close() error
}
