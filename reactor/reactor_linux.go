//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) reactor. The 64-bit token is split across the Fd and Pad
// words of the epoll data union and reassembled in Wait.

package reactor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/wsreactor/api"
)

type epollReactor struct {
	epfd int

	mu     sync.Mutex
	raw    []unix.EpollEvent
	closed bool
}

func newReactor() (api.Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epollReactor{epfd: epfd}, nil
}

// epollEvent builds the kernel registration for interest and opts.
func epollEvent(tok api.Token, interest api.Interest, opts api.PollOpt) *unix.EpollEvent {
	var mask uint32
	if interest.IsReadable() {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest.IsWritable() {
		mask |= unix.EPOLLOUT
	}
	if interest.IsHangup() {
		mask |= unix.EPOLLRDHUP
	}
	if opts&api.PollEdge != 0 {
		mask |= unix.EPOLLET
	}
	if opts&api.PollOneshot != 0 {
		mask |= unix.EPOLLONESHOT
	}
	return &unix.EpollEvent{
		Events: mask,
		Fd:     int32(uint32(tok)),
		Pad:    int32(uint32(tok >> 32)),
	}
}

func eventToken(ev *unix.EpollEvent) api.Token {
	return api.Token(uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32)
}

// Register adds fd to the interest list.
func (r *epollReactor) Register(fd uintptr, tok api.Token, interest api.Interest, opts api.PollOpt) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), epollEvent(tok, interest, opts))
	if errors.Is(err, unix.EEXIST) {
		return api.ErrAlreadyExists
	}
	return errors.Wrap(err, "epoll_ctl add")
}

// Reregister replaces the registration of fd. With PollOneshot this re-arms
// a descriptor that has already delivered its event.
func (r *epollReactor) Reregister(fd uintptr, tok api.Token, interest api.Interest, opts api.PollOpt) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), epollEvent(tok, interest, opts))
	if errors.Is(err, unix.ENOENT) {
		return api.ErrNotFound
	}
	return errors.Wrap(err, "epoll_ctl mod")
}

// Deregister removes fd from the interest list.
func (r *epollReactor) Deregister(fd uintptr) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if errors.Is(err, unix.ENOENT) {
		return api.ErrNotFound
	}
	return errors.Wrap(err, "epoll_ctl del")
}

// Wait blocks for up to timeout and fills events. An interrupted wait
// reports zero events.
func (r *epollReactor) Wait(events []api.Event, timeout time.Duration) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, api.ErrReactorClosed
	}
	if len(events) == 0 {
		r.mu.Unlock()
		return 0, errors.Wrap(api.ErrInvalidArgument, "empty event slice")
	}
	if cap(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	raw := r.raw[:len(events)]
	r.mu.Unlock()

	n, err := unix.EpollWait(r.epfd, raw, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "epoll_wait")
	}
	for i := 0; i < n; i++ {
		ev := &raw[i]
		events[i] = api.Event{
			Token:    eventToken(ev),
			Readable: ev.Events&unix.EPOLLIN != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Hangup:   ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
			Error:    ev.Events&unix.EPOLLERR != 0,
		}
	}
	return n, nil
}

// Close releases the epoll descriptor.
func (r *epollReactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Wrap(unix.Close(r.epfd), "close epoll")
}
