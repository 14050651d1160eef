// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"sync"
	"time"

	"github.com/momentics/wsreactor/api"
)

// Registration records the last registration made for a descriptor.
type Registration struct {
	Token    api.Token
	Interest api.Interest
	Opts     api.PollOpt
	Arms     int // Register plus Reregister calls
}

// Reactor is a scripted api.Reactor: tests push events, Wait hands them out.
type Reactor struct {
	mu     sync.Mutex
	regs   map[uintptr]*Registration
	events []api.Event
	closed bool
}

var _ api.Reactor = (*Reactor)(nil)

// NewReactor creates an empty fake reactor.
func NewReactor() *Reactor {
	return &Reactor{regs: make(map[uintptr]*Registration)}
}

// Register implements api.Reactor.
func (r *Reactor) Register(fd uintptr, tok api.Token, in api.Interest, opts api.PollOpt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regs[fd]; ok {
		return api.ErrAlreadyExists
	}
	r.regs[fd] = &Registration{Token: tok, Interest: in, Opts: opts, Arms: 1}
	return nil
}

// Reregister implements api.Reactor.
func (r *Reactor) Reregister(fd uintptr, tok api.Token, in api.Interest, opts api.PollOpt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[fd]
	if !ok {
		return api.ErrNotFound
	}
	reg.Token, reg.Interest, reg.Opts = tok, in, opts
	reg.Arms++
	return nil
}

// Deregister implements api.Reactor.
func (r *Reactor) Deregister(fd uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regs[fd]; !ok {
		return api.ErrNotFound
	}
	delete(r.regs, fd)
	return nil
}

// Push queues events for Wait.
func (r *Reactor) Push(evs ...api.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
}

// Wait implements api.Reactor. It never blocks longer than timeout and
// returns immediately when events are queued.
func (r *Reactor) Wait(events []api.Event, timeout time.Duration) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, api.ErrReactorClosed
	}
	n := copy(events, r.events)
	r.events = r.events[n:]
	r.mu.Unlock()
	if n == 0 && timeout > 0 {
		time.Sleep(timeout)
	}
	return n, nil
}

// Close implements api.Reactor.
func (r *Reactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Registration returns a copy of the registration for fd.
func (r *Reactor) Registration(fd uintptr) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[fd]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}
