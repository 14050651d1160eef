// File: server/server.go
// Package server drives WebSocket connections from reactor readiness events.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Server owns the listener and the connection table. It is driven by a
// single goroutine: Run, or a caller feeding OnReady and Sweep directly.
// Only Stats may be called from other goroutines.

package server

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/pool"
	"github.com/momentics/wsreactor/protocol"
)

const (
	// DefaultMaxEvents is the reactor batch size.
	DefaultMaxEvents = 1024
	// DefaultPollInterval bounds a single reactor wait in Run.
	DefaultPollInterval = 100 * time.Millisecond
)

// connOpts is the registration discipline for every client socket: one
// notification per arm, re-armed after each event is handled.
const connOpts = api.PollEdge | api.PollOneshot

// Stats is a point-in-time view of the connection table.
type Stats struct {
	Connections int            `json:"connections"`
	ByState     map[string]int `json:"by_state"`
	LastToken   uint64         `json:"last_token"`
}

// Server accepts connections and runs their protocol state machines.
type Server struct {
	ln      api.Listener
	reactor api.Reactor
	table   *Table

	listenerToken api.Token
	next          api.Token

	handler      protocol.Handler
	pool         api.BytePool
	maxPayload   int64
	idleTimeout  time.Duration
	pollInterval time.Duration
	maxEvents    int

	log     *logrus.Entry
	metrics Metrics
	debug   api.Debug
	now     func() time.Time

	stats atomic.Value // Stats
	dirty bool         // table changed since the last publish

	// acceptRetry is set when accepting stopped on an error other than
	// would-block; the backlog is drained again on the next sweep.
	acceptRetry bool
	closed      bool
}

// New builds a server around a bound listener and registers the listener
// with r for edge-triggered read readiness.
func New(ln api.Listener, r api.Reactor, opts ...Option) (*Server, error) {
	if ln == nil || r == nil {
		return nil, errors.Wrap(api.ErrInvalidArgument, "server needs a listener and a reactor")
	}
	s := &Server{
		ln:           ln,
		reactor:      r,
		table:        NewTable(),
		next:         1,
		handler:      protocol.EchoHandler{},
		maxPayload:   protocol.DefaultMaxFramePayload,
		pollInterval: DefaultPollInterval,
		maxEvents:    DefaultMaxEvents,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.pool == nil {
		s.pool = pool.NewBytePool(pool.DefaultChunkSize)
	}
	if s.maxEvents <= 0 {
		s.maxEvents = DefaultMaxEvents
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}

	if err := r.Register(ln.RawFD(), s.listenerToken, api.InterestReadable, api.PollEdge); err != nil {
		return nil, errors.Wrap(err, "register listener")
	}
	s.publish()
	if s.debug != nil {
		s.debug.RegisterProbe("connections", func() any { return s.Stats() })
	}
	return s, nil
}

// ListenerToken returns the token reserved for the listener.
func (s *Server) ListenerToken() api.Token { return s.listenerToken }

// Len returns the number of live connections.
func (s *Server) Len() int { return s.table.Len() }

// Lookup returns the connection registered under tok.
func (s *Server) Lookup(tok api.Token) (*protocol.Connection, bool) {
	return s.table.Get(tok)
}

// Stats returns the last published snapshot. It is refreshed by every sweep
// and by any OnReady call that admits, removes or advances a connection. It
// is safe to call from any goroutine.
func (s *Server) Stats() Stats {
	return s.stats.Load().(Stats)
}

// OnReady handles one readiness event.
func (s *Server) OnReady(ev api.Event) {
	defer s.publishIfDirty()
	if ev.Token == s.listenerToken {
		s.acceptAll()
		return
	}
	c, ok := s.table.Get(ev.Token)
	if !ok {
		s.log.WithField("token", uint64(ev.Token)).Debug("event for unknown token")
		return
	}

	switch {
	case c.State() == protocol.StateClosing:
		s.remove(c, ReasonClosed)
		return
	case ev.Error:
		s.remove(c, ReasonTransport)
		return
	case ev.Hangup && !ev.Readable:
		s.remove(c, ReasonHangup)
		return
	}

	before := c.State()
	if ev.Readable {
		if err := c.HandleReadable(); err != nil {
			s.fail(c, err)
			return
		}
	}
	if ev.Writable {
		if err := c.HandleWritable(); err != nil {
			s.fail(c, err)
			return
		}
	}
	if c.State() != before {
		s.dirty = true
	}
	s.rearm(c)
}

// Send queues f on the connection registered under tok and arms it for
// writing. It must run on the event loop goroutine.
func (s *Server) Send(tok api.Token, f *protocol.Frame) error {
	if tok == s.listenerToken {
		return errors.Wrapf(api.ErrReservedToken, "token %d", uint64(tok))
	}
	c, ok := s.table.Get(tok)
	if !ok {
		return errors.Wrapf(api.ErrNotFound, "token %d", uint64(tok))
	}
	if c.State() != protocol.StateOpen {
		return errors.Wrapf(api.ErrInvalidArgument, "connection %d is %s", uint64(tok), c.State())
	}
	if err := c.Enqueue(f); err != nil {
		return err
	}
	s.rearm(c)
	return nil
}

// CloseConn starts a server-initiated close handshake on tok.
func (s *Server) CloseConn(tok api.Token, code uint16, reason string) error {
	return s.Send(tok, protocol.NewCloseFrame(code, reason))
}

// Sweep removes connections whose close handshake has completed and, when an
// idle timeout is configured, connections idle for longer than it. A backlog
// left behind by a failed accept is drained first. It returns the number of
// connections removed.
func (s *Server) Sweep(now time.Time) int {
	if s.acceptRetry && !s.closed {
		s.acceptAll()
	}
	var closing, idle []*protocol.Connection
	s.table.Range(func(c *protocol.Connection) bool {
		switch {
		case c.State() == protocol.StateClosing:
			closing = append(closing, c)
		case s.idleTimeout > 0 && now.Sub(c.LastActive()) >= s.idleTimeout:
			idle = append(idle, c)
		}
		return true
	})
	for _, c := range closing {
		s.remove(c, ReasonClosed)
	}
	for _, c := range idle {
		err := api.NewError(api.ErrCodeTimeout, "idle timeout").
			WithContext("idle", now.Sub(c.LastActive()).String())
		s.fail(c, err)
	}
	s.publish()
	return len(closing) + len(idle)
}

// Close tears down every connection and the listener. The reactor belongs
// to the caller and stays open.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var all []*protocol.Connection
	s.table.Range(func(c *protocol.Connection) bool {
		all = append(all, c)
		return true
	})
	for _, c := range all {
		s.remove(c, ReasonShutdown)
	}
	if err := s.reactor.Deregister(s.ln.RawFD()); err != nil && !errors.Is(err, api.ErrNotFound) {
		s.log.WithError(err).Debug("deregister listener")
	}
	s.publish()
	return errors.Wrap(s.ln.Close(), "close listener")
}

// acceptAll drains the accept queue. The listener is edge-triggered, so a
// backlog left after an accept error gets no new edge; acceptRetry hands it
// to the next sweep.
func (s *Server) acceptAll() {
	s.acceptRetry = false
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) || errors.Is(err, api.ErrListenerShutdown) {
				return
			}
			s.acceptRetry = true
			s.metrics.AcceptFailed()
			s.log.WithError(err).Warn("accept failed")
			return
		}
		s.admit(nc)
	}
}

func (s *Server) admit(nc api.NetConn) {
	tok := s.allocToken()
	c := protocol.NewConnection(tok, nc, protocol.ConnConfig{
		Handler:    s.handler,
		Pool:       s.pool,
		MaxPayload: s.maxPayload,
		Logger:     s.log,
		Observer:   s.metrics,
		Clock:      s.now,
	})
	if err := s.table.Insert(c); err != nil {
		s.log.WithError(err).WithField("token", uint64(tok)).Error("token collision")
		nc.Close()
		return
	}
	if err := s.reactor.Register(nc.RawFD(), tok, c.Interest(), connOpts); err != nil {
		s.table.Remove(tok)
		nc.Close()
		s.metrics.AcceptFailed()
		s.log.WithError(err).WithField("remote", nc.RemoteAddr()).Warn("register connection")
		return
	}
	s.dirty = true
	s.metrics.ConnectionAccepted()
	s.log.WithFields(logrus.Fields{"token": uint64(tok), "remote": nc.RemoteAddr()}).Debug("connection accepted")
}

// allocToken hands out tokens in increasing order, skipping the listener's.
func (s *Server) allocToken() api.Token {
	for {
		tok := s.next
		s.next++
		if tok == s.listenerToken {
			continue
		}
		if _, taken := s.table.Get(tok); taken {
			continue
		}
		return tok
	}
}

// rearm re-registers c with the interest its state requires.
func (s *Server) rearm(c *protocol.Connection) {
	if err := s.reactor.Reregister(c.Conn().RawFD(), c.Token(), c.Interest(), connOpts); err != nil {
		s.log.WithError(err).WithField("token", uint64(c.Token())).Warn("re-register connection")
		s.remove(c, ReasonInternal)
	}
}

// fail logs a terminal connection error and removes the connection.
func (s *Server) fail(c *protocol.Connection, err error) {
	code := api.Classify(err)
	reason := reasonFor(err, code)
	entry := s.log.WithFields(logrus.Fields{
		"token":      uint64(c.Token()),
		"remote":     c.Conn().RemoteAddr(),
		"state":      c.State().String(),
		"error_code": code.String(),
	}).WithError(err)
	switch reason {
	case ReasonHangup:
		entry.Debug("peer went away")
	case ReasonIdle:
		entry.Info("closing idle connection")
	default:
		entry.Warn("connection failed")
	}
	s.remove(c, reason)
}

func reasonFor(err error, code api.ErrorCode) string {
	if errors.Is(err, api.ErrPeerClosed) {
		return ReasonHangup
	}
	switch code {
	case api.ErrCodeTransport:
		return ReasonTransport
	case api.ErrCodeHandshake:
		return ReasonHandshake
	case api.ErrCodeProtocol:
		return ReasonProtocol
	case api.ErrCodeTimeout:
		return ReasonIdle
	default:
		return ReasonInternal
	}
}

func (s *Server) remove(c *protocol.Connection, reason string) {
	if _, ok := s.table.Remove(c.Token()); !ok {
		return
	}
	if err := s.reactor.Deregister(c.Conn().RawFD()); err != nil && !errors.Is(err, api.ErrNotFound) {
		s.log.WithError(err).WithField("token", uint64(c.Token())).Debug("deregister connection")
	}
	if err := c.Close(); err != nil {
		s.log.WithError(err).WithField("token", uint64(c.Token())).Debug("close connection")
	}
	s.dirty = true
	s.metrics.ConnectionClosed(reason)
	s.log.WithFields(logrus.Fields{"token": uint64(c.Token()), "reason": reason}).Debug("connection removed")
}

func (s *Server) publishIfDirty() {
	if s.dirty {
		s.publish()
	}
}

func (s *Server) publish() {
	s.dirty = false
	s.stats.Store(Stats{
		Connections: s.table.Len(),
		ByState:     s.table.CountByState(),
		LastToken:   uint64(s.next - 1),
	})
}
