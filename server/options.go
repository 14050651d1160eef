// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/protocol"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger sets the logger entry used by the server and its connections.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithHandler sets the application hook for data frames. The default echoes
// text frames.
func WithHandler(h protocol.Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithDebug registers the server's probes with d.
func WithDebug(d api.Debug) Option {
	return func(s *Server) {
		s.debug = d
	}
}

// WithListenerToken overrides the token the listener is registered under.
func WithListenerToken(tok api.Token) Option {
	return func(s *Server) {
		s.listenerToken = tok
	}
}

// WithMaxPayload sets the largest frame payload accepted from clients.
// Zero disables the limit.
func WithMaxPayload(n int64) Option {
	return func(s *Server) {
		s.maxPayload = n
	}
}

// WithIdleTimeout enables the idle sweep. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithPollInterval bounds how long Run blocks in a single reactor wait.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		s.pollInterval = d
	}
}

// WithMaxEvents sets the reactor batch size.
func WithMaxEvents(n int) Option {
	return func(s *Server) {
		s.maxEvents = n
	}
}

// WithBytePool sets the pool connections borrow read buffers from.
func WithBytePool(p api.BytePool) Option {
	return func(s *Server) {
		s.pool = p
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}
