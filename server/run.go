// File: server/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The event loop: wait for readiness, dispatch, sweep.

package server

import (
	"context"

	"github.com/pkg/errors"

	"github.com/momentics/wsreactor/api"
)

// Run drives the server until ctx is cancelled or the reactor fails. Every
// connection and the listener are closed before Run returns.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	events := make([]api.Event, s.maxEvents)
	s.log.WithField("addr", s.ln.Addr()).Info("serving websocket connections")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("shutting down")
			return nil
		default:
		}

		n, err := s.reactor.Wait(events, s.pollInterval)
		if err != nil {
			return errors.Wrap(err, "reactor wait")
		}
		for i := 0; i < n; i++ {
			s.OnReady(events[i])
		}
		s.Sweep(s.now())
	}
}
