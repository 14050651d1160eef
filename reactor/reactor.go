// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package reactor provides the readiness poller behind the server's event
// loop. Registrations carry an api.Token that is handed back with every
// event, so the loop never needs a descriptor-to-connection lookup.

package reactor

import (
	"time"

	"github.com/momentics/wsreactor/api"
)

// New constructs the reactor for the running platform.
func New() (api.Reactor, error) {
	return newReactor()
}

// timeoutMillis converts a Wait timeout to the poller's millisecond
// argument. Negative durations block indefinitely; positive durations
// below a millisecond round up so they never degrade into a busy poll.
func timeoutMillis(d time.Duration) int {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
