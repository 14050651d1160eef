// File: server/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "github.com/momentics/wsreactor/protocol"

// Close reasons reported to Metrics.ConnectionClosed.
const (
	ReasonClosed    = "closed"
	ReasonHangup    = "hangup"
	ReasonIdle      = "idle"
	ReasonShutdown  = "shutdown"
	ReasonTransport = "transport"
	ReasonHandshake = "handshake"
	ReasonProtocol  = "protocol"
	ReasonInternal  = "internal"
)

// Metrics receives server lifecycle counters in addition to the per-frame
// notifications connections emit.
type Metrics interface {
	protocol.Observer
	ConnectionAccepted()
	ConnectionClosed(reason string)
	AcceptFailed()
}

type nopMetrics struct{}

func (nopMetrics) FrameReceived(protocol.Opcode) {}
func (nopMetrics) FrameSent(protocol.Opcode)     {}
func (nopMetrics) HandshakeCompleted(bool)       {}
func (nopMetrics) ConnectionAccepted()           {}
func (nopMetrics) ConnectionClosed(string)       {}
func (nopMetrics) AcceptFailed()                 {}
