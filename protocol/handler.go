// File: protocol/handler.go
// Package protocol defines the application hook invoked for data frames.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

// Handler processes data frames (text, binary, continuation) received on an
// open connection and returns the frames to send back, in order. Control
// frames never reach a Handler.
type Handler interface {
	HandleFrame(c *Connection, f *Frame) []*Frame
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c *Connection, f *Frame) []*Frame

// HandleFrame calls fn.
func (fn HandlerFunc) HandleFrame(c *Connection, f *Frame) []*Frame {
	return fn(c, f)
}

// EchoHandler echoes text frames and ignores everything else.
type EchoHandler struct{}

// HandleFrame implements Handler.
func (EchoHandler) HandleFrame(_ *Connection, f *Frame) []*Frame {
	if f.Opcode != OpText {
		return nil
	}
	return []*Frame{{Fin: true, Opcode: OpText, Payload: clone(f.Payload)}}
}

// Observer receives per-frame and handshake notifications, typically to
// feed metrics.
type Observer interface {
	FrameReceived(op Opcode)
	FrameSent(op Opcode)
	HandshakeCompleted(ok bool)
}

type nopObserver struct{}

func (nopObserver) FrameReceived(Opcode)    {}
func (nopObserver) FrameSent(Opcode)        {}
func (nopObserver) HandshakeCompleted(bool) {}
