// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame model, opcodes, close codes and convenience constructors.

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Opcode is the 4-bit frame type tag.
type Opcode byte

// Wire opcodes. Every other value is reserved.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

const (
	// FinBit marks the final fragment of a message.
	FinBit = 0x80
	// MaskBit marks a masked payload.
	MaskBit = 0x80
	// RsvBits are the three extension bits, which must be zero.
	RsvBits = 0x70

	// MaxControlPayloadLen bounds control frame payloads.
	MaxControlPayloadLen = 125
	// MaxFrameHeaderLen covers a 64-bit length plus a mask key.
	MaxFrameHeaderLen = 14
)

// Close status codes.
const (
	CloseNormalClosure      uint16 = 1000
	CloseGoingAway          uint16 = 1001
	CloseProtocolError      uint16 = 1002
	CloseUnsupportedData    uint16 = 1003
	CloseNoStatusRcvd       uint16 = 1005
	CloseInvalidPayloadData uint16 = 1007
	ClosePolicyViolation    uint16 = 1008
	CloseMessageTooBig      uint16 = 1009
	CloseInternalServerErr  uint16 = 1011
)

// Valid reports whether o is one of the six defined opcodes.
func (o Opcode) Valid() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

// IsControl reports whether o is a control opcode (close, ping, pong).
func (o Opcode) IsControl() bool { return o&0x8 != 0 }

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("reserved(0x%X)", byte(o))
	}
}

// Frame is one WebSocket frame. Payloads handed out by the decoder are
// already unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
}

// NewTextFrame builds a final text frame carrying s.
func NewTextFrame(s string) *Frame {
	return &Frame{Fin: true, Opcode: OpText, Payload: []byte(s)}
}

// NewBinaryFrame builds a final binary frame carrying p.
func NewBinaryFrame(p []byte) *Frame {
	return &Frame{Fin: true, Opcode: OpBinary, Payload: p}
}

// NewPongFrame answers ping with a pong carrying the same payload.
func NewPongFrame(ping *Frame) *Frame {
	return &Frame{Fin: true, Opcode: OpPong, Payload: clone(ping.Payload)}
}

// NewCloseFrame builds an unsolicited close frame with a status code and
// optional reason. The reason is truncated to fit a control frame.
func NewCloseFrame(code uint16, reason string) *Frame {
	if len(reason) > MaxControlPayloadLen-2 {
		reason = reason[:MaxControlPayloadLen-2]
	}
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p, code)
	copy(p[2:], reason)
	return &Frame{Fin: true, Opcode: OpClose, Payload: p}
}

// NewCloseReply mirrors a peer-initiated close frame.
func NewCloseReply(peer *Frame) *Frame {
	return &Frame{Fin: true, Opcode: OpClose, Payload: clone(peer.Payload)}
}

// IsClose reports whether sending f terminates the session.
func (f *Frame) IsClose() bool { return f.Opcode == OpClose }

// CloseStatus extracts the status code and reason of a close frame. ok is
// false for non-close frames and for close frames without a status code.
func (f *Frame) CloseStatus() (code uint16, reason string, ok bool) {
	if f.Opcode != OpClose || len(f.Payload) < 2 {
		return 0, "", false
	}
	return binary.BigEndian.Uint16(f.Payload), string(f.Payload[2:]), true
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame{fin=%t op=%s len=%d}", f.Fin, f.Opcode, len(f.Payload))
}

func clone(p []byte) []byte {
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
