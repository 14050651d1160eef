// File: protocol/frame_codec.go
// Package protocol implements the WebSocket frame codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Decoding works on a byte buffer holding everything received so far and
// keeps no state between calls: an incomplete frame yields ErrTruncated and
// the caller retries once more bytes have arrived. Encoding produces
// server-to-client frames, which are never masked.

package protocol

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// DefaultMaxFramePayload is the payload limit applied by servers unless
// configured otherwise.
const DefaultMaxFramePayload = 1 << 20 // 1 MiB

// Decode errors.
var (
	ErrTruncated     = errors.New("frame truncated")
	ErrInvalidOpcode = errors.New("invalid opcode")
	ErrMissingMask   = errors.New("client frame is not masked")
	ErrReservedBits  = errors.New("reserved bits set without negotiated extension")
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum allowed size")

	ErrInvalidControlFrame = errors.New("invalid control frame")
)

// Decoder parses frames from a byte buffer.
type Decoder struct {
	// RequireMask rejects unmasked frames with ErrMissingMask. Servers
	// always set it.
	RequireMask bool
	// MaxPayload rejects frames declaring a longer payload. Zero disables
	// the check.
	MaxPayload int64
}

// NewServerDecoder returns a decoder for client-to-server traffic.
func NewServerDecoder(maxPayload int64) *Decoder {
	return &Decoder{RequireMask: true, MaxPayload: maxPayload}
}

// Decode parses one frame from the front of raw. It returns the frame and
// the number of bytes it occupied. The returned payload is a fresh, unmasked
// copy and does not alias raw.
func (d *Decoder) Decode(raw []byte) (*Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, ErrTruncated
	}
	if raw[0]&RsvBits != 0 {
		return nil, 0, ErrReservedBits
	}
	fin := raw[0]&FinBit != 0
	opcode := Opcode(raw[0] & 0x0F)
	if !opcode.Valid() {
		return nil, 0, errors.Wrapf(ErrInvalidOpcode, "opcode 0x%X", byte(opcode))
	}
	masked := raw[1]&MaskBit != 0
	if d.RequireMask && !masked {
		return nil, 0, ErrMissingMask
	}

	length := uint64(raw[1] & 0x7F)
	offset := 2
	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, ErrTruncated
		}
		length = uint64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, ErrTruncated
		}
		length = binary.BigEndian.Uint64(raw[offset:])
		offset += 8
	}

	// Control frames are never fragmented and carry at most 125 bytes. A
	// close body is empty or starts with a two-byte status code.
	if opcode.IsControl() {
		switch {
		case !fin:
			return nil, 0, errors.Wrapf(ErrInvalidControlFrame, "fragmented %s", opcode)
		case length > MaxControlPayloadLen:
			return nil, 0, errors.Wrapf(ErrInvalidControlFrame, "%s payload of %d bytes", opcode, length)
		case opcode == OpClose && length == 1:
			return nil, 0, errors.Wrap(ErrInvalidControlFrame, "close payload of 1 byte")
		}
	}

	// The top bit of a 64-bit length must be zero; anything that cannot be
	// addressed is too large regardless of MaxPayload.
	if length > uint64(math.MaxInt-MaxFrameHeaderLen) {
		return nil, 0, ErrFrameTooLarge
	}
	if d.MaxPayload > 0 && length > uint64(d.MaxPayload) {
		return nil, 0, errors.Wrapf(ErrFrameTooLarge, "declared %d, limit %d", length, d.MaxPayload)
	}

	var maskKey [4]byte
	if masked {
		if len(raw) < offset+4 {
			return nil, 0, ErrTruncated
		}
		copy(maskKey[:], raw[offset:offset+4])
		offset += 4
	}

	total := offset + int(length)
	if len(raw) < total {
		return nil, 0, ErrTruncated
	}

	payload := make([]byte, length)
	copy(payload, raw[offset:total])
	if masked {
		unmaskInPlace(payload, maskKey)
	}

	return &Frame{
		Fin:     fin,
		Opcode:  opcode,
		Payload: payload,
	}, total, nil
}

// Encode serializes f as an unmasked server frame.
func Encode(f *Frame) []byte {
	return AppendFrame(make([]byte, 0, MaxFrameHeaderLen+len(f.Payload)), f)
}

// AppendFrame appends the unmasked encoding of f to dst.
func AppendFrame(dst []byte, f *Frame) []byte {
	dst = appendHeader(dst, f, 0)
	return append(dst, f.Payload...)
}

// MaskFrame encodes f the way a client would, masking the payload with key.
// Servers never send masked frames; this exists for clients and tests.
func MaskFrame(f *Frame, key [4]byte) []byte {
	out := appendHeader(make([]byte, 0, MaxFrameHeaderLen+len(f.Payload)), f, MaskBit)
	out = append(out, key[:]...)
	start := len(out)
	out = append(out, f.Payload...)
	unmaskInPlace(out[start:], key)
	return out
}

// appendHeader writes the fin/opcode byte and the three-tier length field.
func appendHeader(dst []byte, f *Frame, maskBit byte) []byte {
	var b0 byte
	if f.Fin {
		b0 = FinBit
	}
	b0 |= byte(f.Opcode) & 0x0F

	plen := len(f.Payload)
	switch {
	case plen <= 125:
		dst = append(dst, b0, maskBit|byte(plen))
	case plen <= 0xFFFF:
		dst = append(dst, b0, maskBit|126, 0, 0)
		binary.BigEndian.PutUint16(dst[len(dst)-2:], uint16(plen))
	default:
		dst = append(dst, b0, maskBit|127, 0, 0, 0, 0, 0, 0, 0, 0)
		binary.BigEndian.PutUint64(dst[len(dst)-8:], uint64(plen))
	}
	return dst
}

// unmaskInPlace applies XOR on payload using maskKey. Masking and unmasking
// are the same operation.
func unmaskInPlace(buf []byte, key [4]byte) {
	for i := 0; i < len(buf); i++ {
		buf[i] ^= key[i%4]
	}
}
