// File: protocol/handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sec-WebSocket-Accept derivation and the 101 Switching Protocols response.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
)

const (
	// WebSocketGUID is the fixed magic appended to the client key.
	WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"

	ValueUpgrade   = "upgrade"
	ValueWebSocket = "websocket"
)

// DeriveAcceptKey computes the Sec-WebSocket-Accept value for clientKey:
// base64(SHA-1(clientKey + WebSocketGUID)).
func DeriveAcceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// AppendHandshakeResponse appends the 101 response carrying acceptKey to dst.
func AppendHandshakeResponse(dst []byte, acceptKey string) []byte {
	dst = append(dst, "HTTP/1.1 101 Switching Protocols\r\n"...)
	dst = append(dst, "Connection: Upgrade\r\n"...)
	dst = append(dst, "Sec-WebSocket-Accept: "...)
	dst = append(dst, acceptKey...)
	dst = append(dst, "\r\nUpgrade: websocket\r\n\r\n"...)
	return dst
}
