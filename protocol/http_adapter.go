// File: protocol/http_adapter.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HandshakeAdapter accumulates the client's upgrade request as it trickles
// in from a non-blocking socket and hands the parsed header map over once
// the request is complete.

package protocol

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// MaxHandshakeHeaderSize bounds the request head a client may send.
const MaxHandshakeHeaderSize = 8192

// Handshake errors.
var (
	ErrNotUpgrade          = errors.New("request is not a websocket upgrade")
	ErrMissingWebSocketKey = errors.New("missing Sec-WebSocket-Key header")
	ErrHandshakeTooLarge   = errors.New("handshake headers too large")
	ErrMalformedRequest    = errors.New("malformed handshake request")
)

var headerTerminator = []byte("\r\n\r\n")

// HandshakeAdapter is the incremental request reader for a connection
// awaiting its handshake. It owns the header map until Headers hands it off.
type HandshakeAdapter struct {
	buf      []byte
	headers  map[string]string
	leftover []byte
	done     bool
}

// NewHandshakeAdapter returns an empty adapter.
func NewHandshakeAdapter() *HandshakeAdapter {
	return &HandshakeAdapter{}
}

// Feed appends p to the pending request. It returns true once the complete
// request head has arrived and describes a websocket upgrade.
func (a *HandshakeAdapter) Feed(p []byte) (bool, error) {
	if a.done {
		a.leftover = append(a.leftover, p...)
		return true, nil
	}
	a.buf = append(a.buf, p...)

	idx := bytes.Index(a.buf, headerTerminator)
	if idx < 0 {
		if len(a.buf) > MaxHandshakeHeaderSize {
			return false, ErrHandshakeTooLarge
		}
		return false, nil
	}
	end := idx + len(headerTerminator)
	if end > MaxHandshakeHeaderSize {
		return false, ErrHandshakeTooLarge
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(a.buf[:end])))
	if err != nil {
		return false, errors.Wrap(ErrMalformedRequest, err.Error())
	}

	headers := make(map[string]string, len(req.Header))
	for k, vs := range req.Header {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}
	// net/http lifts Host out of the header map.
	if req.Host != "" {
		headers["Host"] = req.Host
	}
	if !containsToken(req.Header.Values(HeaderConnection), ValueUpgrade) ||
		!containsToken(req.Header.Values(HeaderUpgrade), ValueWebSocket) {
		return false, ErrNotUpgrade
	}

	a.headers = headers
	if end < len(a.buf) {
		a.leftover = append(a.leftover, a.buf[end:]...)
	}
	a.buf = nil
	a.done = true
	return true, nil
}

// Header returns a captured header value. Lookup is case-insensitive.
func (a *HandshakeAdapter) Header(name string) (string, bool) {
	v, ok := a.headers[http.CanonicalHeaderKey(name)]
	return v, ok
}

// Headers hands off the captured header map. The adapter forgets it.
func (a *HandshakeAdapter) Headers() map[string]string {
	h := a.headers
	a.headers = nil
	return h
}

// Leftover returns bytes received after the request head, typically frames
// a client pipelined right behind its handshake.
func (a *HandshakeAdapter) Leftover() []byte {
	l := a.leftover
	a.leftover = nil
	return l
}

// containsToken reports whether any comma-separated element of values
// equals token, case-insensitively.
func containsToken(values []string, token string) bool {
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(p), token) {
				return true
			}
		}
	}
	return false
}
