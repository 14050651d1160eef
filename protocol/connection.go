// File: protocol/connection.go
// Package protocol implements the per-connection WebSocket state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Connection is driven entirely by readiness events: HandleReadable and
// HandleWritable never block and never loop past a would-block. After each
// call Interest reports exactly what the reactor must watch next.

package protocol

import (
	"net/http"
	"time"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/internal/logging"
)

// ErrClosing is returned by Enqueue once a close frame has been queued.
var ErrClosing = errors.New("connection is closing")

// State is the protocol phase of a connection.
type State int

const (
	StateAwaitingHandshake State = iota
	StateHandshakeResponsePending
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting-handshake"
	case StateHandshakeResponsePending:
		return "handshake-response-pending"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ConnConfig carries the collaborators of a Connection.
type ConnConfig struct {
	Handler    Handler
	Pool       api.BytePool
	MaxPayload int64
	Logger     *logrus.Entry
	Observer   Observer
	Clock      func() time.Time
}

// byteSlicePool is used when no pool is configured.
type byteSlicePool struct{ size int }

func (p byteSlicePool) Acquire(n int) []byte {
	if n <= 0 {
		n = p.size
	}
	return make([]byte, n)
}

func (byteSlicePool) Release([]byte) {}

// Connection owns one client socket and its protocol state.
type Connection struct {
	token    api.Token
	conn     api.NetConn
	state    State
	interest api.Interest

	hs      *HandshakeAdapter // non-nil only while awaiting the handshake
	headers map[string]string

	outgoing *queue.Queue // *Frame, FIFO
	rbuf     []byte       // received, not yet decoded
	wbuf     []byte       // encoded, not yet written

	closeReceived bool // peer sent close; no further frames are processed
	closeQueued   bool // a close frame sits in outgoing
	closeFlushed  bool // a close frame has been encoded into wbuf
	responseLeft  int  // bytes of the 101 response still in wbuf

	decoder  *Decoder
	handler  Handler
	pool     api.BytePool
	observer Observer
	log      *logrus.Entry
	now      func() time.Time

	lastActive time.Time
	closed     bool
}

// NewConnection wraps an accepted socket. The connection starts awaiting
// the handshake with readable interest.
func NewConnection(tok api.Token, nc api.NetConn, cfg ConnConfig) *Connection {
	c := &Connection{
		token:    tok,
		conn:     nc,
		state:    StateAwaitingHandshake,
		interest: api.InterestReadable,
		hs:       NewHandshakeAdapter(),
		outgoing: queue.New(),
		decoder:  NewServerDecoder(cfg.MaxPayload),
		handler:  cfg.Handler,
		pool:     cfg.Pool,
		observer: cfg.Observer,
		log:      cfg.Logger,
		now:      cfg.Clock,
	}
	if c.pool == nil {
		c.pool = byteSlicePool{size: 4096}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.log = c.log.WithFields(logrus.Fields{"token": uint64(tok), "remote": nc.RemoteAddr()})
	c.lastActive = c.now()
	return c
}

// Token returns the reactor token of the connection.
func (c *Connection) Token() api.Token { return c.token }

// Conn returns the underlying socket.
func (c *Connection) Conn() api.NetConn { return c.conn }

// State returns the current protocol phase.
func (c *Connection) State() State { return c.state }

// Interest returns the readiness kinds the reactor must watch next.
func (c *Connection) Interest() api.Interest { return c.interest }

// Pending returns the number of queued, not yet encoded frames.
func (c *Connection) Pending() int { return c.outgoing.Length() }

// LastActive returns the time of the last successful read or write.
func (c *Connection) LastActive() time.Time { return c.lastActive }

// Header returns a handshake header captured from the client.
func (c *Connection) Header(name string) (string, bool) {
	if c.hs != nil {
		return c.hs.Header(name)
	}
	v, ok := c.headers[http.CanonicalHeaderKey(name)]
	return v, ok
}

// Enqueue appends f to the outgoing queue. Once a close frame has been
// queued no further frames are accepted.
func (c *Connection) Enqueue(f *Frame) error {
	if c.state == StateClosing || c.closeQueued {
		return ErrClosing
	}
	c.outgoing.Add(f)
	if f.IsClose() {
		c.closeQueued = true
	}
	c.updateInterest()
	return nil
}

// HandleReadable processes a read-readiness notification.
func (c *Connection) HandleReadable() error {
	var err error
	switch c.state {
	case StateAwaitingHandshake:
		err = c.readHandshake()
	case StateOpen:
		err = c.readFrames()
	}
	if err != nil {
		return err
	}
	c.updateInterest()
	return nil
}

// HandleWritable processes a write-readiness notification.
func (c *Connection) HandleWritable() error {
	switch c.state {
	case StateHandshakeResponsePending:
		return c.writeHandshake()
	case StateOpen:
		return c.flush()
	}
	return nil
}

// Close releases the socket. It is safe to call more than once.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = StateClosing
	return c.conn.Close()
}

func (c *Connection) readHandshake() error {
	return c.drain(func(p []byte) (bool, error) {
		upgraded, err := c.hs.Feed(p)
		if err != nil {
			c.observer.HandshakeCompleted(false)
			return true, api.WrapError(api.ErrCodeHandshake, err, "read handshake")
		}
		if !upgraded {
			return false, nil
		}
		c.headers = c.hs.Headers()
		c.rbuf = append(c.rbuf, c.hs.Leftover()...)
		c.hs = nil
		c.state = StateHandshakeResponsePending
		c.log.Debug("upgrade request received")
		return true, nil
	})
}

func (c *Connection) writeHandshake() error {
	key, ok := c.Header(HeaderSecWebSocketKey)
	if !ok || key == "" {
		c.observer.HandshakeCompleted(false)
		return api.WrapError(api.ErrCodeHandshake, ErrMissingWebSocketKey, "handshake response")
	}
	c.wbuf = AppendHandshakeResponse(c.wbuf, DeriveAcceptKey(key))
	c.responseLeft = len(c.wbuf)
	c.state = StateOpen
	if err := c.writePending(); err != nil {
		return err
	}

	// Bytes pipelined behind the handshake were already taken off the
	// socket; no further readiness edge will announce them.
	if len(c.rbuf) > 0 {
		if err := c.processFrames(); err != nil {
			return err
		}
	}
	c.updateInterest()
	return nil
}

func (c *Connection) readFrames() error {
	return c.drain(func(p []byte) (bool, error) {
		c.rbuf = append(c.rbuf, p...)
		if err := c.processFrames(); err != nil {
			return true, err
		}
		return c.closeReceived, nil
	})
}

// processFrames decodes and dispatches every complete frame in rbuf.
func (c *Connection) processFrames() error {
	consumed := 0
	for !c.closeReceived {
		f, n, err := c.decoder.Decode(c.rbuf[consumed:])
		if errors.Is(err, ErrTruncated) {
			break
		}
		if err != nil {
			return api.WrapError(api.ErrCodeProtocol, err, "decode frame")
		}
		consumed += n
		c.dispatch(f)
	}
	if c.closeReceived {
		c.rbuf = nil
		return nil
	}
	if consumed > 0 {
		c.rbuf = append(c.rbuf[:0], c.rbuf[consumed:]...)
	}
	return nil
}

func (c *Connection) dispatch(f *Frame) {
	c.observer.FrameReceived(f.Opcode)
	switch f.Opcode {
	case OpPing:
		c.enqueue(NewPongFrame(f))
	case OpClose:
		code, reason, _ := f.CloseStatus()
		c.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Debug("close received")
		c.enqueue(NewCloseReply(f))
		c.closeReceived = true
	case OpPong:
	default:
		if c.handler == nil {
			return
		}
		for _, reply := range c.handler.HandleFrame(c, f) {
			if reply != nil {
				c.enqueue(reply)
			}
		}
	}
}

func (c *Connection) enqueue(f *Frame) {
	if err := c.Enqueue(f); err != nil {
		c.log.WithField("frame", f.String()).Debug("dropping frame queued after close")
	}
}

// flush encodes every queued frame in FIFO order and writes as much as the
// socket accepts.
func (c *Connection) flush() error {
	for c.outgoing.Length() > 0 {
		f := c.outgoing.Remove().(*Frame)
		c.wbuf = AppendFrame(c.wbuf, f)
		c.observer.FrameSent(f.Opcode)
		if f.IsClose() {
			c.closeFlushed = true
			for c.outgoing.Length() > 0 {
				c.outgoing.Remove()
			}
		}
	}
	if err := c.writePending(); err != nil {
		return err
	}
	if len(c.wbuf) == 0 && c.closeFlushed {
		c.state = StateClosing
		if err := c.conn.CloseWrite(); err != nil {
			c.log.WithError(err).Debug("shutdown write side")
		}
		c.log.Debug("close reply flushed")
	}
	c.updateInterest()
	return nil
}

// writePending writes wbuf until it is empty or the socket would block. The
// handshake counts as complete once every byte of the 101 response is out.
func (c *Connection) writePending() error {
	written := 0
	for written < len(c.wbuf) {
		n, err := c.conn.Write(c.wbuf[written:])
		if n > 0 {
			written += n
			c.lastActive = c.now()
		}
		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) {
				break
			}
			c.settleResponse(written, true)
			return api.WrapError(api.ErrCodeTransport, err, "write")
		}
		if n == 0 {
			break
		}
	}
	c.wbuf = append(c.wbuf[:0], c.wbuf[written:]...)
	c.settleResponse(written, false)
	return nil
}

// settleResponse accounts written bytes against the 101 response and reports
// the handshake outcome once it is known.
func (c *Connection) settleResponse(written int, failed bool) {
	if c.responseLeft == 0 {
		return
	}
	c.responseLeft -= min(written, c.responseLeft)
	switch {
	case c.responseLeft == 0:
		c.observer.HandshakeCompleted(true)
		c.log.Debug("handshake complete")
	case failed:
		c.responseLeft = 0
		c.observer.HandshakeCompleted(false)
	}
}

// drain reads until the socket would block, handing every chunk to consume.
// consume copies what it keeps; returning stop ends the loop early.
func (c *Connection) drain(consume func(p []byte) (stop bool, err error)) error {
	buf := c.pool.Acquire(0)
	defer c.pool.Release(buf)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.lastActive = c.now()
			stop, cerr := consume(buf[:n])
			if cerr != nil {
				return cerr
			}
			if stop {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) {
				return nil
			}
			return api.WrapError(api.ErrCodeTransport, err, "read")
		}
		if n == 0 {
			return nil
		}
	}
}

// updateInterest derives the reactor interest from the current state.
func (c *Connection) updateInterest() {
	switch c.state {
	case StateAwaitingHandshake:
		c.interest = api.InterestReadable
	case StateHandshakeResponsePending:
		c.interest = api.InterestWritable
	case StateOpen:
		if len(c.wbuf) > 0 || c.outgoing.Length() > 0 {
			c.interest = api.InterestWritable
		} else {
			c.interest = api.InterestReadable
		}
	case StateClosing:
		c.interest = api.InterestHangup
	}
}
