package protocol_test

import (
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/fake"
	"github.com/momentics/wsreactor/protocol"
)

var testMask = [4]byte{0x37, 0xFA, 0x21, 0x3D}

const expectedResponse = "HTTP/1.1 101 Switching Protocols\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n" +
	"Upgrade: websocket\r\n\r\n"

type countingObserver struct {
	received map[protocol.Opcode]int
	sent     map[protocol.Opcode]int
	ok, bad  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{received: map[protocol.Opcode]int{}, sent: map[protocol.Opcode]int{}}
}

func (o *countingObserver) FrameReceived(op protocol.Opcode) { o.received[op]++ }
func (o *countingObserver) FrameSent(op protocol.Opcode)     { o.sent[op]++ }
func (o *countingObserver) HandshakeCompleted(ok bool) {
	if ok {
		o.ok++
	} else {
		o.bad++
	}
}

func newConn(obs protocol.Observer) (*protocol.Connection, *fake.NetConn) {
	nc := fake.NewNetConn(7)
	c := protocol.NewConnection(1, nc, protocol.ConnConfig{
		Handler:  protocol.EchoHandler{},
		Observer: obs,
	})
	return c, nc
}

// openConn returns a connection that completed its handshake, with the
// response already taken off the fake socket.
func openConn(t *testing.T) (*protocol.Connection, *fake.NetConn) {
	t.Helper()
	c, nc := newConn(nil)
	nc.Feed([]byte(upgradeRequest(sampleKey)))
	assert.NilError(t, c.HandleReadable())
	assert.NilError(t, c.HandleWritable())
	assert.Equal(t, string(nc.TakeWritten()), expectedResponse)
	return c, nc
}

func clientFrame(f *protocol.Frame) []byte {
	return protocol.MaskFrame(f, testMask)
}

// decodeServerFrames parses unmasked server output.
func decodeServerFrames(t *testing.T, raw []byte) []*protocol.Frame {
	t.Helper()
	dec := &protocol.Decoder{}
	var out []*protocol.Frame
	for len(raw) > 0 {
		f, n, err := dec.Decode(raw)
		assert.NilError(t, err)
		out = append(out, f)
		raw = raw[n:]
	}
	return out
}

func TestConnectionHandshake(t *testing.T) {
	obs := newCountingObserver()
	c, nc := newConn(obs)
	assert.Equal(t, c.State(), protocol.StateAwaitingHandshake)
	assert.Equal(t, c.Interest(), api.InterestReadable)

	nc.Feed([]byte(upgradeRequest(sampleKey)))
	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.State(), protocol.StateHandshakeResponsePending)
	assert.Equal(t, c.Interest(), api.InterestWritable)
	assert.Check(t, is.Len(nc.Written(), 0))

	assert.NilError(t, c.HandleWritable())
	assert.Equal(t, string(nc.Written()), expectedResponse)
	assert.Equal(t, c.State(), protocol.StateOpen)
	assert.Equal(t, c.Interest(), api.InterestReadable)
	assert.Equal(t, obs.ok, 1)

	key, ok := c.Header("Sec-WebSocket-Key")
	assert.Check(t, ok)
	assert.Equal(t, key, sampleKey)
}

func TestConnectionHandshakeAcrossReads(t *testing.T) {
	c, nc := newConn(nil)
	req := upgradeRequest(sampleKey)

	nc.Feed([]byte(req[:20]))
	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.State(), protocol.StateAwaitingHandshake)
	assert.Equal(t, c.Interest(), api.InterestReadable)

	nc.Feed([]byte(req[20:]))
	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.State(), protocol.StateHandshakeResponsePending)
}

func TestConnectionNotUpgrade(t *testing.T) {
	obs := newCountingObserver()
	c, nc := newConn(obs)
	nc.Feed([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	err := c.HandleReadable()
	assert.Check(t, is.ErrorIs(err, protocol.ErrNotUpgrade))
	assert.Equal(t, api.Classify(err), api.ErrCodeHandshake)
	assert.Equal(t, obs.bad, 1)
}

func TestConnectionMissingKey(t *testing.T) {
	c, nc := newConn(nil)
	nc.Feed([]byte(upgradeRequest("")))
	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.State(), protocol.StateHandshakeResponsePending)

	err := c.HandleWritable()
	assert.Check(t, is.ErrorIs(err, protocol.ErrMissingWebSocketKey))
	assert.Equal(t, api.Classify(err), api.ErrCodeHandshake)
	assert.Check(t, is.Len(nc.Written(), 0), "no partial response")
}

func TestConnectionEchoText(t *testing.T) {
	c, nc := openConn(t)
	nc.Feed(clientFrame(protocol.NewTextFrame("hello")))

	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.Pending(), 1)
	assert.Equal(t, c.Interest(), api.InterestWritable)

	assert.NilError(t, c.HandleWritable())
	frames := decodeServerFrames(t, nc.TakeWritten())
	assert.Assert(t, is.Len(frames, 1))
	assert.Equal(t, frames[0].Opcode, protocol.OpText)
	assert.Equal(t, string(frames[0].Payload), "hello")
	assert.Equal(t, c.Pending(), 0)
	assert.Equal(t, c.Interest(), api.InterestReadable)
	assert.Equal(t, c.State(), protocol.StateOpen)
}

func TestConnectionFramesFlushInOrder(t *testing.T) {
	c, nc := openConn(t)
	for _, s := range []string{"one", "two", "three"} {
		nc.Feed(clientFrame(protocol.NewTextFrame(s)))
	}
	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.Pending(), 3)
	assert.NilError(t, c.HandleWritable())

	var got []string
	for _, f := range decodeServerFrames(t, nc.TakeWritten()) {
		got = append(got, string(f.Payload))
	}
	assert.DeepEqual(t, got, []string{"one", "two", "three"})
}

func TestConnectionPingEnqueuesPong(t *testing.T) {
	c, nc := openConn(t)
	nc.Feed(clientFrame(&protocol.Frame{Fin: true, Opcode: protocol.OpPing, Payload: []byte("beat")}))

	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.Pending(), 1)
	assert.NilError(t, c.HandleWritable())

	frames := decodeServerFrames(t, nc.TakeWritten())
	assert.Assert(t, is.Len(frames, 1))
	assert.Equal(t, frames[0].Opcode, protocol.OpPong)
	assert.Equal(t, string(frames[0].Payload), "beat")
}

func TestConnectionCloseHandshake(t *testing.T) {
	c, nc := openConn(t)
	closeFrame := protocol.NewCloseFrame(protocol.CloseNormalClosure, "bye")
	nc.Feed(clientFrame(closeFrame))
	nc.Feed(clientFrame(protocol.NewTextFrame("after close")))

	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.Pending(), 1, "frames after close are not processed")
	assert.Equal(t, c.Interest(), api.InterestWritable)
	assert.Equal(t, c.State(), protocol.StateOpen)

	assert.NilError(t, c.HandleWritable())
	frames := decodeServerFrames(t, nc.TakeWritten())
	assert.Assert(t, is.Len(frames, 1))
	assert.Check(t, frames[0].IsClose())
	assert.DeepEqual(t, frames[0].Payload, closeFrame.Payload)

	assert.Equal(t, c.State(), protocol.StateClosing)
	assert.Equal(t, c.Interest(), api.InterestHangup)
	assert.Check(t, nc.WriteClosed())
	assert.Check(t, !nc.Closed(), "teardown belongs to the owner")
}

func TestConnectionBinaryAndPongProduceNoReply(t *testing.T) {
	c, nc := openConn(t)
	nc.Feed(clientFrame(protocol.NewBinaryFrame([]byte{1, 2, 3})))
	nc.Feed(clientFrame(&protocol.Frame{Fin: true, Opcode: protocol.OpPong}))
	nc.Feed(clientFrame(&protocol.Frame{Fin: false, Opcode: protocol.OpContinuation, Payload: []byte("x")}))

	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.Pending(), 0)
	assert.Equal(t, c.Interest(), api.InterestReadable)
}

func TestConnectionCustomHandler(t *testing.T) {
	nc := fake.NewNetConn(3)
	c := protocol.NewConnection(2, nc, protocol.ConnConfig{
		Handler: protocol.HandlerFunc(func(_ *protocol.Connection, f *protocol.Frame) []*protocol.Frame {
			if f.Opcode != protocol.OpBinary {
				return nil
			}
			return []*protocol.Frame{protocol.NewTextFrame("got binary"), nil, protocol.NewTextFrame("done")}
		}),
	})
	nc.Feed([]byte(upgradeRequest(sampleKey)))
	assert.NilError(t, c.HandleReadable())
	assert.NilError(t, c.HandleWritable())
	nc.TakeWritten()

	nc.Feed(clientFrame(protocol.NewBinaryFrame([]byte{0xFF})))
	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.Pending(), 2)
}

func TestConnectionTruncatedFrameWaitsForMoreBytes(t *testing.T) {
	c, nc := openConn(t)
	raw := clientFrame(protocol.NewTextFrame("split across reads"))

	nc.Feed(raw[:5])
	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.Pending(), 0)
	assert.Equal(t, c.Interest(), api.InterestReadable)

	nc.Feed(raw[5:])
	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.Pending(), 1)
}

func TestConnectionPipelinedFrameAfterHandshake(t *testing.T) {
	c, nc := newConn(nil)
	nc.Feed(append([]byte(upgradeRequest(sampleKey)), clientFrame(protocol.NewTextFrame("early"))...))

	assert.NilError(t, c.HandleReadable())
	assert.Equal(t, c.State(), protocol.StateHandshakeResponsePending)

	assert.NilError(t, c.HandleWritable())
	assert.Equal(t, c.State(), protocol.StateOpen)
	assert.Equal(t, string(nc.TakeWritten()), expectedResponse)
	assert.Equal(t, c.Pending(), 1)
	assert.Equal(t, c.Interest(), api.InterestWritable)

	assert.NilError(t, c.HandleWritable())
	frames := decodeServerFrames(t, nc.TakeWritten())
	assert.Assert(t, is.Len(frames, 1))
	assert.Equal(t, string(frames[0].Payload), "early")
}

func TestConnectionPartialWrite(t *testing.T) {
	c, nc := openConn(t)
	nc.Feed(clientFrame(protocol.NewTextFrame("a longer reply")))
	assert.NilError(t, c.HandleReadable())

	nc.SetWriteBudget(4)
	assert.NilError(t, c.HandleWritable())
	assert.Equal(t, c.Interest(), api.InterestWritable)
	assert.Check(t, is.Len(nc.Written(), 4))

	nc.SetWriteBudget(-1)
	assert.NilError(t, c.HandleWritable())
	assert.Equal(t, c.Interest(), api.InterestReadable)
	frames := decodeServerFrames(t, nc.TakeWritten())
	assert.Assert(t, is.Len(frames, 1))
	assert.Equal(t, string(frames[0].Payload), "a longer reply")
}

func TestConnectionPartialCloseWriteStaysOpen(t *testing.T) {
	c, nc := openConn(t)
	nc.Feed(clientFrame(protocol.NewCloseFrame(protocol.CloseNormalClosure, "")))
	assert.NilError(t, c.HandleReadable())

	nc.SetWriteBudget(1)
	assert.NilError(t, c.HandleWritable())
	assert.Equal(t, c.State(), protocol.StateOpen, "close reply not yet flushed")
	assert.Equal(t, c.Interest(), api.InterestWritable)

	nc.SetWriteBudget(-1)
	assert.NilError(t, c.HandleWritable())
	assert.Equal(t, c.State(), protocol.StateClosing)
}

func TestConnectionTransportErrors(t *testing.T) {
	boom := errors.New("connection reset by peer")

	c, nc := newConn(nil)
	nc.SetReadError(boom)
	err := c.HandleReadable()
	assert.Check(t, is.ErrorIs(err, boom))
	assert.Equal(t, api.Classify(err), api.ErrCodeTransport)

	c, nc = openConn(t)
	nc.HangUp()
	err = c.HandleReadable()
	assert.Check(t, is.ErrorIs(err, api.ErrPeerClosed))
	assert.Equal(t, api.Classify(err), api.ErrCodeTransport)

	c, nc = openConn(t)
	nc.Feed(clientFrame(protocol.NewTextFrame("x")))
	assert.NilError(t, c.HandleReadable())
	nc.SetWriteError(boom)
	err = c.HandleWritable()
	assert.Check(t, is.ErrorIs(err, boom))
	assert.Equal(t, api.Classify(err), api.ErrCodeTransport)
}

func TestConnectionMalformedPeerIsProtocolError(t *testing.T) {
	c, nc := openConn(t)
	nc.Feed([]byte{0x81, 0x02, 'h', 'i'}) // unmasked
	err := c.HandleReadable()
	assert.Check(t, is.ErrorIs(err, protocol.ErrMissingMask))
	assert.Equal(t, api.Classify(err), api.ErrCodeProtocol)

	c, nc = openConn(t)
	nc.Feed([]byte{0x83, 0x80, 0, 0, 0, 0})
	err = c.HandleReadable()
	assert.Check(t, is.ErrorIs(err, protocol.ErrInvalidOpcode))
	assert.Equal(t, api.Classify(err), api.ErrCodeProtocol)
	assert.Check(t, is.Len(nc.Written(), 0), "no close frame for malformed peers")
}

func TestConnectionInvalidControlFrameIsProtocolError(t *testing.T) {
	cases := []struct {
		name  string
		frame *protocol.Frame
	}{
		{"ping over 125 bytes", &protocol.Frame{Fin: true, Opcode: protocol.OpPing, Payload: make([]byte, 200)}},
		{"fragmented ping", &protocol.Frame{Opcode: protocol.OpPing, Payload: []byte{1}}},
		{"pong over 125 bytes", &protocol.Frame{Fin: true, Opcode: protocol.OpPong, Payload: make([]byte, 126)}},
		{"one-byte close", &protocol.Frame{Fin: true, Opcode: protocol.OpClose, Payload: []byte{3}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, nc := openConn(t)
			nc.Feed(clientFrame(tc.frame))
			err := c.HandleReadable()
			assert.Check(t, is.ErrorIs(err, protocol.ErrInvalidControlFrame))
			assert.Equal(t, api.Classify(err), api.ErrCodeProtocol)
			assert.Equal(t, c.Pending(), 0, "nothing mirrored back")
			assert.Check(t, is.Len(nc.Written(), 0))
		})
	}
}

func TestConnectionMaxSizePingIsAnswered(t *testing.T) {
	c, nc := openConn(t)
	payload := make([]byte, protocol.MaxControlPayloadLen)
	nc.Feed(clientFrame(&protocol.Frame{Fin: true, Opcode: protocol.OpPing, Payload: payload}))
	assert.NilError(t, c.HandleReadable())
	assert.NilError(t, c.HandleWritable())

	frames := decodeServerFrames(t, nc.TakeWritten())
	assert.Assert(t, is.Len(frames, 1))
	assert.Equal(t, frames[0].Opcode, protocol.OpPong)
	assert.Check(t, is.Len(frames[0].Payload, protocol.MaxControlPayloadLen))
}

func TestConnectionHandshakeWriteFailureNotCountedAsSuccess(t *testing.T) {
	obs := newCountingObserver()
	c, nc := newConn(obs)
	nc.Feed([]byte(upgradeRequest(sampleKey)))
	assert.NilError(t, c.HandleReadable())

	nc.SetWriteError(errors.New("broken pipe"))
	err := c.HandleWritable()
	assert.Equal(t, api.Classify(err), api.ErrCodeTransport)
	assert.Equal(t, obs.ok, 0)
	assert.Equal(t, obs.bad, 1)
}

func TestConnectionHandshakeCountedOnceResponseIsOut(t *testing.T) {
	obs := newCountingObserver()
	c, nc := newConn(obs)
	nc.Feed([]byte(upgradeRequest(sampleKey)))
	assert.NilError(t, c.HandleReadable())

	nc.SetWriteBudget(10)
	assert.NilError(t, c.HandleWritable())
	assert.Equal(t, c.Interest(), api.InterestWritable)
	assert.Equal(t, obs.ok, 0)

	nc.SetWriteBudget(-1)
	assert.NilError(t, c.HandleWritable())
	assert.Equal(t, string(nc.Written()), expectedResponse)
	assert.Equal(t, obs.ok, 1)
	assert.Equal(t, obs.bad, 0)
}

func TestConnectionEnqueueAfterClose(t *testing.T) {
	c, _ := openConn(t)
	assert.NilError(t, c.Enqueue(protocol.NewCloseFrame(protocol.CloseGoingAway, "")))
	assert.Check(t, is.ErrorIs(c.Enqueue(protocol.NewTextFrame("late")), protocol.ErrClosing))
	assert.Equal(t, c.Pending(), 1)
}

func TestConnectionObserverCounts(t *testing.T) {
	obs := newCountingObserver()
	c, nc := newConn(obs)
	nc.Feed([]byte(upgradeRequest(sampleKey)))
	assert.NilError(t, c.HandleReadable())
	assert.NilError(t, c.HandleWritable())

	nc.Feed(clientFrame(protocol.NewTextFrame("a")))
	nc.Feed(clientFrame(&protocol.Frame{Fin: true, Opcode: protocol.OpPing}))
	assert.NilError(t, c.HandleReadable())
	assert.NilError(t, c.HandleWritable())

	assert.Equal(t, obs.received[protocol.OpText], 1)
	assert.Equal(t, obs.received[protocol.OpPing], 1)
	assert.Equal(t, obs.sent[protocol.OpText], 1)
	assert.Equal(t, obs.sent[protocol.OpPong], 1)
}
