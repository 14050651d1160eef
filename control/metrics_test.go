package control

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/momentics/wsreactor/protocol"
)

func TestMetricsConnectionLifecycle(t *testing.T) {
	m := NewMetrics()
	m.ConnectionAccepted()
	m.ConnectionAccepted()
	m.ConnectionClosed("hangup")
	m.AcceptFailed()

	assert.Equal(t, testutil.ToFloat64(m.active), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.accepted), 2.0)
	assert.Equal(t, testutil.ToFloat64(m.acceptErrors), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.closed.WithLabelValues("hangup")), 1.0)
}

func TestMetricsFrames(t *testing.T) {
	m := NewMetrics()
	m.FrameReceived(protocol.OpText)
	m.FrameReceived(protocol.OpText)
	m.FrameReceived(protocol.OpPing)
	m.FrameSent(protocol.OpPong)
	m.HandshakeCompleted(true)
	m.HandshakeCompleted(false)

	assert.Equal(t, testutil.ToFloat64(m.framesReceived.WithLabelValues(protocol.OpText.String())), 2.0)
	assert.Equal(t, testutil.ToFloat64(m.framesReceived.WithLabelValues(protocol.OpPing.String())), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.framesSent.WithLabelValues(protocol.OpPong.String())), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.handshakes.WithLabelValues("ok")), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.handshakes.WithLabelValues("failed")), 1.0)
	assert.Equal(t, testutil.CollectAndCount(m.framesReceived), 2)
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.ConnectionAccepted()
	assert.Equal(t, testutil.ToFloat64(b.accepted), 0.0)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ConnectionAccepted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, rec.Code, http.StatusOK)
	body, err := io.ReadAll(rec.Body)
	assert.NilError(t, err)
	assert.Check(t, is.Contains(string(body), "wsreactor_connections_accepted_total 1"))
	assert.Check(t, strings.Contains(string(body), "go_goroutines"))
}
