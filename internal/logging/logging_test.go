package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("debug", "json", &buf)
	assert.NilError(t, err)
	assert.Equal(t, l.GetLevel(), logrus.DebugLevel)

	l.WithField("token", 7).Debug("accepted")
	out := buf.String()
	assert.Check(t, is.Contains(out, `"msg":"accepted"`))
	assert.Check(t, is.Contains(out, `"token":7`))
}

func TestNewTextFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("warn", "text", &buf)
	assert.NilError(t, err)

	l.Info("hidden")
	l.Warn("shown")
	assert.Check(t, !strings.Contains(buf.String(), "hidden"))
	assert.Check(t, is.Contains(buf.String(), "shown"))
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("loud", "text", &bytes.Buffer{})
	assert.Check(t, is.ErrorContains(err, "log level"))
	_, err = New("info", "yaml", &bytes.Buffer{})
	assert.Check(t, is.ErrorContains(err, "unknown log format"))
}

func TestDiscard(t *testing.T) {
	Discard().Error("nobody hears this")
}
