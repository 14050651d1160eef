package reactor

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestTimeoutMillis(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{-time.Second, -1},
		{0, 0},
		{time.Microsecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{250 * time.Millisecond, 250},
	}
	for _, tc := range cases {
		assert.Equal(t, timeoutMillis(tc.in), tc.want, "timeout %v", tc.in)
	}
}
