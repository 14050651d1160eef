package pool_test

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/momentics/wsreactor/pool"
)

func TestBytePoolAcquireLength(t *testing.T) {
	bp := pool.NewBytePool(128)
	b := bp.Acquire(64)
	assert.Equal(t, len(b), 64)
	assert.Assert(t, cap(b) >= 128)
}

func TestBytePoolDefaultSize(t *testing.T) {
	bp := pool.NewBytePool(0)
	assert.Equal(t, bp.Size(), pool.DefaultChunkSize)
	assert.Equal(t, len(bp.Acquire(0)), pool.DefaultChunkSize)
}

func TestBytePoolGrowsForLargeRequests(t *testing.T) {
	bp := pool.NewBytePool(16)
	b := bp.Acquire(1024)
	assert.Equal(t, len(b), 1024)
	bp.Release(b)
	// pooled storage may or may not be reused, but length is always honored
	assert.Equal(t, len(bp.Acquire(512)), 512)
}
