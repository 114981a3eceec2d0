package ratelimit_test

import (
	"testing"

	"github.com/nebula-assistant/agent-core/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestConcurrencyLimiter_AcquireUpToMax(t *testing.T) {
	c := ratelimit.NewConcurrencyLimiter()

	assert.True(t, c.Acquire("user-1", 2))
	assert.True(t, c.Acquire("user-1", 2))
	assert.False(t, c.Acquire("user-1", 2))
	assert.Equal(t, 2, c.InFlight("user-1"))
}

func TestConcurrencyLimiter_ReleaseFreesSlot(t *testing.T) {
	c := ratelimit.NewConcurrencyLimiter()

	assert.True(t, c.Acquire("user-1", 1))
	assert.False(t, c.Acquire("user-1", 1))

	c.Release("user-1")
	assert.Equal(t, 0, c.InFlight("user-1"))

	assert.True(t, c.Acquire("user-1", 1))
}

func TestConcurrencyLimiter_ReleaseBelowZeroIsNoop(t *testing.T) {
	c := ratelimit.NewConcurrencyLimiter()

	c.Release("never-acquired")
	assert.Equal(t, 0, c.InFlight("never-acquired"))
}

func TestConcurrencyLimiter_KeysAreIndependent(t *testing.T) {
	c := ratelimit.NewConcurrencyLimiter()

	assert.True(t, c.Acquire("user-1", 1))
	assert.True(t, c.Acquire("user-2", 1))
	assert.False(t, c.Acquire("user-1", 1))
}
