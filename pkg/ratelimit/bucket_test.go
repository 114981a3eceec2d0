package ratelimit_test

import (
	"testing"
	"time"

	"github.com/nebula-assistant/agent-core/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowWithinCapacity(t *testing.T) {
	l := ratelimit.NewLimiter(3, 1)

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow("user-1")
		assert.True(t, allowed, "request %d should be allowed", i)
	}

	allowed, retryAfter := l.Allow("user-1")
	assert.False(t, allowed)
	assert.GreaterOrEqual(t, retryAfter, time.Second)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := ratelimit.NewLimiter(1, 1)

	allowed, _ := l.Allow("user-1")
	assert.True(t, allowed)

	allowed, _ = l.Allow("user-1")
	assert.False(t, allowed)

	allowed, _ = l.Allow("user-2")
	assert.True(t, allowed, "a different key must not share user-1's bucket")
}

func TestLimiter_Reset(t *testing.T) {
	l := ratelimit.NewLimiter(1, 1)

	allowed, _ := l.Allow("user-1")
	assert.True(t, allowed)

	allowed, _ = l.Allow("user-1")
	assert.False(t, allowed)

	l.Reset("user-1")

	allowed, _ = l.Allow("user-1")
	assert.True(t, allowed, "reset should restore full capacity")
}

func TestNewPerMinuteLimiter(t *testing.T) {
	l := ratelimit.NewPerMinuteLimiter(60)

	for i := 0; i < 60; i++ {
		allowed, _ := l.Allow("ip-1")
		assert.True(t, allowed, "request %d should be allowed within per-minute burst", i)
	}
	allowed, _ := l.Allow("ip-1")
	assert.False(t, allowed)
}
