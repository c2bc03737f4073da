package stt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAfterMaxFailures(t *testing.T) {
	cb := newCircuitBreaker(3, time.Hour)
	assert.True(t, cb.allow())

	cb.failure()
	cb.failure()
	assert.True(t, cb.allow())

	cb.failure()
	assert.False(t, cb.allow())
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := newCircuitBreaker(1, 10*time.Millisecond)
	cb.failure()
	assert.False(t, cb.allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.allow(), "half-open lets one attempt through")

	// that attempt failing trips it again
	cb.failure()
	assert.False(t, cb.allow())
}

func TestBreakerSuccessResets(t *testing.T) {
	cb := newCircuitBreaker(2, time.Hour)
	cb.failure()
	cb.success()
	cb.failure()
	assert.True(t, cb.allow())
}
