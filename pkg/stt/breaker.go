package stt

import (
	"sync"
	"time"
)

// circuitBreaker trips after consecutive stream failures and rejects
// opens until the cooldown passes. A single success resets it.
type circuitBreaker struct {
	mutex       sync.Mutex
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
}

func newCircuitBreaker(maxFailures int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

func (cb *circuitBreaker) allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if cb.failures < cb.maxFailures {
		return true
	}
	if time.Since(cb.openedAt) >= cb.cooldown {
		// half-open: let one attempt through
		cb.failures = cb.maxFailures - 1
		return true
	}
	return false
}

func (cb *circuitBreaker) failure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.openedAt = time.Now()
	}
}

func (cb *circuitBreaker) success() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.failures = 0
}
