package core

import (
	"fmt"
	"sync"
)

// RequestLimiter enforces a maximum number of model requests per run. It is
// the engine's hard stop against a model that never signals completion.
type RequestLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewRequestLimiter creates a new limiter with a max number of requests.
// If max == 0, unlimited requests are allowed.
func NewRequestLimiter(max int) *RequestLimiter {
	return &RequestLimiter{max: max}
}

// Increment increases the request counter and returns an error if the limit
// is exceeded.
func (rl *RequestLimiter) Increment() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.count++
	if rl.max > 0 && rl.count > rl.max {
		return fmt.Errorf("exceeded max model requests: %d", rl.max)
	}

	return nil
}

// Count returns the current number of requests made.
func (rl *RequestLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.count
}

// Remaining returns how many requests are left before hitting the limit.
func (rl *RequestLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.max == 0 {
		return -1 // unlimited
	}

	return rl.max - rl.count
}
