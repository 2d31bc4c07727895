package core

import "sync"

// LamportClock is a monotone per-process logical counter. Per the Design
// Notes, it is constructed explicitly and passed by reference into
// components rather than kept as a hidden package-level global.
type LamportClock struct {
	mu      sync.Mutex
	counter int64
}

// NewLamportClock returns a clock starting at zero; the first Tick returns 1.
func NewLamportClock() *LamportClock {
	return &LamportClock{}
}

// Tick advances and returns the local counter.
func (c *LamportClock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return c.counter
}

// Observe applies the classic Lamport receive update: counter = max(counter,
// peer) + 1. This is the first of the two formulations named in the Design
// Notes' open question, chosen for determinism as the spec mandates.
func (c *LamportClock) Observe(peer int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peer > c.counter {
		c.counter = peer
	}
	c.counter++
	return c.counter
}

// Current returns the counter's value without advancing it.
func (c *LamportClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}
