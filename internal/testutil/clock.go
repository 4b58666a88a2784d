// Package testutil provides deterministic clocks, id generators and apply
// layer stubs shared by package tests.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time for FakeClock.
var Epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// FakeClock is a manually advanced wall clock.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock starting at Epoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: Epoch}
}

// Now returns the current fake time. Pass the method value as a
// func() time.Time option.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
