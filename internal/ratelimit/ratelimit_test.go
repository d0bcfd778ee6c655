package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := New(limit, window, 0)
	l.now = clock.now
	return l, clock
}

func TestAdmitWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	assert.True(t, l.Admit("u1"))
	assert.True(t, l.Admit("u1"))
	assert.False(t, l.Admit("u1"))
}

func TestAdmitAfterWindowExpires(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)

	assert.True(t, l.Admit("u1"))
	assert.True(t, l.Admit("u1"))
	assert.False(t, l.Admit("u1"))

	clock.advance(61 * time.Second)
	assert.True(t, l.Admit("u1"))
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	assert.True(t, l.Admit("u1:tenantA"))
	assert.False(t, l.Admit("u1:tenantA"))
	assert.True(t, l.Admit("u1:tenantB"))
}

func TestResetTime(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)

	start := clock.now()
	l.Admit("u1")

	reset := l.ResetTime("u1")
	assert.Equal(t, start.Add(time.Minute), reset)

	// No history means zero reset time.
	assert.True(t, l.ResetTime("nobody").IsZero())
}

func TestRollingWindow(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)

	l.Admit("u1")
	clock.advance(30 * time.Second)
	l.Admit("u1")
	l.Admit("u1")
	assert.False(t, l.Admit("u1"))

	// First entry falls out, the two later ones remain.
	clock.advance(31 * time.Second)
	assert.True(t, l.Admit("u1"))
	assert.False(t, l.Admit("u1"))
}

func TestSweepRemovesIdleKeys(t *testing.T) {
	l, clock := newTestLimiter(5, time.Minute)

	l.Admit("u1")
	l.Admit("u2")
	clock.advance(2 * time.Minute)
	l.Admit("u3")
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.hits, "u1")
	assert.NotContains(t, l.hits, "u2")
	assert.Contains(t, l.hits, "u3")
}

func TestConcurrentAdmit(t *testing.T) {
	l := New(50, time.Minute, 0)

	var wg sync.WaitGroup
	admitted := make([]bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			admitted[i] = l.Admit("shared")
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range admitted {
		if ok {
			count++
		}
	}
	assert.Equal(t, 50, count)
}
