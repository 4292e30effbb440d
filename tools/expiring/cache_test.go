package expiring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestSeenOnceWindow(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := NewCache(time.Minute, WithClock(clk.Now))
	defer c.Close()

	assert.False(t, c.SeenOnce("ev1", 0))
	assert.True(t, c.SeenOnce("ev1", 0))
	assert.False(t, c.SeenOnce("ev2", 0))

	clk.Advance(59 * time.Second)
	assert.True(t, c.SeenOnce("ev1", 0))

	clk.Advance(2 * time.Minute)
	assert.False(t, c.SeenOnce("ev1", 0))
}

func TestSeenOncePerEntryTTL(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := NewCache(time.Minute, WithClock(clk.Now))
	defer c.Close()

	assert.False(t, c.SeenOnce("short", 5*time.Second))
	clk.Advance(6 * time.Second)
	assert.False(t, c.SeenOnce("short", 5*time.Second))
}

func TestContainsAndRemove(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := NewCache(time.Minute, WithClock(clk.Now))
	defer c.Close()

	assert.False(t, c.Contains("k"))
	c.SeenOnce("k", 0)
	assert.True(t, c.Contains("k"))

	c.Remove("k")
	assert.False(t, c.Contains("k"))

	c.SeenOnce("k", 0)
	clk.Advance(2 * time.Minute)
	assert.False(t, c.Contains("k"))
}

func TestLenSkipsExpired(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := NewCache(time.Minute, WithClock(clk.Now))
	defer c.Close()

	c.SeenOnce("a", 0)
	c.SeenOnce("b", 10*time.Second)
	assert.Equal(t, 2, c.Len())

	clk.Advance(30 * time.Second)
	assert.Equal(t, 1, c.Len())
}
