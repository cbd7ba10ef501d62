package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedCache() (*TTLCache[string, int], *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewTTLCache[string, int]().WithClock(clock.Now), clock
}

func TestTTLCache_SetGet(t *testing.T) {
	c, _ := newClockedCache()
	c.Set("alice", 42, time.Minute)

	v, ok := c.Get("alice")
	if !ok {
		t.Fatal("Get should return true after Set")
	}
	if v != 42 {
		t.Errorf("value = %d, want 42", v)
	}
	if _, ok := c.Get("bob"); ok {
		t.Error("Get should return false when key is missing")
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	c, clock := newClockedCache()
	c.Set("alice", 1, time.Minute)

	clock.Advance(59 * time.Second)
	if _, ok := c.Get("alice"); !ok {
		t.Fatal("entry should be live before ttl")
	}
	clock.Advance(time.Second)
	if _, ok := c.Get("alice"); ok {
		t.Fatal("entry should be expired at ttl")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, expired entry should be removed on read", c.Len())
	}
}

func TestTTLCache_NoTTLKeepsEntry(t *testing.T) {
	c, clock := newClockedCache()
	c.Set("alice", 1, 0)
	clock.Advance(24 * time.Hour)
	if _, ok := c.Get("alice"); !ok {
		t.Error("entry without ttl should not expire")
	}
}

func TestTTLCache_OverwriteAndDelete(t *testing.T) {
	c, _ := newClockedCache()
	c.Set("alice", 1, time.Minute)
	c.Set("alice", 2, time.Minute)
	if v, _ := c.Get("alice"); v != 2 {
		t.Errorf("value = %d, want 2", v)
	}
	c.Delete("alice")
	if _, ok := c.Get("alice"); ok {
		t.Error("Get should return false after Delete")
	}
}

func TestTTLCache_Sweep(t *testing.T) {
	c, clock := newClockedCache()
	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	c.Set("forever", 3, 0)
	clock.Advance(time.Minute)

	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestTTLCache_NilReceiver(t *testing.T) {
	var c *TTLCache[string, int]
	c.Set("a", 1, time.Minute)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("nil cache should always miss")
	}
	if c.Sweep() != 0 || c.Len() != 0 {
		t.Error("nil cache should be empty")
	}
}

func TestTTLCache_Concurrent(t *testing.T) {
	c := NewTTLCache[string, int]()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("user-%d", i)
			c.Set(key, i, time.Minute)
			if v, ok := c.Get(key); !ok || v != i {
				t.Errorf("Get(%s) = %d, %v", key, v, ok)
			}
		}(i)
	}
	wg.Wait()
}

func TestNoopCache(t *testing.T) {
	var c Cache[string, int] = NoopCache[string, int]{}
	c.Set("alice", 1, time.Minute)
	if _, ok := c.Get("alice"); ok {
		t.Error("NoopCache should always miss")
	}
	c.Delete("alice")
}
