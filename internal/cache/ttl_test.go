package cache

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time             { return f.now }
func (f *fakeClock) Advance(d time.Duration)    { f.now = f.now.Add(d) }

func newTestCache(ttl time.Duration, max int) (*TTLCache[string, struct{}], *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return newTTLCache[string, struct{}](ttl, max, clk.Now), clk
}

func TestSetIfAbsent_DuplicateWithinTTL(t *testing.T) {
	c, _ := newTestCache(5*time.Minute, 100)

	if !c.SetIfAbsent("ev-1", struct{}{}) {
		t.Fatal("first insert should succeed")
	}
	if c.SetIfAbsent("ev-1", struct{}{}) {
		t.Error("second insert within TTL should be rejected")
	}
}

func TestSetIfAbsent_ExpiredEntryReplaced(t *testing.T) {
	c, clk := newTestCache(5*time.Minute, 100)

	c.SetIfAbsent("ev-1", struct{}{})
	clk.Advance(5*time.Minute + time.Second)

	if !c.SetIfAbsent("ev-1", struct{}{}) {
		t.Error("insert after TTL expiry should succeed")
	}
}

func TestGet_ExpiredEntryInvisible(t *testing.T) {
	c, clk := newTestCache(time.Minute, 100)

	c.SetIfAbsent("k", struct{}{})
	if _, ok := c.Get("k"); !ok {
		t.Fatal("live entry should be visible")
	}

	clk.Advance(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry should be invisible")
	}
}

func TestCapEvictionInline(t *testing.T) {
	c, clk := newTestCache(5*time.Minute, 10)

	for i := 0; i < 10; i++ {
		c.SetIfAbsent(fmt.Sprintf("old-%d", i), struct{}{})
	}
	// Half the entries expire; a new insert at cap must evict inline
	// and still succeed.
	clk.Advance(6 * time.Minute)
	for i := 0; i < 5; i++ {
		if !c.SetIfAbsent(fmt.Sprintf("new-%d", i), struct{}{}) {
			t.Fatalf("insert new-%d at cap should succeed via inline eviction", i)
		}
	}
	if c.Len() > 10 {
		t.Errorf("cache exceeded cap: %d entries", c.Len())
	}
}

func TestCapEvictionWhenNothingExpired(t *testing.T) {
	c, _ := newTestCache(5*time.Minute, 5)

	for i := 0; i < 5; i++ {
		c.SetIfAbsent(fmt.Sprintf("k-%d", i), struct{}{})
	}
	// Nothing expired, cap reached: hard eviction must make room.
	if !c.SetIfAbsent("overflow", struct{}{}) {
		t.Error("insert at hard cap should evict and succeed")
	}
	if c.Len() > 5 {
		t.Errorf("cache exceeded cap: %d entries", c.Len())
	}
}
