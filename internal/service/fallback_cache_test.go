package service

import (
	"sync"
	"testing"
	"time"
)

func TestFallbackCache_UpdateAndSnapshot(t *testing.T) {
	c := NewFallbackCache()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	c.Set("0xbbb", FallbackEntry{Balance: 7})
	got := c.Update("0xaaa", func(cur FallbackEntry, exists bool) FallbackEntry {
		if exists {
			t.Fatalf("unexpected existing entry %+v", cur)
		}
		return FallbackEntry{Balance: 10}
	})
	if got.Balance != 10 || !got.UpdatedAt.Equal(fixed) {
		t.Fatalf("update returned %+v", got)
	}

	snap := c.Snapshot()
	if len(snap) != 2 || snap[0].Wallet != "0xaaa" || snap[1].Wallet != "0xbbb" {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap[1].Balance != 7 {
		t.Fatalf("0xbbb balance=%d", snap[1].Balance)
	}
}

func TestFallbackCache_ConcurrentUpdates(t *testing.T) {
	c := NewFallbackCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Update("0xabc", func(cur FallbackEntry, _ bool) FallbackEntry {
				cur.Balance++
				return cur
			})
		}()
	}
	wg.Wait()
	e, ok := c.Get("0xabc")
	if !ok || e.Balance != 50 {
		t.Fatalf("entry=%+v ok=%v", e, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("len=%d", c.Len())
	}
}
