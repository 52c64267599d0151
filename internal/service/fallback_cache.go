package service

import (
	"sort"
	"sync"
	"time"
)

// FallbackEntry is the process-local stand-in for an account row.
type FallbackEntry struct {
	Balance          int64
	Points           int64
	TotalTokensSpent int64
	UpdatedAt        time.Time
}

// FallbackCache keeps per-wallet balances in memory while the durable store is
// unavailable. It is not persisted and is not shared across processes.
type FallbackCache struct {
	mu      sync.RWMutex
	entries map[string]FallbackEntry
	now     func() time.Time
}

func NewFallbackCache() *FallbackCache {
	return &FallbackCache{entries: make(map[string]FallbackEntry), now: time.Now}
}

func (c *FallbackCache) Get(wallet string) (FallbackEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[wallet]
	return e, ok
}

func (c *FallbackCache) Set(wallet string, e FallbackEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.UpdatedAt = c.now()
	c.entries[wallet] = e
}

// Update applies fn to the wallet's entry under the cache lock. exists is false
// when the wallet has no entry yet and cur is the zero value.
func (c *FallbackCache) Update(wallet string, fn func(cur FallbackEntry, exists bool) FallbackEntry) FallbackEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.entries[wallet]
	next := fn(cur, ok)
	next.UpdatedAt = c.now()
	c.entries[wallet] = next
	return next
}

func (c *FallbackCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FallbackRecord is a wallet and its entry, as listed by Snapshot.
type FallbackRecord struct {
	Wallet string
	FallbackEntry
}

// Snapshot lists every entry ordered by wallet.
func (c *FallbackCache) Snapshot() []FallbackRecord {
	c.mu.RLock()
	out := make([]FallbackRecord, 0, len(c.entries))
	for w, e := range c.entries {
		out = append(out, FallbackRecord{Wallet: w, FallbackEntry: e})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}
