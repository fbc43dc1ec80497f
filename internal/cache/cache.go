// Package cache implements the bounded, LFU-evicting, TTL-expiring
// key-value store at the heart of kvmesh: the Cache Engine.
//
// All four CRUD operations, the LFU bookkeeping, and the expiration
// sweep execute under a single mutex covering the primary map, the
// frequency index, and the derived minimum frequency — matching the
// teacher's single-lock-guards-everything approach, generalized from
// a pluggable-policy wrapper to this one concrete LFU+TTL design.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kvmesh/kvmesh/internal/entry"
	"github.com/kvmesh/kvmesh/internal/events"
	"github.com/kvmesh/kvmesh/internal/logx"
)

// Cache is the bounded associative store described by §3-§4.1.
type Cache struct {
	mu       sync.RWMutex
	data     map[string]*entry.Entry
	freq     *entry.FrequencyIndex
	capacity int

	sink events.Sink
	log  logx.Logger

	stats Stats

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Cache. capacity must be positive; per §4.1
// "Construction with non-positive capacity is fatal", callers are
// expected to validate configuration before calling New (see
// internal/config.Validate) — New itself only documents the
// precondition, it does not panic, so library callers retain control
// over how a violation is reported.
func New(capacity int, sink events.Sink, log logx.Logger) *Cache {
	if log == nil {
		log = logx.Nop{}
	}
	return &Cache{
		data:     make(map[string]*entry.Entry),
		freq:     entry.NewFrequencyIndex(),
		capacity: capacity,
		sink:     sink,
		log:      log,
	}
}

// StartSweep launches the periodic expiration sweep at the given
// cadence. A non-positive interval disables active expiration; the
// cache then relies solely on lazy expiration from Read/Update. Mirrors
// the dual lazy+active expiration strategy and ticker/stop-channel
// lifecycle of a classic TTL-cache janitor.
func (c *Cache) StartSweep(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	ticker := time.NewTicker(interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// StopSweep halts the sweep goroutine started by StartSweep, if any,
// and blocks until it has exited.
func (c *Cache) StopSweep() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func isBlank(key string) bool {
	return strings.TrimSpace(key) == ""
}

// Create inserts key=value. Returns false on a blank key or if key is
// already present. If the cache is at capacity, an LFU victim is
// evicted (emitting ItemEvicted) before the new entry lands at
// frequency 1 and emits ItemAdded.
func (c *Cache) Create(key string, value any, ttl *time.Duration) bool {
	if isBlank(key) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; exists {
		return false
	}

	if len(c.data) >= c.capacity {
		c.evictLocked()
	}

	now := time.Now()
	e := &entry.Entry{
		Value:          value,
		Frequency:      1,
		LastAccessedAt: now,
	}
	if ttl != nil {
		exp := now.Add(*ttl)
		e.ExpiresAt = &exp
	}

	c.data[key] = e
	c.freq.Insert(key)
	c.stats.recordAdd()

	c.emit(events.CacheEvent{
		EventType: events.ItemAdded,
		Key:       key,
		Value:     value,
		Timestamp: now,
	})
	return true
}

// Read returns the value stored at key, bumping its access frequency
// and last-accessed instant. A blank, missing, or expired key returns
// (nil, false); an expired key is removed as a side effect and emits
// ItemExpired.
func (c *Cache) Read(key string) (any, bool) {
	if isBlank(key) {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.data[key]
	if !exists {
		c.healIfIndexed(key)
		c.stats.recordMiss()
		return nil, false
	}

	now := time.Now()
	if e.IsExpired(now) {
		c.removeLocked(key)
		c.stats.recordMiss()
		c.emit(events.CacheEvent{
			EventType: events.ItemExpired,
			Key:       key,
			Timestamp: now,
		})
		return nil, false
	}

	e.Frequency = c.freq.Bump(key)
	e.LastAccessedAt = now
	c.stats.recordHit()
	return e.Value, true
}

// Update replaces the value at key. ttl, if non-nil, replaces
// expires_at; if nil, the prior expiration (or lack of one) is
// preserved. Frequency is left unchanged — Update is not an access for
// LFU purposes, only Read bumps frequency. Returns false if key is
// absent or already expired (an expired key is removed and emits
// ItemExpired rather than ItemUpdated).
func (c *Cache) Update(key string, value any, ttl *time.Duration) bool {
	if isBlank(key) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.data[key]
	if !exists {
		c.healIfIndexed(key)
		return false
	}

	now := time.Now()
	if e.IsExpired(now) {
		c.removeLocked(key)
		c.emit(events.CacheEvent{
			EventType: events.ItemExpired,
			Key:       key,
			Timestamp: now,
		})
		return false
	}

	e.Value = value
	e.LastAccessedAt = now
	if ttl != nil {
		exp := now.Add(*ttl)
		e.ExpiresAt = &exp
	}

	c.emit(events.CacheEvent{
		EventType: events.ItemUpdated,
		Key:       key,
		Value:     value,
		Timestamp: now,
	})
	return true
}

// Delete removes key unconditionally (expired or not). Returns true if
// a key was actually removed.
func (c *Cache) Delete(key string) bool {
	if isBlank(key) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists {
		c.healIfIndexed(key)
		return false
	}

	c.removeLocked(key)
	c.emit(events.CacheEvent{
		EventType: events.ItemRemoved,
		Key:       key,
		Timestamp: time.Now(),
	})
	return true
}

// Len returns the current number of live entries (Len() <= capacity
// at all times is an invariant maintained by Create's eviction step).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Stats returns a point-in-time snapshot of hit/miss/eviction counts.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// evictLocked selects and removes the LFU victim: the longest-resident
// key of the minimum-frequency bucket. Called with mu held, just
// before a Create that would otherwise exceed capacity.
func (c *Cache) evictLocked() {
	key := c.freq.VictimKey()
	if key == "" {
		return
	}
	freq := c.freq.Frequency(key)
	c.removeLocked(key)
	c.stats.recordEviction()

	c.emit(events.CacheEvent{
		EventType: events.ItemEvicted,
		Key:       key,
		Timestamp: time.Now(),
		Reason:    fmt.Sprintf("LFU eviction (frequency: %d)", freq),
	})
}

// removeLocked drops key from both the primary map and the frequency
// index. Called with mu held.
func (c *Cache) removeLocked(key string) {
	delete(c.data, key)
	c.freq.Remove(key)
}

// sweep performs the periodic active-expiration scan: every entry
// whose TTL has elapsed is removed and emits ItemExpired. Must not be
// called with mu held.
func (c *Cache) sweep() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for key, e := range c.data {
		if e.IsExpired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.removeLocked(key)
	}

	for _, key := range expired {
		c.emit(events.CacheEvent{
			EventType: events.ItemExpired,
			Key:       key,
			Timestamp: now,
		})
	}
}

// healIfIndexed repairs the §7 "internal invariant violation" case: a
// key present in the frequency index but absent from the primary map.
// Logged as a warning and self-healed by dropping the stale index
// entry; never panics or returns an error to the caller.
func (c *Cache) healIfIndexed(key string) {
	if c.freq.Frequency(key) == 0 {
		return
	}
	c.log.Record(logx.Warn, "frequency index referenced a key absent from the primary map; healing",
		logx.F("key", key))
	c.freq.Remove(key)
}

// emit reports evt to the sink, if one was configured. Always invoked
// while mu is held by the caller (Create/Read/Update/Delete/evictLocked/
// sweep), so the sink observes events in the order their mutations
// were committed.
func (c *Cache) emit(evt events.CacheEvent) {
	if c.sink != nil {
		c.sink.Emit(evt)
	}
}
