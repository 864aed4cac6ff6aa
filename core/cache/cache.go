/*Package cache provides an in-memory cache whose entries are stamped with a
resource version and expire after a time to live.

An entry is only returned when it was written for the version the reader
asks for, so bumping the version of a resource invalidates every entry
derived from it, including entries written late by lookups that started
before the bump. The clock is injected to make expiry testable.
*/
package cache

import (
	"sync"
	"time"
)

// Clock returns the current time
type Clock func() time.Time

type entry[V any] struct {
	value     V
	version   uint64
	expiresAt time.Time
}

// Cache is a go-routine safe, versioned TTL cache
type Cache[K comparable, V any] struct {
	mutex sync.RWMutex
	ttl   time.Duration
	now   Clock
	cache map[K]entry[V]
}

// New creates a new cache. A nil clock selects time.Now.
func New[K comparable, V any](ttl time.Duration, clock Clock) *Cache[K, V] {
	if clock == nil {
		clock = time.Now
	}
	return &Cache[K, V]{ttl: ttl, now: clock, cache: make(map[K]entry[V])}
}

// Read returns the value for key if it was written for version and has not expired
func (c *Cache[K, V]) Read(key K, version uint64) (V, bool) {
	c.mutex.RLock()
	e, ok := c.cache[key]
	c.mutex.RUnlock()
	if !ok || e.version != version || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Write stores a value for key at version. A write never replaces an entry
// of a newer version.
func (c *Cache[K, V]) Write(key K, version uint64, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if e, ok := c.cache[key]; ok && e.version > version {
		return
	}
	c.cache[key] = entry[V]{value: value, version: version, expiresAt: c.now().Add(c.ttl)}
}

// Delete removes a single key
func (c *Cache[K, V]) Delete(key K) {
	c.mutex.Lock()
	delete(c.cache, key)
	c.mutex.Unlock()
}

// Purge removes all entries that are expired or were written for an older
// version than current reports. It returns the number of removed entries.
func (c *Cache[K, V]) Purge(current func(K) uint64) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.cache {
		if !now.Before(e.expiresAt) || (current != nil && e.version < current(k)) {
			delete(c.cache, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including expired ones not purged yet
func (c *Cache[K, V]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

// Versions hands out resource versions per key. Bump invalidates
// all cache entries written for older versions of the key.
type Versions[K comparable] struct {
	mutex    sync.Mutex
	base     uint64
	versions map[K]uint64
}

// NewVersions creates an empty version table
func NewVersions[K comparable]() *Versions[K] {
	return &Versions[K]{versions: make(map[K]uint64)}
}

// Current returns the current version of key
func (v *Versions[K]) Current(key K) uint64 {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if n, ok := v.versions[key]; ok && n > v.base {
		return n
	}
	return v.base
}

// Bump advances the version of key
func (v *Versions[K]) Bump(key K) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	n := v.versions[key]
	if n < v.base {
		n = v.base
	}
	v.versions[key] = n + 1
}

// BumpAll advances the version of every key, known or not
func (v *Versions[K]) BumpAll() {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	max := v.base
	for _, n := range v.versions {
		if n > max {
			max = n
		}
	}
	v.base = max + 1
	v.versions = make(map[K]uint64)
}
