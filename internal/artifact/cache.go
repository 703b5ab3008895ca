package artifact

import (
	"sync"
	"sync/atomic"
)

// CacheStats contains hot cache counters.
type CacheStats struct {
	Entries int    // Number of cached artifacts
	Bytes   int    // Total uncompressed size of cached artifacts
	Hits    uint64 // Lookups answered from memory
	Misses  uint64 // Lookups that fell through to the backend
	Busts   uint64 // Entries dropped by Delete
}

// Cache is the process-wide hot cache of artifacts keyed by request path.
// Uses sync.RWMutex for concurrent access. Entries are never evicted.
//
// Every Delete and Flush advances a version so a fill that read the backend
// before the bust cannot store what it read (see Version and PutIf).
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]Artifact
	versions map[string]uint64
	seq      uint64
	flushed  uint64

	hits   uint64
	misses uint64
	busts  uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries:  make(map[string]Artifact),
		versions: make(map[string]uint64),
	}
}

// Get returns the cached artifact for path.
// Cached content is shared; callers must not modify it.
func (c *Cache) Get(path string) (Artifact, bool) {
	c.mu.RLock()
	a, ok := c.entries[path]
	c.mu.RUnlock()

	if ok {
		atomic.AddUint64(&c.hits, 1)
	} else {
		atomic.AddUint64(&c.misses, 1)
	}
	return a, ok
}

// Put stores a under its path, replacing any previous entry.
func (c *Cache) Put(a Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[a.Path] = a
}

// Version returns the bust version of path. Capture it before reading the
// backend and pass it to PutIf.
func (c *Cache) Version(path string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version(path)
}

func (c *Cache) version(path string) uint64 {
	return max(c.versions[path], c.flushed)
}

// PutIf stores a only if no Delete or Flush touched its path since version
// was captured. It reports whether a was stored.
func (c *Cache) PutIf(a Artifact, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version(a.Path) != version {
		return false
	}
	c.entries[a.Path] = a
	return true
}

// Delete drops the entry for path and advances its version. No-op on the
// entries if absent.
func (c *Cache) Delete(path string) {
	c.mu.Lock()
	_, ok := c.entries[path]
	delete(c.entries, path)
	c.seq++
	c.versions[path] = c.seq
	c.mu.Unlock()

	if ok {
		atomic.AddUint64(&c.busts, 1)
	}
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Artifact)
	c.versions = make(map[string]uint64)
	c.seq++
	c.flushed = c.seq
}

// Stats returns current cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	stats := CacheStats{Entries: len(c.entries)}
	for _, a := range c.entries {
		stats.Bytes += a.Size()
	}
	c.mu.RUnlock()

	stats.Hits = atomic.LoadUint64(&c.hits)
	stats.Misses = atomic.LoadUint64(&c.misses)
	stats.Busts = atomic.LoadUint64(&c.busts)
	return stats
}
