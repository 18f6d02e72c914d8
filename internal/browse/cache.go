package browse

import (
	"sync"
	"time"

	"github.com/gwlsn/vidproof/internal/ffmpeg"
)

// DefaultCacheTTL is how long a probe result is trusted.
const DefaultCacheTTL = 10 * time.Minute

type cacheEntry struct {
	result  *ffmpeg.ProbeResult
	size    int64
	modTime time.Time
	expires time.Time
}

// ProbeCache holds ffprobe results keyed by path. An entry is served only
// while it is younger than the TTL and the file's size and modification
// time still match what was probed.
type ProbeCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewProbeCache creates a cache. ttl <= 0 uses DefaultCacheTTL.
func NewProbeCache(ttl time.Duration) *ProbeCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ProbeCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached result for path if it is still valid for a file
// of the given size and modification time.
func (c *ProbeCache) Get(path string, size int64, modTime time.Time) (*ffmpeg.ProbeResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) || e.size != size || !e.modTime.Equal(modTime) {
		c.Invalidate(path)
		return nil, false
	}
	return e.result, true
}

// Put stores a result.
func (c *ProbeCache) Put(path string, size int64, modTime time.Time, r *ffmpeg.ProbeResult) {
	c.mu.Lock()
	c.entries[path] = cacheEntry{
		result:  r,
		size:    size,
		modTime: modTime,
		expires: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Invalidate removes one path.
func (c *ProbeCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Clear removes everything.
func (c *ProbeCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Evict drops expired entries and returns how many were removed.
func (c *ProbeCache) Evict() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for path, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, path)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries, expired or not.
func (c *ProbeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
