package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Query cache limits.
const (
	// minCacheableQueryLength is the shortest query text worth caching.
	minCacheableQueryLength = 3

	// maxCacheableResults is the largest result set worth caching.
	maxCacheableResults = 100

	// approxEntryBytes is the assumed memory footprint per cached entry,
	// used for the stats estimate only.
	approxEntryBytes = 8192
)

// cacheTags are the query filters recorded for targeted invalidation.
type cacheTags struct {
	Language string
	Kind     string
	FilePath string
}

// cacheEntry is a cached result set with its creation time.
type cacheEntry struct {
	results   []*Candidate
	createdAt time.Time
	tags      cacheTags
}

// QueryCache caches search results keyed by a query fingerprint. Entries
// expire after a TTL and the cache evicts its oldest entry by creation time
// when full.
type QueryCache struct {
	mu           sync.Mutex
	entries      map[string]*cacheEntry
	ttl          time.Duration
	capacity     int
	maxCacheable int

	hits   int64
	misses int64

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepDone     chan struct{}
}

// QueryCacheConfig configures a QueryCache.
type QueryCacheConfig struct {
	TTL           time.Duration
	Capacity      int
	MaxCacheable  int
	SweepInterval time.Duration
}

// NewQueryCache creates a query cache.
func NewQueryCache(cfg QueryCacheConfig) *QueryCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.MaxCacheable <= 0 {
		cfg.MaxCacheable = maxCacheableResults
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &QueryCache{
		entries:       make(map[string]*cacheEntry),
		ttl:           cfg.TTL,
		capacity:      cfg.Capacity,
		maxCacheable:  cfg.MaxCacheable,
		sweepInterval: cfg.SweepInterval,
	}
}

// Fingerprint derives the cache key for a query. Text is normalized by
// trimming and lowercasing; the filters and paging parameters are folded in
// so different views of the same text never collide.
func Fingerprint(q *Query) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(q.Text))))
	for _, part := range []string{
		q.Language,
		q.Kind,
		q.FilePath,
		fmt.Sprintf("%d", q.Limit),
		fmt.Sprintf("%g", q.MinScore),
	} {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a deep copy of the cached results for a query, or nil on a
// miss. Expired entries are removed and counted as misses.
func (c *QueryCache) Get(q *Query) []*Candidate {
	key := Fingerprint(q)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	if time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.misses++
		return nil
	}

	c.hits++
	out := make([]*Candidate, len(entry.results))
	for i, cand := range entry.results {
		out[i] = cand.Clone()
	}
	return out
}

// Put stores results for a query. Empty and oversized result sets are not
// cached. When full, the entry with the oldest creation time is evicted.
func (c *QueryCache) Put(q *Query, results []*Candidate) {
	if len(results) == 0 || len(results) > c.maxCacheable {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := Fingerprint(q)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	stored := make([]*Candidate, len(results))
	for i, cand := range results {
		stored[i] = cand.Clone()
	}
	c.entries[key] = &cacheEntry{
		results:   stored,
		createdAt: time.Now(),
		tags: cacheTags{
			Language: q.Language,
			Kind:     q.Kind,
			FilePath: q.FilePath,
		},
	}
}

// ShouldCache reports whether a query's results are worth caching.
// Single-file queries are excluded because their results churn with every
// edit to that file.
func (c *QueryCache) ShouldCache(q *Query, results []*Candidate) bool {
	if q.FilePath != "" {
		return false
	}
	if len(strings.TrimSpace(q.Text)) < minCacheableQueryLength {
		return false
	}
	if len(results) == 0 || len(results) > c.maxCacheable {
		return false
	}
	return true
}

// InvalidateFile removes entries whose results or file filter reference
// path. Returns the number of entries removed.
func (c *QueryCache) InvalidateFile(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.tags.FilePath == path || resultsReferenceFile(entry.results, path) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// InvalidateLanguage removes entries whose results or language filter
// reference lang. Returns the number of entries removed.
func (c *QueryCache) InvalidateLanguage(lang string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.tags.Language == lang || resultsReferenceLanguage(entry.results, lang) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Start launches the background expiry sweep. Safe to call once.
func (c *QueryCache) Start() {
	c.mu.Lock()
	if c.stopSweep != nil {
		c.mu.Unlock()
		return
	}
	c.stopSweep = make(chan struct{})
	c.sweepDone = make(chan struct{})
	stop, done := c.stopSweep, c.sweepDone
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweepExpired()
			case <-stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweep and waits for it to exit.
func (c *QueryCache) Stop() {
	c.mu.Lock()
	stop, done := c.stopSweep, c.sweepDone
	c.stopSweep = nil
	c.sweepDone = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// CacheStats is a snapshot of cache effectiveness.
type CacheStats struct {
	Size        int           `json:"size"`
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	HitRate     float64       `json:"hit_rate"`
	TTL         time.Duration `json:"ttl"`
	MemoryBytes int64         `json:"memory_bytes"`
}

// Stats returns a snapshot of cache counters.
func (c *QueryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:        len(c.entries),
		Hits:        c.hits,
		Misses:      c.misses,
		TTL:         c.ttl,
		MemoryBytes: int64(len(c.entries)) * approxEntryBytes,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// sweepExpired drops entries past their TTL.
func (c *QueryCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)
	for key, entry := range c.entries {
		if entry.createdAt.Before(cutoff) {
			delete(c.entries, key)
		}
	}
}

// evictOldestLocked removes the entry with the earliest creation time.
// Caller holds mu.
func (c *QueryCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func resultsReferenceFile(results []*Candidate, path string) bool {
	for _, r := range results {
		if r.FilePath == path {
			return true
		}
	}
	return false
}

func resultsReferenceLanguage(results []*Candidate, lang string) bool {
	for _, r := range results {
		if r.Language == lang {
			return true
		}
	}
	return false
}
