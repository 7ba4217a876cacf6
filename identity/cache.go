package identity

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cache stores verified identities keyed by token fingerprint.
// A miss is (nil, false, nil); an error means the cache could not answer.
type Cache interface {
	Get(ctx context.Context, key string) (*VerifiedIdentity, bool, error)
	Set(ctx context.Context, key string, id *VerifiedIdentity, ttl time.Duration) error
}

// Fingerprint derives the cache key for a raw token. Tokens are never stored.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// cacheEntry represents a single cache entry with its own deadline
type cacheEntry struct {
	key       string
	identity  *VerifiedIdentity
	expiresAt time.Time
	element   *list.Element
}

// MemoryCache is an in-process LRU cache with per-entry TTL
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache holding at most maxSize entries
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get retrieves an identity; expired entries count as misses and are dropped
func (c *MemoryCache) Get(_ context.Context, key string) (*VerifiedIdentity, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || !c.now().Before(entry.expiresAt) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		return nil, false, nil
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	cp := *entry.identity
	return &cp, true, nil
}

// Set stores an identity for ttl; non-positive ttl is ignored
func (c *MemoryCache) Set(_ context.Context, key string, id *VerifiedIdentity, ttl time.Duration) error {
	if ttl <= 0 || id == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *id
	expiresAt := c.now().Add(ttl)
	if entry, exists := c.entries[key]; exists {
		entry.identity = &stored
		entry.expiresAt = expiresAt
		c.lruList.MoveToFront(entry.element)
		return nil
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{key: key, identity: &stored, expiresAt: expiresAt}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
	return nil
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (c *MemoryCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			c.removeEntry(key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired entries until ctx is done
func (c *MemoryCache) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-ctx.Done():
			return
		}
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// removeEntry removes an entry (must be called with lock held)
func (c *MemoryCache) removeEntry(key string) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *MemoryCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, key)
}

// CachingVerifier serves repeated verifications of the same token from a Cache.
// An entry never outlives the token it was derived from.
type CachingVerifier struct {
	next   Verifier
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewCachingVerifier wraps next with cache; entries live at most ttl
func NewCachingVerifier(next Verifier, cache Cache, ttl time.Duration, logger *zap.Logger) *CachingVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingVerifier{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Verify returns a cached identity when one is live, otherwise delegates
func (v *CachingVerifier) Verify(ctx context.Context, token string) (*VerifiedIdentity, error) {
	key := Fingerprint(token)

	id, ok, err := v.cache.Get(ctx, key)
	if err != nil {
		v.logger.Warn("identity cache read failed", zap.Error(err))
	} else if ok && id != nil && !id.Expired(v.now()) {
		return id, nil
	}

	id, err = v.next.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	ttl := v.ttl
	if remaining := id.ExpiresAt.Sub(v.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl > 0 {
		if err := v.cache.Set(ctx, key, id, ttl); err != nil {
			v.logger.Warn("identity cache write failed", zap.Error(err))
		}
	}

	return id, nil
}
