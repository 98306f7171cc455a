package serv

import (
	"context"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Default memory cache size (number of entries)
const defaultMemoryCacheSize = 10000

// memoryCacheEntry wraps a value with its expiry
type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memoryCacheEntry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryStore is an in-process LRU store. Expiry is checked lazily on read.
type MemoryStore struct {
	cache      *lru.Cache[string, *memoryCacheEntry]
	defaultTTL time.Duration
	clock      Clock
	storeMetrics
}

// NewMemoryStore creates a new in-memory LRU store, a nil clock means the
// system clock
func NewMemoryStore(maxEntries int, defaultTTL time.Duration, clock Clock) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryCacheSize
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	if clock == nil {
		clock = SystemClock()
	}

	cache, err := lru.New[string, *memoryCacheEntry](maxEntries)
	if err != nil {
		return nil, err
	}

	return &MemoryStore{
		cache:        cache,
		defaultTTL:   defaultTTL,
		clock:        clock,
		storeMetrics: newStoreMetrics(),
	}, nil
}

// lookup returns a live entry, evicting it if it has expired
func (mc *MemoryStore) lookup(key string) (*memoryCacheEntry, bool) {
	entry, ok := mc.cache.Get(key)
	if !ok {
		return nil, false
	}
	if entry.expired(mc.clock.Now()) {
		mc.cache.Remove(key)
		return nil, false
	}
	return entry, true
}

func (mc *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool) {
	entry, ok := mc.lookup(key)
	if !ok {
		mc.recordMiss(ctx)
		return nil, false
	}
	mc.recordHit(ctx)
	return entry.value, true
}

// Peek reads key without touching the hit and miss counters
func (mc *MemoryStore) Peek(_ context.Context, key string) ([]byte, bool) {
	entry, ok := mc.lookup(key)
	if !ok {
		return nil, false
	}
	return entry.value, true
}

func (mc *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}
	mc.cache.Add(key, &memoryCacheEntry{
		value:     value,
		expiresAt: mc.clock.Now().Add(ttl),
	})
	return true
}

func (mc *MemoryStore) Has(ctx context.Context, key string) bool {
	entry, ok := mc.cache.Peek(key)
	return ok && !entry.expired(mc.clock.Now())
}

func (mc *MemoryStore) Delete(ctx context.Context, keys ...string) int64 {
	var n int64
	now := mc.clock.Now()
	for _, k := range keys {
		entry, ok := mc.cache.Peek(k)
		if !ok {
			continue
		}
		if !entry.expired(now) {
			n++
		}
		mc.cache.Remove(k)
	}
	return n
}

func (mc *MemoryStore) Clear(ctx context.Context) int64 {
	n := int64(len(mc.Keys(ctx, "")))
	mc.cache.Purge()
	mc.metrics.Reset()
	return n
}

func (mc *MemoryStore) Keys(ctx context.Context, pattern string) []string {
	re := globRegexp(pattern)
	now := mc.clock.Now()

	keys := []string{}
	for _, k := range mc.cache.Keys() {
		entry, ok := mc.cache.Peek(k)
		if !ok || entry.expired(now) {
			continue
		}
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (mc *MemoryStore) Stats(ctx context.Context) Stats {
	return Stats{
		Keys:      len(mc.Keys(ctx, "")),
		Hits:      mc.metrics.Hits.Load(),
		Misses:    mc.metrics.Misses.Load(),
		HitRate:   mc.metrics.HitRate(),
		Connected: true,
		Backend:   "memory",
	}
}

func (mc *MemoryStore) SetMultiple(ctx context.Context, entries []CacheEntry) bool {
	for _, e := range entries {
		mc.Set(ctx, e.Key, e.Value, e.TTL)
	}
	return true
}

func (mc *MemoryStore) GetMultiple(ctx context.Context, keys []string) map[string][]byte {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := mc.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out
}

// Connected is always true for the in-process store
func (mc *MemoryStore) Connected() bool {
	return true
}

// Close drops every entry
func (mc *MemoryStore) Close() error {
	mc.cache.Purge()
	return nil
}
