package serv

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Store is a key/value cache with per-entry TTL. Implementations never
// return errors: a store that cannot reach its backend reports misses and
// refuses writes.
type Store interface {
	// Get returns the value and true on a hit
	Get(ctx context.Context, key string) ([]byte, bool)

	// Peek is Get without counting a hit or miss, for bookkeeping reads
	Peek(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key; ttl <= 0 means the store default
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool

	Has(ctx context.Context, key string) bool

	// Delete removes keys and returns how many existed
	Delete(ctx context.Context, keys ...string) int64

	// Clear removes every key under the store prefix and resets the counters
	Clear(ctx context.Context) int64

	// Keys lists keys matching a glob pattern, "" matches all
	Keys(ctx context.Context, pattern string) []string

	Stats(ctx context.Context) Stats

	// SetMultiple writes all entries in one round trip
	SetMultiple(ctx context.Context, entries []CacheEntry) bool

	// GetMultiple returns the values found, absent keys are omitted
	GetMultiple(ctx context.Context, keys []string) map[string][]byte

	Connected() bool

	Close() error
}

// CacheEntry is one item of a bulk write
type CacheEntry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Stats is a point-in-time view of a store
type Stats struct {
	Keys      int     `json:"keys"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hitRate"`
	Connected bool    `json:"connected"`
	Backend   string  `json:"backend"`
}

// CacheMetrics tracks cache performance
type CacheMetrics struct {
	Hits   atomic.Int64
	Misses atomic.Int64
	Errors atomic.Int64
}

// Snapshot returns a point-in-time snapshot of metrics
func (m *CacheMetrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"hits":   m.Hits.Load(),
		"misses": m.Misses.Load(),
		"errors": m.Errors.Load(),
	}
}

// HitRate returns hits as a percentage of lookups rounded to two decimals
func (m *CacheMetrics) HitRate() float64 {
	hits := m.Hits.Load()
	total := hits + m.Misses.Load()
	if total == 0 {
		return 0
	}
	return math.Round(float64(hits)/float64(total)*10000) / 100
}

// Reset zeroes all counters
func (m *CacheMetrics) Reset() {
	m.Hits.Store(0)
	m.Misses.Store(0)
	m.Errors.Store(0)
}

// storeMetrics records to both the in-process counters and OpenTelemetry
type storeMetrics struct {
	metrics *CacheMetrics

	otelHitCounter   metric.Int64Counter
	otelMissCounter  metric.Int64Counter
	otelErrorCounter metric.Int64Counter
}

func newStoreMetrics() storeMetrics {
	sm := storeMetrics{metrics: &CacheMetrics{}}
	meter := otel.Meter("cheograph/cache")

	sm.otelHitCounter, _ = meter.Int64Counter("cheograph.cache.hits",
		metric.WithDescription("Number of cache hits"))
	sm.otelMissCounter, _ = meter.Int64Counter("cheograph.cache.misses",
		metric.WithDescription("Number of cache misses"))
	sm.otelErrorCounter, _ = meter.Int64Counter("cheograph.cache.errors",
		metric.WithDescription("Number of cache backend errors"))
	return sm
}

func (sm storeMetrics) recordHit(ctx context.Context) {
	sm.metrics.Hits.Add(1)
	if sm.otelHitCounter != nil {
		sm.otelHitCounter.Add(ctx, 1)
	}
}

func (sm storeMetrics) recordMiss(ctx context.Context) {
	sm.metrics.Misses.Add(1)
	if sm.otelMissCounter != nil {
		sm.otelMissCounter.Add(ctx, 1)
	}
}

func (sm storeMetrics) recordError(ctx context.Context) {
	sm.metrics.Errors.Add(1)
	if sm.otelErrorCounter != nil {
		sm.otelErrorCounter.Add(ctx, 1)
	}
}

// Metrics returns the cache metrics
func (sm storeMetrics) Metrics() *CacheMetrics {
	return sm.metrics
}

// globRegexp compiles a Redis style glob where '*' and '?' also match '/'
func globRegexp(pattern string) *regexp.Regexp {
	if pattern == "" {
		pattern = "*"
	}
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}
