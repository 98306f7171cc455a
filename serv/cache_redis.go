package serv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/redis/go-redis/v9"
)

// Hardcoded constants for cache behavior
const (
	defaultRedisTimeout = 500 * time.Millisecond // Redis operation timeout
	redisRetryInterval  = 30 * time.Second       // Retry interval when Redis unavailable
	redisScanCount      = 200
)

// RedisOptions configures a RedisStore
type RedisOptions struct {
	// URL takes precedence over Addr/Password/DB
	URL      string
	Addr     string
	Password string
	DB       int

	Prefix     string
	DefaultTTL time.Duration
	Timeout    time.Duration

	// ConnectAttempts is how many times the initial ping is tried
	ConnectAttempts uint
}

// RedisStore keeps entries in Redis under a key prefix. Backend errors mark
// the store unavailable until a ping succeeds again.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
	timeout    time.Duration
	available  atomic.Bool
	lastCheck  atomic.Int64
	storeMetrics
}

// NewRedisStore connects to Redis, retrying the first ping
func NewRedisStore(ctx context.Context, o RedisOptions) (*RedisStore, error) {
	var opts *redis.Options

	if o.URL != "" {
		var err error
		if opts, err = redis.ParseURL(o.URL); err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
	} else if o.Addr != "" {
		opts = &redis.Options{Addr: o.Addr, Password: o.Password, DB: o.DB}
	} else {
		return nil, errors.New("redis: no url or addr configured")
	}

	if o.Timeout <= 0 {
		o.Timeout = defaultRedisTimeout
	}
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = defaultCacheTTL
	}
	if o.ConnectAttempts == 0 {
		o.ConnectAttempts = 3
	}

	client := redis.NewClient(opts)

	err := retry.Do(
		func() error {
			pctx, cancel := context.WithTimeout(ctx, o.Timeout)
			defer cancel()
			return client.Ping(pctx).Err()
		},
		retry.Attempts(o.ConnectAttempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	rc := &RedisStore{
		client:       client,
		prefix:       o.Prefix,
		defaultTTL:   o.DefaultTTL,
		timeout:      o.Timeout,
		storeMetrics: newStoreMetrics(),
	}
	rc.available.Store(true)
	return rc, nil
}

func (c *RedisStore) key(k string) string {
	return c.prefix + k
}

func (c *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	data, ok := c.Peek(ctx, key)
	if !ok {
		c.recordMiss(ctx)
		return nil, false
	}
	c.recordHit(ctx)
	return data, true
}

// Peek reads key without touching the hit and miss counters
func (c *RedisStore) Peek(ctx context.Context, key string) ([]byte, bool) {
	if !c.isAvailable() {
		c.maybeRetryConnection()
		return nil, false
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.client.Get(tctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.handleError(ctx, err)
		return nil, false
	}
	return data, true
}

func (c *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if !c.isAvailable() {
		c.maybeRetryConnection()
		return false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Set(tctx, c.key(key), value, ttl).Err(); err != nil {
		c.handleError(ctx, err)
		return false
	}
	return true
}

func (c *RedisStore) Has(ctx context.Context, key string) bool {
	if !c.isAvailable() {
		c.maybeRetryConnection()
		return false
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.client.Exists(tctx, c.key(key)).Result()
	if err != nil {
		c.handleError(ctx, err)
		return false
	}
	return n > 0
}

func (c *RedisStore) Delete(ctx context.Context, keys ...string) int64 {
	if len(keys) == 0 {
		return 0
	}
	if !c.isAvailable() {
		c.maybeRetryConnection()
		return 0
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}

	n, err := c.client.Del(tctx, full...).Result()
	if err != nil {
		c.handleError(ctx, err)
		return 0
	}
	return n
}

func (c *RedisStore) Clear(ctx context.Context) int64 {
	c.metrics.Reset()
	if !c.isAvailable() {
		c.maybeRetryConnection()
		return 0
	}

	keys, ok := c.scan(ctx, "*")
	if !ok || len(keys) == 0 {
		return 0
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout*4)
	defer cancel()

	pipe := c.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(keys)/redisScanCount+1)
	for start := 0; start < len(keys); start += redisScanCount {
		end := start + redisScanCount
		if end > len(keys) {
			end = len(keys)
		}
		cmds = append(cmds, pipe.Del(tctx, keys[start:end]...))
	}

	if _, err := pipe.Exec(tctx); err != nil {
		c.handleError(ctx, err)
		return 0
	}

	var n int64
	for _, cmd := range cmds {
		n += cmd.Val()
	}
	return n
}

func (c *RedisStore) Keys(ctx context.Context, pattern string) []string {
	if pattern == "" {
		pattern = "*"
	}
	if !c.isAvailable() {
		c.maybeRetryConnection()
		return []string{}
	}

	full, ok := c.scan(ctx, pattern)
	if !ok {
		return []string{}
	}

	keys := make([]string, len(full))
	for i, k := range full {
		keys[i] = strings.TrimPrefix(k, c.prefix)
	}
	sort.Strings(keys)
	return keys
}

// scan walks the keyspace with SCAN MATCH and returns prefixed keys
func (c *RedisStore) scan(ctx context.Context, pattern string) ([]string, bool) {
	tctx, cancel := context.WithTimeout(ctx, c.timeout*4)
	defer cancel()

	keys := []string{}
	iter := c.client.Scan(tctx, 0, c.key(pattern), redisScanCount).Iterator()
	for iter.Next(tctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.handleError(ctx, err)
		return nil, false
	}
	return keys, true
}

func (c *RedisStore) Stats(ctx context.Context) Stats {
	c.maybeRetryConnection()

	return Stats{
		Keys:      len(c.Keys(ctx, "")),
		Hits:      c.metrics.Hits.Load(),
		Misses:    c.metrics.Misses.Load(),
		HitRate:   c.metrics.HitRate(),
		Connected: c.isAvailable(),
		Backend:   "redis",
	}
}

func (c *RedisStore) SetMultiple(ctx context.Context, entries []CacheEntry) bool {
	if len(entries) == 0 {
		return true
	}
	if !c.isAvailable() {
		c.maybeRetryConnection()
		return false
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout*4)
	defer cancel()

	pipe := c.client.Pipeline()
	for _, e := range entries {
		ttl := e.TTL
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		pipe.Set(tctx, c.key(e.Key), e.Value, ttl)
	}

	if _, err := pipe.Exec(tctx); err != nil {
		c.handleError(ctx, err)
		return false
	}
	return true
}

func (c *RedisStore) GetMultiple(ctx context.Context, keys []string) map[string][]byte {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out
	}
	if !c.isAvailable() {
		c.maybeRetryConnection()
		for range keys {
			c.recordMiss(ctx)
		}
		return out
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}

	vals, err := c.client.MGet(tctx, full...).Result()
	if err != nil {
		c.handleError(ctx, err)
		for range keys {
			c.recordMiss(ctx)
		}
		return out
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			c.recordMiss(ctx)
			continue
		}
		c.recordHit(ctx)
		out[keys[i]] = []byte(s)
	}
	return out
}

func (c *RedisStore) Connected() bool {
	return c.isAvailable()
}

// Close closes the Redis connection
func (c *RedisStore) Close() error {
	return c.client.Close()
}

// Availability management
func (c *RedisStore) isAvailable() bool {
	return c.available.Load()
}

func (c *RedisStore) handleError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	c.recordError(ctx)
	// the caller gave up, the server may be fine
	if ctx.Err() != nil {
		return
	}
	c.available.Store(false)
	c.lastCheck.Store(time.Now().Unix())
}

func (c *RedisStore) maybeRetryConnection() {
	if c.isAvailable() {
		return
	}

	lastCheck := c.lastCheck.Load()
	if time.Now().Unix()-lastCheck < int64(redisRetryInterval.Seconds()) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err == nil {
		c.available.Store(true)
	}
	c.lastCheck.Store(time.Now().Unix())
}
