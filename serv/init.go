package serv

import (
	"context"
	"errors"
	"time"

	"github.com/cheograph/cheograph/core"
	"github.com/spf13/afero"
)

// ErrNoBackend is returned when neither an ontology file nor a remote
// endpoint is configured
var ErrNoBackend = errors.New("no query backend configured: set query.ontology_path or query.endpoint")

// initLogger builds the logger unless one was passed in
func (s *Service) initLogger() {
	if s.zlog == nil {
		s.zlog = NewLogger(s.conf, s.logOutput)
	}
	s.zlog = s.zlog.Named(s.conf.AppName)
	s.log = s.zlog.Sugar()
}

// initConfig fills in what the config leaves unset
func (s *Service) initConfig() error {
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.clock == nil {
		s.clock = SystemClock()
	}

	q := &s.conf.Query
	q.OntologyPath = s.conf.RelPath(q.OntologyPath)

	if q.OntologyPath == "" && q.Endpoint == "" {
		return ErrNoBackend
	}
	return nil
}

// initStore picks the cache store (Redis or in-memory)
func (s *Service) initStore() {
	if s.store != nil {
		return
	}
	c := s.conf.Caching

	if c.Disable {
		s.log.Info("Query cache disabled")
		s.store = newDisabledStore()
		return
	}

	r := s.conf.Redis
	if r.URL != "" || r.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*r.Timeout+defaultRedisTimeout)
		defer cancel()

		store, err := NewRedisStore(ctx, RedisOptions{
			URL:        r.URL,
			Addr:       r.Addr,
			Password:   r.Password,
			DB:         r.DB,
			Prefix:     c.Prefix,
			DefaultTTL: c.Default,
			Timeout:    r.Timeout,
		})
		if err == nil {
			s.store = store
			s.log.Info("Redis query cache enabled")
			return
		}
		s.log.Warnf("Redis unavailable, falling back to in-memory cache: %s", err)
	}

	store, err := NewMemoryStore(c.MemorySize, c.Default, s.clock)
	if err != nil {
		s.log.Warnf("Failed to initialize memory cache: %s", err)
		s.store = newDisabledStore()
		return
	}
	s.store = store
	s.log.Info("Using in-memory query cache")
}

// initBackends builds the local and remote engines in routing order
func (s *Service) initBackends() error {
	q := s.conf.Query
	var backends []core.Backend

	if q.OntologyPath != "" {
		s.local = core.NewLocalEngine(s.fs, q.OntologyPath)
		if err := s.local.Reload(); err != nil {
			s.log.Warnf("ontology not loaded, will retry on first query: %s", err)
		} else {
			s.log.Infow("ontology loaded", "path", q.OntologyPath, "triples", s.local.Triples())
		}
		backends = append(backends, s.local)
	}

	if q.Endpoint != "" {
		s.remote = core.NewRemoteEndpoint(q.Endpoint, core.RemoteOptions{
			Timeout:   q.Timeout,
			Retries:   q.Retries,
			RateLimit: q.RateLimit,
		})
		if q.PreferRemote {
			backends = append([]core.Backend{s.remote}, backends...)
		} else {
			backends = append(backends, s.remote)
		}
	}

	if len(backends) == 0 {
		return ErrNoBackend
	}

	s.adapter = core.NewAdapter(s.zlog.Named("query"), backends...)
	s.log.Infow("query backends", "order", s.adapter.Backends())
	return nil
}

func (s *Service) initWarming() {
	cq := NewCachedQuery(s.store, s.adapter, s.zlog.Named("cache"))
	s.cq = cq
	s.catalog = NewCatalog(cq, s.conf.Caching.TTLConfig)

	wlog := s.zlog.Named("warm")
	s.warmer = NewWarmer(s.store, s.adapter, wlog, s.conf.Warming, s.conf.Caching.TTLConfig, s.clock)
	s.scheduler = NewScheduler(s.warmer, s.store, s.clock, wlog, s.conf.Warming)
	s.manager = NewCacheManager(s.store, s.warmer, s.scheduler)
}

// disabledStore stands in when caching is off; it behaves like a store
// whose backend is unreachable
type disabledStore struct {
	storeMetrics
}

func newDisabledStore() *disabledStore {
	return &disabledStore{storeMetrics: newStoreMetrics()}
}

func (d *disabledStore) Get(ctx context.Context, _ string) ([]byte, bool) {
	d.recordMiss(ctx)
	return nil, false
}

func (d *disabledStore) Peek(context.Context, string) ([]byte, bool) { return nil, false }
func (d *disabledStore) Set(context.Context, string, []byte, time.Duration) bool { return false }
func (d *disabledStore) Has(context.Context, string) bool { return false }
func (d *disabledStore) Delete(context.Context, ...string) int64 { return 0 }
func (d *disabledStore) Keys(context.Context, string) []string { return []string{} }
func (d *disabledStore) SetMultiple(context.Context, []CacheEntry) bool { return false }
func (d *disabledStore) Connected() bool { return false }
func (d *disabledStore) Close() error { return nil }

func (d *disabledStore) Clear(context.Context) int64 {
	d.metrics.Reset()
	return 0
}

func (d *disabledStore) GetMultiple(ctx context.Context, keys []string) map[string][]byte {
	for range keys {
		d.recordMiss(ctx)
	}
	return map[string][]byte{}
}

func (d *disabledStore) Stats(context.Context) Stats {
	return Stats{
		Hits:    d.metrics.Hits.Load(),
		Misses:  d.metrics.Misses.Load(),
		HitRate: d.metrics.HitRate(),
		Backend: "disabled",
	}
}
