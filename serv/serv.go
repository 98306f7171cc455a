package serv

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/cheograph/cheograph/core"
	"github.com/cheograph/cheograph/serv/internal/util"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service owns the cache store, the query backends and the warming
// machinery built from one Config
type Service struct {
	conf      *Config
	log       *zap.SugaredLogger
	zlog      *zap.Logger
	logOutput zapcore.WriteSyncer
	fs        afero.Fs
	clock     Clock

	store     Store
	local     *core.LocalEngine
	remote    *core.RemoteEndpoint
	adapter   *core.Adapter
	cq        *CachedQuery
	catalog   *Catalog
	warmer    *Warmer
	scheduler *Scheduler
	manager   *CacheManager

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Option is a function that configures the service
type Option func(*Service) error

// OptionSetFS sets the filesystem the ontology is read from
func OptionSetFS(fs afero.Fs) Option {
	return func(s *Service) error {
		s.fs = fs
		return nil
	}
}

// OptionSetLogger sets the logger used by the service
func OptionSetLogger(log *zap.Logger) Option {
	return func(s *Service) error {
		s.zlog = log
		return nil
	}
}

// OptionSetLogOutput sends service logs to output, used when stdout is
// reserved for command output
func OptionSetLogOutput(output zapcore.WriteSyncer) Option {
	return func(s *Service) error {
		s.logOutput = output
		return nil
	}
}

// OptionSetStore replaces the configured cache store
func OptionSetStore(store Store) Option {
	return func(s *Service) error {
		s.store = store
		return nil
	}
}

// OptionSetClock sets the time source for cache expiry and scheduling
func OptionSetClock(c Clock) Option {
	return func(s *Service) error {
		s.clock = c
		return nil
	}
}

// NewService builds a service from conf. Redis being unreachable is not an
// error, the in-memory store is used instead.
func NewService(conf *Config, options ...Option) (*Service, error) {
	if conf == nil {
		conf = NewConfig()
	}
	s := &Service{conf: conf}

	for _, op := range options {
		if err := op(s); err != nil {
			return nil, err
		}
	}

	s.initLogger()

	if err := s.initConfig(); err != nil {
		return nil, err
	}
	s.initStore()

	if err := s.initBackends(); err != nil {
		s.store.Close()
		return nil, err
	}
	s.initWarming()
	return s, nil
}

// NewLogger builds the logger described by conf
func NewLogger(conf *Config, output zapcore.WriteSyncer) *zap.Logger {
	if output == nil {
		output = os.Stdout
	}
	return util.NewLoggerWithOutput(conf.LogFormat == "json", util.ParseLevel(conf.LogLevel), output)
}

// Start runs the startup warm and the automatic refresh in the background,
// and watches the ontology file when configured. It returns immediately.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.conf.Query.WatchOntology && s.local != nil {
		err := s.local.Watch(ctx, s.zlog, func() {
			if _, err := s.scheduler.RunNow(ctx); err != nil && !errors.Is(err, ErrWarmInProgress) {
				s.log.Warnf("re-warm after ontology reload failed: %s", err)
			}
		})
		if err != nil {
			cancel()
			return err
		}
	}

	if s.conf.Warming.Disable {
		s.log.Info("cache warming disabled")
		return nil
	}
	go s.scheduler.Init(ctx)
	return nil
}

// Close stops the scheduler and releases the cache store
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.scheduler.Stop()
		err = s.store.Close()
		_ = s.zlog.Sync()
	})
	return err
}

func (s *Service) Config() *Config {
	return s.conf
}

func (s *Service) Store() Store {
	return s.store
}

// Adapter returns the query execution adapter
func (s *Service) Adapter() *core.Adapter {
	return s.adapter
}

func (s *Service) CachedQuery() *CachedQuery {
	return s.cq
}

func (s *Service) Catalog() *Catalog {
	return s.catalog
}

func (s *Service) Warmer() *Warmer {
	return s.warmer
}

func (s *Service) Scheduler() *Scheduler {
	return s.scheduler
}

// Manager returns the cache administration surface
func (s *Service) Manager() *CacheManager {
	return s.manager
}
