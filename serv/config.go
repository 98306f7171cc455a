package serv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	defaultCacheTTL        = time.Hour
	defaultListTTL         = 12 * time.Hour
	defaultDetailTTL       = time.Hour
	defaultSearchTTL       = 30 * time.Minute
	defaultKeyPrefix       = "cheo:cache:"
	defaultMaxAge          = 24 * time.Hour
	defaultBatchSize       = 5
	defaultSceneBatchSize  = 3
	defaultRefreshInterval = 24
	maxRefreshInterval     = 7 * 24
)

// Config struct holds the service configuration
type Config struct {
	// Application name is used in log lines
	AppName string `mapstructure:"app_name"`

	// Log levels: debug, error, warn, info
	LogLevel string `mapstructure:"log_level"`

	// Log format: simple or json
	LogFormat string `mapstructure:"log_format"`

	Redis   RedisConfig   `mapstructure:"redis"`
	Caching CachingConfig `mapstructure:"caching"`
	Query   QueryConfig   `mapstructure:"query"`
	Warming WarmingConfig `mapstructure:"warming"`

	// Inherit config from this other config file
	Inherits string `mapstructure:"inherits"`

	configPath string
	vi         *viper.Viper
}

// RedisConfig points at the Redis server used as the cache store. With no
// url or addr the in-memory store is used.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CachingConfig holds cache key and TTL settings
type CachingConfig struct {
	Disable    bool   `mapstructure:"disable"`
	Prefix     string `mapstructure:"prefix"`
	MemorySize int    `mapstructure:"memory_size"`

	TTLConfig `mapstructure:",squash"`
}

// TTLConfig holds the lifetime of each key category
type TTLConfig struct {
	Default time.Duration `mapstructure:"default_ttl"`
	List    time.Duration `mapstructure:"list_ttl"`
	Detail  time.Duration `mapstructure:"detail_ttl"`
	Search  time.Duration `mapstructure:"search_ttl"`
}

// QueryConfig selects and tunes the query backends
type QueryConfig struct {
	OntologyPath  string        `mapstructure:"ontology_path"`
	Endpoint      string        `mapstructure:"endpoint"`
	PreferRemote  bool          `mapstructure:"prefer_remote"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	WatchOntology bool          `mapstructure:"watch_ontology"`
}

// WarmingConfig controls cache warming and the refresh schedule
type WarmingConfig struct {
	Disable        bool          `mapstructure:"disable"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	BatchSize      int           `mapstructure:"batch_size"`
	SceneBatchSize int           `mapstructure:"scene_batch_size"`
	AutoRefresh    bool          `mapstructure:"auto_refresh"`

	// RefreshInterval is in hours
	RefreshInterval int `mapstructure:"refresh_interval"`
}

// ReadInConfig reads in the config file for the environment specified in
// the GO_ENV environment variable
func ReadInConfig(configFile string) (*Config, error) {
	return readInConfig(configFile, nil)
}

// ReadInConfigFS is the same as ReadInConfig but it also takes a filesytem
// as an argument
func ReadInConfigFS(configFile string, fs afero.Fs) (*Config, error) {
	return readInConfig(configFile, fs)
}

func readInConfig(configFile string, fs afero.Fs) (*Config, error) {
	cp := filepath.Dir(configFile)
	vi := newViper(cp, filepath.Base(configFile))

	if fs != nil {
		vi.SetFs(fs)
	}

	if err := vi.ReadInConfig(); err != nil {
		return nil, err
	}

	if pcf := vi.GetString("inherits"); pcf != "" {
		cf := vi.ConfigFileUsed()
		vi = newViper(cp, pcf)
		if fs != nil {
			vi.SetFs(fs)
		}

		if err := vi.ReadInConfig(); err != nil {
			return nil, err
		}

		if v := vi.GetString("inherits"); v != "" {
			return nil, fmt.Errorf("inherited config (%s) cannot itself inherit (%s)", pcf, v)
		}

		vi.SetConfigFile(cf)

		if err := vi.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	c := &Config{configPath: cp, vi: vi}

	if err := decodeConfig(vi, c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewConfig returns a config with every default applied, for use without a
// config file
func NewConfig() *Config {
	vi := newViper(".", "")
	c := &Config{configPath: ".", vi: vi}
	_ = decodeConfig(vi, c)
	return c
}

// decodeConfig accepts durations like "90s" and comma separated lists
// from env vars
func decodeConfig(vi *viper.Viper, c *Config) error {
	return vi.Unmarshal(c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
}

func newViper(configPath, configFile string) *viper.Viper {
	vi := viper.New()

	vi.SetEnvPrefix("CHEO")
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()

	if configFile != "" {
		if filepath.Ext(configFile) != "" {
			vi.SetConfigFile(filepath.Join(configPath, configFile))
		} else {
			vi.SetConfigName(configFile)
			vi.AddConfigPath(configPath)
			vi.AddConfigPath("./config")
		}
	}

	vi.SetDefault("app_name", "cheograph")
	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "simple")

	vi.SetDefault("redis.url", "")
	vi.SetDefault("redis.addr", "")
	vi.SetDefault("redis.password", "")
	vi.SetDefault("redis.db", 0)
	vi.SetDefault("redis.timeout", defaultRedisTimeout)

	vi.SetDefault("caching.disable", false)
	vi.SetDefault("caching.prefix", defaultKeyPrefix)
	vi.SetDefault("caching.memory_size", defaultMemoryCacheSize)
	vi.SetDefault("caching.default_ttl", defaultCacheTTL)
	vi.SetDefault("caching.list_ttl", defaultListTTL)
	vi.SetDefault("caching.detail_ttl", defaultDetailTTL)
	vi.SetDefault("caching.search_ttl", defaultSearchTTL)

	vi.SetDefault("query.ontology_path", "")
	vi.SetDefault("query.endpoint", "")
	vi.SetDefault("query.prefer_remote", false)
	vi.SetDefault("query.timeout", 30*time.Second)
	vi.SetDefault("query.retries", 2)
	vi.SetDefault("query.rate_limit", 0)
	vi.SetDefault("query.watch_ontology", false)

	vi.SetDefault("warming.disable", false)
	vi.SetDefault("warming.max_age", defaultMaxAge)
	vi.SetDefault("warming.batch_size", defaultBatchSize)
	vi.SetDefault("warming.scene_batch_size", defaultSceneBatchSize)
	vi.SetDefault("warming.auto_refresh", true)
	vi.SetDefault("warming.refresh_interval", defaultRefreshInterval)

	return vi
}

func (c *Config) validate() error {
	var errs []error

	w := c.Warming
	if w.RefreshInterval < 1 || w.RefreshInterval > maxRefreshInterval {
		errs = append(errs, fmt.Errorf("warming.refresh_interval must be between 1 and %d hours, got %d",
			maxRefreshInterval, w.RefreshInterval))
	}
	if w.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("warming.batch_size must be positive, got %d", w.BatchSize))
	}
	if w.SceneBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("warming.scene_batch_size must be positive, got %d", w.SceneBatchSize))
	}
	if w.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("warming.max_age must be positive"))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "simple", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be simple or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// RelPath resolves p against the directory of the config file
func (c *Config) RelPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configPath, p)
}

// ConfigName maps GO_ENV to a config file name
func ConfigName() string {
	ge := strings.ToLower(os.Getenv("GO_ENV"))

	switch {
	case strings.HasPrefix(ge, "pro"):
		return "prod"
	case strings.HasPrefix(ge, "sta"):
		return "stage"
	case strings.HasPrefix(ge, "tes"):
		return "test"
	}
	return "dev"
}
