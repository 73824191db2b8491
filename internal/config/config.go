// Package config loads and validates legifetch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendAuto    = "auto"
	BackendDirect  = "direct"
	BackendBrowser = "browser"
)

// Cache store names.
const (
	CacheLevelDB  = "leveldb"
	CacheMemory   = "memory"
	CacheRedis    = "redis"
	CachePostgres = "postgres"
)

// Operator modes.
const (
	OperatorConsole = "console"
	OperatorWait    = "wait"
)

// Config captures every configuration knob loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool     `mapstructure:"development"`
	Level       string   `mapstructure:"level"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// RetrievalConfig governs the soft-failure retry loop.
type RetrievalConfig struct {
	RetryBudget        int           `mapstructure:"retry_budget"`
	Backend            string        `mapstructure:"backend"`
	Timeout            TimeoutConfig `mapstructure:"timeout"`
	SoftFailureMarkers []string      `mapstructure:"soft_failure_markers"`
	Operator           string        `mapstructure:"operator"`
	OperatorDelay      time.Duration `mapstructure:"operator_delay"`
}

// TimeoutConfig holds the per-request connect and read budgets.
type TimeoutConfig struct {
	Connect time.Duration `mapstructure:"connect"`
	Read    time.Duration `mapstructure:"read"`
}

// HTTPConfig configures session state and the direct client.
type HTTPConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Headers           []string      `mapstructure:"headers"`
	Cookies           string        `mapstructure:"cookies"`
	CookieJar         string        `mapstructure:"cookie_jar"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	TransportRetries  int           `mapstructure:"transport_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
}

// CacheConfig selects and configures the response cache.
type CacheConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Backend  string         `mapstructure:"backend"`
	TTL      time.Duration  `mapstructure:"ttl"`
	Path     string         `mapstructure:"path"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig points at a Redis cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// PostgresConfig points at a Postgres cache table.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// BrowserConfig configures the browser engine.
type BrowserConfig struct {
	Driver        string        `mapstructure:"driver"`
	Headless      bool          `mapstructure:"headless"`
	ProfileDir    string        `mapstructure:"profile_dir"`
	ExecPath      string        `mapstructure:"exec_path"`
	AttachTimeout time.Duration `mapstructure:"attach_timeout"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
}

// DaemonConfig configures the background browser daemon.
type DaemonConfig struct {
	DescriptorPath string        `mapstructure:"descriptor_path"`
	WakeInterval   time.Duration `mapstructure:"wake_interval"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	LogFile        string        `mapstructure:"log_file"`
	StatusAddr     string        `mapstructure:"status_addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEGIFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output_paths", []string{"stderr"})
	v.SetDefault("retrieval.retry_budget", 10)
	v.SetDefault("retrieval.backend", BackendAuto)
	v.SetDefault("retrieval.timeout.connect", 10*time.Second)
	v.SetDefault("retrieval.timeout.read", 30*time.Second)
	v.SetDefault("retrieval.soft_failure_markers", []string{})
	v.SetDefault("retrieval.operator", OperatorConsole)
	v.SetDefault("retrieval.operator_delay", 30*time.Second)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.headers", []string{})
	v.SetDefault("http.cookies", "")
	v.SetDefault("http.cookie_jar", "")
	v.SetDefault("http.requests_per_second", 1.0)
	v.SetDefault("http.transport_retries", 2)
	v.SetDefault("http.retry_backoff", 250*time.Millisecond)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", CacheLevelDB)
	v.SetDefault("cache.ttl", time.Duration(0))
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.redis.addr", "127.0.0.1:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "legifetch:cache:")
	v.SetDefault("cache.postgres.dsn", "")
	v.SetDefault("cache.postgres.table", "page_cache")
	v.SetDefault("cache.postgres.max_conns", 4)
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.attach_timeout", 5*time.Second)
	v.SetDefault("browser.nav_timeout", 30*time.Second)
	v.SetDefault("daemon.descriptor_path", "")
	v.SetDefault("daemon.wake_interval", 60*time.Second)
	v.SetDefault("daemon.startup_timeout", 60*time.Second)
	v.SetDefault("daemon.stop_timeout", 10*time.Second)
	v.SetDefault("daemon.log_file", "")
	v.SetDefault("daemon.status_addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Retrieval.RetryBudget <= 0 {
		return fmt.Errorf("retrieval.retry_budget must be > 0")
	}
	switch c.Retrieval.Backend {
	case BackendAuto, BackendDirect, BackendBrowser:
	default:
		return fmt.Errorf("retrieval.backend must be one of auto, direct, browser (got %q)", c.Retrieval.Backend)
	}
	if c.Retrieval.Timeout.Connect < 0 || c.Retrieval.Timeout.Read < 0 {
		return fmt.Errorf("retrieval.timeout values must be >= 0")
	}
	switch c.Retrieval.Operator {
	case OperatorConsole:
	case OperatorWait:
		if c.Retrieval.OperatorDelay <= 0 {
			return fmt.Errorf("retrieval.operator_delay must be > 0 when operator is wait")
		}
	default:
		return fmt.Errorf("retrieval.operator must be console or wait (got %q)", c.Retrieval.Operator)
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.HTTP.TransportRetries < 0 {
		return fmt.Errorf("http.transport_retries must be >= 0")
	}
	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case CacheLevelDB, CacheMemory:
		case CacheRedis:
			if c.Cache.Redis.Addr == "" {
				return fmt.Errorf("cache.redis.addr must be set when cache.backend is redis")
			}
		case CachePostgres:
			if c.Cache.Postgres.DSN == "" {
				return fmt.Errorf("cache.postgres.dsn must be set when cache.backend is postgres")
			}
		default:
			return fmt.Errorf("cache.backend must be one of leveldb, memory, redis, postgres (got %q)", c.Cache.Backend)
		}
		if c.Cache.TTL < 0 {
			return fmt.Errorf("cache.ttl must be >= 0")
		}
	}
	if c.Browser.AttachTimeout <= 0 {
		return fmt.Errorf("browser.attach_timeout must be > 0")
	}
	if c.Browser.NavTimeout <= 0 {
		return fmt.Errorf("browser.nav_timeout must be > 0")
	}
	if c.Daemon.WakeInterval <= 0 {
		return fmt.Errorf("daemon.wake_interval must be > 0")
	}
	if c.Daemon.StartupTimeout <= 0 {
		return fmt.Errorf("daemon.startup_timeout must be > 0")
	}
	if c.Daemon.StopTimeout <= 0 {
		return fmt.Errorf("daemon.stop_timeout must be > 0")
	}
	return nil
}

// RequestTimeout returns the per-request budget.
func (c Config) RequestTimeout() time.Duration {
	return c.Retrieval.Timeout.Connect + c.Retrieval.Timeout.Read
}
