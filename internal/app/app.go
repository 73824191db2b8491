// Package app builds the retrieval object graph from configuration and owns its lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/browser"
	"github.com/JakeFAU/legifetch/internal/cache"
	leveldbcache "github.com/JakeFAU/legifetch/internal/cache/leveldb"
	memorycache "github.com/JakeFAU/legifetch/internal/cache/memory"
	pgcache "github.com/JakeFAU/legifetch/internal/cache/postgres"
	rediscache "github.com/JakeFAU/legifetch/internal/cache/redis"
	"github.com/JakeFAU/legifetch/internal/clock/system"
	"github.com/JakeFAU/legifetch/internal/config"
	"github.com/JakeFAU/legifetch/internal/daemon"
	"github.com/JakeFAU/legifetch/internal/descriptor"
	"github.com/JakeFAU/legifetch/internal/detector"
	collyfetcher "github.com/JakeFAU/legifetch/internal/fetcher/colly"
	"github.com/JakeFAU/legifetch/internal/fetcher/headless"
	"github.com/JakeFAU/legifetch/internal/hash/sha256"
	"github.com/JakeFAU/legifetch/internal/id/uuid"
	"github.com/JakeFAU/legifetch/internal/operator"
	"github.com/JakeFAU/legifetch/internal/profile"
	"github.com/JakeFAU/legifetch/internal/retrieval"
)

const appDir = "legifetch"

// Option customizes New.
type Option func(*options)

type options struct {
	operator retrieval.Operator
	drivers  browser.Registry
	signaler daemon.Signaler
	spawner  daemon.Spawner
	args     []string
}

// WithOperator replaces the configured operator.
func WithOperator(op retrieval.Operator) Option {
	return func(o *options) { o.operator = op }
}

// WithDrivers replaces the browser driver registry.
func WithDrivers(r browser.Registry) Option {
	return func(o *options) { o.drivers = r }
}

// WithProcesses replaces how daemon processes are probed and spawned.
func WithProcesses(sig daemon.Signaler, sp daemon.Spawner) Option {
	return func(o *options) {
		o.signaler = sig
		o.spawner = sp
	}
}

// WithDaemonArgs appends args to the command line of spawned daemons.
func WithDaemonArgs(args ...string) Option {
	return func(o *options) { o.args = append(o.args, args...) }
}

func collect(opts []Option) options {
	o := options{drivers: Drivers()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Drivers returns every built-in browser driver.
func Drivers() browser.Registry {
	return browser.NewRegistry(browser.NewChromedp(), browser.NewRod())
}

// App holds the long-lived services of one CLI invocation.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	profile     *profile.Profile
	cache       *cache.Layer
	controller  *daemon.Controller
	descriptors *descriptor.Store
	navigator   *headless.Lazy
	service     *retrieval.Service
	backend     string
}

// New initializes every service needed to retrieve documents. It fails fast on bad configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := collect(opts)
	a := &App{cfg: cfg, logger: logger}

	store, ctrl, err := newController(cfg, logger, o)
	if err != nil {
		return nil, err
	}
	a.descriptors, a.controller = store, ctrl

	a.profile = profile.New(logger)
	a.profile.ApplyHeaders(cfg.HTTP.Headers)
	if cfg.HTTP.UserAgent != "" {
		a.profile.SetUserAgent(cfg.HTTP.UserAgent)
	}
	if cfg.HTTP.Cookies != "" {
		if err := a.profile.LoadCookies(cfg.HTTP.Cookies); err != nil {
			return nil, fmt.Errorf("load cookies: %w", err)
		}
	}

	backend, name, err := a.newBackend(o)
	if err != nil {
		return nil, err
	}
	a.backend = name

	var invalidator retrieval.Invalidator = retrieval.NoopInvalidator
	if cfg.Cache.Enabled {
		layer, err := newCache(ctx, cfg, logger)
		switch {
		case errors.Is(err, leveldbcache.ErrLocked):
			logger.Warn("Cache is locked by another process, continuing without cache", zap.Error(err))
		case err != nil:
			_ = a.closeNavigator()
			return nil, err
		default:
			a.cache = layer
			backend = layer.Wrap(backend)
			invalidator = layer
		}
	}

	op := o.operator
	if op == nil {
		op = newOperator(cfg, logger)
	}

	a.service, err = retrieval.NewService(retrieval.Config{
		RetryBudget: cfg.Retrieval.RetryBudget,
		Timeout:     retrieval.Timeout{Connect: cfg.Retrieval.Timeout.Connect, Read: cfg.Retrieval.Timeout.Read},
		Backend:     name,
	}, retrieval.Deps{
		Backend:     backend,
		Invalidator: invalidator,
		Detector:    detector.NewPlaceholder(cfg.Retrieval.SoftFailureMarkers),
		Operator:    op,
		Session:     a.profile,
		Cookies:     a.profile,
		IDs:         uuid.New(),
		Logger:      logger,
	})
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	logger.Info("Application services initialized",
		zap.String("backend", name),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("retry_budget", cfg.Retrieval.RetryBudget),
	)
	return a, nil
}

// NewController builds only the daemon controller, for the daemon commands.
func NewController(cfg config.Config, logger *zap.Logger, opts ...Option) (*daemon.Controller, error) {
	_, ctrl, err := newController(cfg, logger, collect(opts))
	return ctrl, err
}

func newController(cfg config.Config, logger *zap.Logger, o options) (*descriptor.Store, *daemon.Controller, error) {
	store, err := descriptor.NewStore(cfg.Daemon.DescriptorPath)
	if err != nil {
		return nil, nil, fmt.Errorf("descriptor store: %w", err)
	}
	ctrl, err := daemon.New(daemon.Config{
		WakeInterval:   cfg.Daemon.WakeInterval,
		StartupTimeout: cfg.Daemon.StartupTimeout,
		StopTimeout:    cfg.Daemon.StopTimeout,
		LogFile:        cfg.Daemon.LogFile,
		StatusAddr:     cfg.Daemon.StatusAddr,
		Args:           o.args,
	}, store, o.signaler, o.spawner, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, ctrl, nil
}

// LaunchBrowser starts an owned browser for the daemon.
func LaunchBrowser(ctx context.Context, cfg config.Config, driver string, logger *zap.Logger, opts ...Option) (*browser.Session, error) {
	o := collect(opts)
	launch, err := launchOptions(cfg)
	if err != nil {
		return nil, err
	}
	if driver == "" {
		driver = cfg.Browser.Driver
	}
	return browser.Launch(ctx, browser.Options{
		Drivers:    o.drivers,
		Driver:     driver,
		Launch:     launch,
		NavTimeout: cfg.Browser.NavTimeout,
		Logger:     logger,
	})
}

func (a *App) newBackend(o options) (retrieval.Backend, string, error) {
	name := a.cfg.Retrieval.Backend
	if name == config.BackendAuto {
		name = config.BackendDirect
		if a.controller.IsRunning() {
			name = config.BackendBrowser
		}
	}
	switch name {
	case config.BackendDirect:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:         a.profile.UserAgent(),
			Timeout:           a.cfg.RequestTimeout(),
			RequestsPerSecond: a.cfg.HTTP.RequestsPerSecond,
			Retries:           a.cfg.HTTP.TransportRetries,
			RetryBackoff:      a.cfg.HTTP.RetryBackoff,
		}, a.logger), name, nil
	case config.BackendBrowser:
		launch, err := launchOptions(a.cfg)
		if err != nil {
			return nil, "", err
		}
		if launch.UserAgent == "" {
			launch.UserAgent = a.profile.UserAgent()
		}
		a.navigator = headless.NewLazy(func(ctx context.Context) (*browser.Session, error) {
			return browser.Open(ctx, browser.Options{
				Drivers:       o.drivers,
				Driver:        a.cfg.Browser.Driver,
				Launch:        launch,
				Descriptors:   a.descriptors,
				AttachTimeout: a.cfg.Browser.AttachTimeout,
				NavTimeout:    a.cfg.Browser.NavTimeout,
				Logger:        a.logger,
			})
		})
		return headless.New(a.navigator, headless.Config{NavigationTimeout: a.cfg.Browser.NavTimeout}, a.logger), name, nil
	default:
		return nil, "", fmt.Errorf("unknown backend %q", name)
	}
}

func newCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (*cache.Layer, error) {
	var (
		store cache.Store
		err   error
	)
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		store = memorycache.NewStore()
	case config.CacheLevelDB:
		path := cfg.Cache.Path
		if path == "" {
			if path, err = userPath("cache.ldb"); err != nil {
				return nil, err
			}
		}
		logger.Debug("Opening LevelDB cache", zap.String("path", path))
		store, err = leveldbcache.Open(path)
	case config.CacheRedis:
		r := cfg.Cache.Redis
		store, err = rediscache.Dial(ctx, r.Addr, r.Password, r.DB, r.Prefix)
	case config.CachePostgres:
		p := cfg.Cache.Postgres
		store, err = pgcache.NewStore(ctx, pgcache.Config{DSN: p.DSN, Table: p.Table, MaxConns: p.MaxConns})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("initialize %s cache: %w", cfg.Cache.Backend, err)
	}

	hasher := sha256.New()
	return cache.New(store, cache.Config{TTL: cfg.Cache.TTL, Key: hasher.Digest}, system.New(), logger)
}

func newOperator(cfg config.Config, logger *zap.Logger) retrieval.Operator {
	if cfg.Retrieval.Operator == config.OperatorWait {
		return operator.Wait{Delay: cfg.Retrieval.OperatorDelay, Logger: logger.Named("operator")}
	}
	return operator.Stdio(logger)
}

func launchOptions(cfg config.Config) (browser.LaunchOptions, error) {
	dir := cfg.Browser.ProfileDir
	if dir == "" {
		var err error
		if dir, err = userPath("profile"); err != nil {
			return browser.LaunchOptions{}, err
		}
	}
	return browser.LaunchOptions{
		Headless:   cfg.Browser.Headless,
		ProfileDir: dir,
		UserAgent:  cfg.HTTP.UserAgent,
		ExecPath:   cfg.Browser.ExecPath,
	}, nil
}

func userPath(name string) (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve user cache dir: %w", err)
	}
	return filepath.Join(dir, appDir, name), nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Backend names the selected retrieval backend.
func (a *App) Backend() string {
	return a.backend
}

// Service returns the retrieval service.
func (a *App) Service() *retrieval.Service {
	return a.service
}

// Profile returns the request session state.
func (a *App) Profile() *profile.Profile {
	return a.profile
}

// Controller returns the daemon controller.
func (a *App) Controller() *daemon.Controller {
	return a.controller
}

// Get retrieves one document.
func (a *App) Get(ctx context.Context, id retrieval.Identity) (retrieval.Document, error) {
	return a.service.Get(ctx, id)
}

// Invalidate drops the cached copy of id. It is a no-op when caching is disabled.
func (a *App) Invalidate(ctx context.Context, id retrieval.Identity) error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Invalidate(ctx, id)
}

func (a *App) closeNavigator() error {
	if a.navigator == nil {
		return nil
	}
	return a.navigator.Close()
}

// Close saves the cookie jar and releases the cache and any owned browser.
func (a *App) Close() error {
	var errs []error
	if path := a.cfg.HTTP.CookieJar; path != "" && a.profile != nil {
		if err := a.profile.SaveCookieJar(path); err != nil {
			errs = append(errs, fmt.Errorf("save cookie jar: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if err := a.closeNavigator(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	return errors.Join(errs...)
}
