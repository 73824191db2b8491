// Package cmd defines and implements the CLI commands for the legifetch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/app"
	"github.com/JakeFAU/legifetch/internal/config"
	"github.com/JakeFAU/legifetch/internal/logging"
)

// ctxKeyType keys the values PersistentPreRunE stores in the command context.
type ctxKeyType string

const (
	appKey     ctxKeyType = "app"
	runtimeKey ctxKeyType = "runtime"
)

// annotationNoApp marks commands that only need configuration and a logger.
const annotationNoApp = "legifetch/no-app"

// runtime is what every command receives once configuration has been loaded.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	cfgFile string
}

// rootOptions collects flag values that override configuration.
type rootOptions struct {
	cfgFile      string
	cache        bool
	noCache      bool
	cacheBackend string
	backend      string
	logLevel     string
	retries      int
	operator     string
	userAgent    string
	headers      []string
	cookies      string
	cookieJar    string
}

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// cli holds what PersistentPreRunE builds until Execute releases it.
type cli struct {
	opts rootOptions
	rt   *runtime
	app  *app.App
}

// newRootCmd creates and configures the root command.
func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}
	opts := &c.opts
	cmd := &cobra.Command{
		Use:   "legifetch",
		Short: "Retrieve legal documents through a cached, operator-assisted fetch loop.",
		Long: `legifetch retrieves pages from a consolidated-law portal. Responses are cached,
placeholder pages served by the portal's bot protection trigger an operator-assisted
retry loop, and a long-lived browser daemon can be shared across invocations.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if isUtility(cmd) {
				return nil
			}
			rt, err := loadRuntime(cmd, opts)
			if err != nil {
				return err
			}
			c.rt = rt
			ctx := context.WithValue(cmd.Context(), runtimeKey, rt)
			if cmd.Annotations[annotationNoApp] == "" {
				appInstance, err := newApp(ctx, rt.cfg, rt.logger)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				c.app = appInstance
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	flags.BoolVar(&opts.cache, "cache", false, "enable the response cache")
	flags.BoolVar(&opts.noCache, "no-cache", false, "disable the response cache")
	cmd.MarkFlagsMutuallyExclusive("cache", "no-cache")
	flags.StringVar(&opts.cacheBackend, "cache-backend", "", "cache store: leveldb, memory, redis or postgres")
	flags.StringVar(&opts.backend, "backend", "", "retrieval backend: auto, direct or browser")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.IntVar(&opts.retries, "retries", 0, "attempts allowed before giving up on placeholder pages")
	flags.StringVar(&opts.operator, "operator", "", "how soft failures are acknowledged: console or wait")
	flags.StringVarP(&opts.userAgent, "user-agent", "A", "", "User-Agent sent with every request")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, `extra request header "Name: value" (repeatable)`)
	flags.StringVar(&opts.cookies, "cookies", "", `cookies as "a=b; c=d" or a Netscape cookie file`)
	flags.StringVar(&opts.cookieJar, "cookie-jar", "", "write the cookie jar here on exit")

	cmd.AddCommand(
		newFetchCmd(),
		newCacheCmd(),
		newDaemonCmd(),
		newStartDaemonCmd(),
		newStopDaemonCmd(),
		newDaemonStatusCmd(),
	)
	return cmd, c
}

// close releases the application and flushes the logger.
func (c *cli) close() error {
	var err error
	if c.app != nil {
		err = c.app.Close()
		c.app = nil
	}
	if c.rt != nil {
		_ = c.rt.logger.Sync()
	}
	return err
}

func isUtility(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return cmd.HasParent() && cmd.Parent().Name() == "completion"
}

func loadRuntime(cmd *cobra.Command, opts *rootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, err
	}
	applyOverrides(cmd, opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfgFile := opts.cfgFile
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			cfgFile = abs
		}
	}
	return &runtime{cfg: cfg, logger: logger, cfgFile: cfgFile}, nil
}

func applyOverrides(cmd *cobra.Command, opts *rootOptions, cfg *config.Config) {
	changed := cmd.Flags().Changed
	switch {
	case changed("cache") && opts.cache:
		cfg.Cache.Enabled = true
	case changed("no-cache") && opts.noCache:
		cfg.Cache.Enabled = false
	}
	if opts.cacheBackend != "" {
		cfg.Cache.Backend = opts.cacheBackend
	}
	if opts.backend != "" {
		cfg.Retrieval.Backend = opts.backend
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if changed("retries") {
		cfg.Retrieval.RetryBudget = opts.retries
	}
	if opts.operator != "" {
		cfg.Retrieval.Operator = opts.operator
	}
	if opts.userAgent != "" {
		cfg.HTTP.UserAgent = opts.userAgent
	}
	cfg.HTTP.Headers = append(cfg.HTTP.Headers, opts.headers...)
	if opts.cookies != "" {
		cfg.HTTP.Cookies = opts.cookies
	}
	if opts.cookieJar != "" {
		cfg.HTTP.CookieJar = opts.cookieJar
	}
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context so
// cleanup still runs.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// execute runs the root command with args under ctx and releases what it built.
func execute(ctx context.Context, args []string) error {
	root, c := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := c.close(); cerr != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", cerr)
		err = errors.Join(err, cerr)
	}
	return err
}
