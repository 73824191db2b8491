package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/descriptor"
)

// DescriptorSource exposes the published daemon descriptor.
type DescriptorSource interface {
	Load() (descriptor.Descriptor, bool)
	Delete() error
}

// Options control Open.
type Options struct {
	Drivers Registry
	// Driver is used when launching.
	Driver string
	Launch LaunchOptions
	// Descriptors enables attaching to a running daemon when set.
	Descriptors   DescriptorSource
	AttachTimeout time.Duration
	NavTimeout    time.Duration
	Logger        *zap.Logger
}

// Session owns or borrows a browser engine.
type Session struct {
	mu         sync.Mutex
	engine     Engine
	driver     string
	owned      bool
	navTimeout time.Duration
	logger     *zap.Logger
}

// Open attaches to the daemon described by the descriptor store or launches a new engine.
// A descriptor that cannot be attached to is deleted before launching.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if len(opts.Drivers) == 0 {
		return nil, errors.New("no browser drivers registered")
	}
	if opts.AttachTimeout <= 0 {
		opts.AttachTimeout = 5 * time.Second
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = DefaultNavTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser")

	if opts.Descriptors != nil {
		if d, ok := opts.Descriptors.Load(); ok {
			s, err := attach(ctx, opts, d, logger)
			if err == nil {
				return s, nil
			}
			logger.Warn("Cannot attach to browser daemon, launching a new browser",
				zap.Int("pid", d.PID),
				zap.String("url", d.URL),
				zap.Error(err),
			)
			if derr := opts.Descriptors.Delete(); derr != nil {
				logger.Warn("Failed to delete stale descriptor", zap.Error(derr))
			}
		}
	}
	return Launch(ctx, opts)
}

// Launch starts a new engine owned by the returned session.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := opts.Drivers.Lookup(opts.Driver)
	if err != nil {
		return nil, err
	}
	engine, err := driver.Launch(ctx, opts.Launch)
	if err != nil {
		return nil, fmt.Errorf("launch %s browser: %w", driver.Name(), err)
	}
	logger.Info("Launched browser",
		zap.String("driver", driver.Name()),
		zap.String("url", engine.Endpoint().URL),
		zap.Bool("headless", opts.Launch.Headless),
	)
	return &Session{
		engine:     engine,
		driver:     driver.Name(),
		owned:      true,
		navTimeout: opts.NavTimeout,
		logger:     logger.Named("browser"),
	}, nil
}

func attach(ctx context.Context, opts Options, d descriptor.Descriptor, logger *zap.Logger) (*Session, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	driver, err := opts.Drivers.Lookup(d.Driver())
	if err != nil {
		return nil, err
	}
	attachCtx, cancel := context.WithTimeout(ctx, opts.AttachTimeout)
	defer cancel()

	engine, err := driver.Attach(attachCtx, Endpoint{
		URL:          d.URL,
		SessionID:    d.SessionID,
		Capabilities: d.Capabilities,
		W3C:          d.W3C,
	})
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", driver.Name(), err)
	}
	if err := engine.Ping(attachCtx); err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("ping attached browser: %w", err)
	}
	logger.Info("Attached to browser daemon",
		zap.Int("pid", d.PID),
		zap.String("driver", driver.Name()),
		zap.String("session_id", d.SessionID),
	)
	return &Session{
		engine:     engine,
		driver:     driver.Name(),
		owned:      false,
		navTimeout: opts.NavTimeout,
		logger:     logger,
	}, nil
}

// Fetch loads url. A zero timeout uses the session's navigation timeout.
func (s *Session) Fetch(ctx context.Context, url string, timeout time.Duration) (Page, error) {
	if timeout <= 0 {
		timeout = s.navTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	page, err := s.engine.Load(loadCtx, url)
	if err != nil {
		return Page{}, fmt.Errorf("load %s: %w", url, err)
	}
	if page.URL == "" {
		page.URL = url
	}
	return page, nil
}

// Ping checks that the engine still answers.
func (s *Session) Ping(ctx context.Context) error {
	return s.engine.Ping(ctx)
}

// Owned reports whether this session launched its engine.
func (s *Session) Owned() bool {
	return s.owned
}

// Driver returns the driver name.
func (s *Session) Driver() string {
	return s.driver
}

// Descriptor returns the handshake record for this engine. The caller fills in the pid.
func (s *Session) Descriptor() descriptor.Descriptor {
	ep := s.engine.Endpoint()
	caps := make(map[string]any, len(ep.Capabilities)+1)
	for k, v := range ep.Capabilities {
		caps[k] = v
	}
	caps["driver"] = s.driver
	return descriptor.Descriptor{
		URL:          ep.URL,
		SessionID:    ep.SessionID,
		Capabilities: caps,
		W3C:          ep.W3C,
	}
}

// Close quits an owned engine. Attached sessions leave the daemon's browser running.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.owned {
		return nil
	}
	if err := s.engine.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	s.logger.Info("Closed browser", zap.String("driver", s.driver))
	return nil
}
