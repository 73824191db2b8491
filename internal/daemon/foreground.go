package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/descriptor"
)

// State is a daemon lifecycle state.
type State string

// Lifecycle states.
const (
	StateIdle         State = "idle"
	StateSpawning     State = "spawning"
	StateServing      State = "serving"
	StateShuttingDown State = "shutting_down"
	StateTerminated   State = "terminated"
)

// ErrEngineGone is returned when the browser stops answering while the daemon serves it.
var ErrEngineGone = errors.New("browser engine gone")

// Owner is the engine the daemon keeps alive.
type Owner interface {
	Descriptor() descriptor.Descriptor
	Driver() string
	Ping(ctx context.Context) error
	Close() error
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("Daemon state", zap.String("from", string(prev)), zap.String("to", string(s)))
}

// RunForeground publishes owner's descriptor and serves until a termination signal,
// ctx cancellation or engine death. The descriptor is removed and owner closed on return.
func (c *Controller) RunForeground(ctx context.Context, owner Owner) (err error) {
	c.setState(StateSpawning)
	c.mu.Lock()
	c.owner = owner
	c.started = time.Now()
	c.mu.Unlock()

	d := owner.Descriptor()
	d.PID = c.pid
	if err := c.store.Save(d); err != nil {
		c.setState(StateTerminated)
		return errors.Join(fmt.Errorf("publish descriptor: %w", err), owner.Close())
	}
	defer func() {
		c.setState(StateShuttingDown)
		if derr := c.store.DeleteIfOwned(c.pid); derr != nil {
			c.logger.Warn("Failed to delete descriptor", zap.Error(derr))
		}
		if cerr := owner.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		c.setState(StateTerminated)
		c.logger.Info("Daemon terminated", zap.Int("pid", c.pid))
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	defer stop()

	if c.cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:              c.cfg.StatusAddr,
			Handler:           c.StatusHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			c.logger.Info("Status server started", zap.String("addr", c.cfg.StatusAddr))
			if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
				c.logger.Error("Status server error", zap.Error(serr))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				c.logger.Warn("Status server shutdown error", zap.Error(serr))
			}
		}()
	}

	c.setState(StateServing)
	c.logger.Info("Daemon serving",
		zap.Int("pid", c.pid),
		zap.String("url", d.URL),
		zap.String("session_id", d.SessionID),
		zap.Duration("wake_interval", c.cfg.WakeInterval),
	)

	ticker := time.NewTicker(c.cfg.WakeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Shutdown requested", zap.Error(context.Cause(ctx)))
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.WakeInterval/2)
			perr := owner.Ping(pingCtx)
			cancel()
			if perr != nil {
				if ctx.Err() != nil {
					continue
				}
				c.logger.Error("Browser stopped answering", zap.Error(perr))
				return fmt.Errorf("%w: %w", ErrEngineGone, perr)
			}
			c.logger.Debug("Daemon alive", zap.Duration("uptime", c.uptime()))
		}
	}
}

func (c *Controller) uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}
