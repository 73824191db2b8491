// Package daemon manages the background process that keeps a browser alive between runs.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/descriptor"
	"github.com/JakeFAU/legifetch/internal/metrics"
)

var (
	// ErrDaemonUnreachable means the daemon pid exists but cannot be signaled by this user.
	ErrDaemonUnreachable = errors.New("daemon unreachable")
	// ErrProcessGone means no process has the pid.
	ErrProcessGone = errors.New("process gone")
	// ErrHandoffFailed means a spawned daemon never published its descriptor.
	ErrHandoffFailed = errors.New("daemon handoff failed")
)

// Signaler probes and terminates processes by pid.
type Signaler interface {
	// Probe returns nil for a live process, ErrDaemonUnreachable or ErrProcessGone otherwise.
	Probe(pid int) error
	Terminate(pid int) error
}

// Process is a spawned child.
type Process interface {
	Pid() int
	// Done is closed once the child has exited.
	Done() <-chan struct{}
}

// Spawner starts detached children of the current executable.
type Spawner interface {
	Spawn(args []string, logPath string) (Process, error)
}

// Descriptors is the descriptor persistence used by the controller.
type Descriptors interface {
	Load() (descriptor.Descriptor, bool)
	Save(d descriptor.Descriptor) error
	Delete() error
	DeleteIfOwned(pid int) error
	Dir() string
}

// Config controls the controller.
type Config struct {
	WakeInterval   time.Duration
	StartupTimeout time.Duration
	StopTimeout    time.Duration
	PollInterval   time.Duration
	LogFile        string
	StatusAddr     string
	// Args are appended to the spawned daemon command line, for example --config.
	Args []string
}

// Handle identifies a started daemon.
type Handle struct {
	PID        int
	Descriptor descriptor.Descriptor
}

// Controller starts, stops and probes the daemon, and runs it in the foreground.
type Controller struct {
	cfg      Config
	store    Descriptors
	signaler Signaler
	spawner  Spawner
	pid      int
	logger   *zap.Logger

	mu      sync.RWMutex
	state   State
	started time.Time
	owner   Owner
}

// New builds a Controller. Nil signaler and spawner select the OS implementations.
func New(cfg Config, store Descriptors, signaler Signaler, spawner Spawner, logger *zap.Logger) (*Controller, error) {
	if store == nil {
		return nil, errors.New("descriptor store is required")
	}
	if signaler == nil {
		signaler = OSSignaler{}
	}
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	if cfg.WakeInterval <= 0 {
		cfg.WakeInterval = 60 * time.Second
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 60 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		store:    store,
		signaler: signaler,
		spawner:  spawner,
		pid:      os.Getpid(),
		logger:   logger.Named("daemon"),
		state:    StateIdle,
	}, nil
}

// IsRunning reports whether a live daemon owns the descriptor. Stale descriptors are deleted.
func (c *Controller) IsRunning() bool {
	d, ok := c.store.Load()
	if !ok {
		metrics.ObserveDaemonProbe("none")
		return false
	}
	if err := d.Validate(); err != nil {
		metrics.ObserveDaemonProbe("invalid")
		c.dropStale(d, err)
		return false
	}
	err := c.signaler.Probe(d.PID)
	switch {
	case err == nil:
		metrics.ObserveDaemonProbe("alive")
		return true
	case errors.Is(err, ErrDaemonUnreachable):
		metrics.ObserveDaemonProbe("unreachable")
		c.logger.Warn("Daemon is alive but cannot be signaled", zap.Int("pid", d.PID), zap.Error(err))
		return true
	default:
		metrics.ObserveDaemonProbe("stale")
		c.dropStale(d, err)
		return false
	}
}

// Status returns the published descriptor when the daemon is running.
func (c *Controller) Status() (descriptor.Descriptor, bool) {
	if !c.IsRunning() {
		return descriptor.Descriptor{}, false
	}
	return c.store.Load()
}

// Stop sends SIGTERM to the daemon without waiting. It reports whether a signal was delivered.
func (c *Controller) Stop() (bool, error) {
	d, ok := c.store.Load()
	if !ok {
		return false, nil
	}
	if err := d.Validate(); err != nil {
		c.dropStale(d, err)
		return false, nil
	}
	if err := c.signaler.Terminate(d.PID); err != nil {
		if errors.Is(err, ErrProcessGone) {
			c.dropStale(d, err)
			return false, nil
		}
		return false, fmt.Errorf("stop daemon %d: %w", d.PID, err)
	}
	c.logger.Info("Sent SIGTERM to daemon", zap.Int("pid", d.PID))
	return true, nil
}

// Start replaces any running daemon with a new one using driver and waits for its handoff.
func (c *Controller) Start(ctx context.Context, driver string) (Handle, error) {
	if err := c.StopAndWait(ctx); err != nil {
		return Handle{}, err
	}

	if err := os.MkdirAll(c.store.Dir(), 0o700); err != nil {
		return Handle{}, fmt.Errorf("create descriptor dir: %w", err)
	}
	args := append([]string{"daemon", "--driver", driver, "--spawned"}, c.cfg.Args...)
	proc, err := c.spawner.Spawn(args, c.cfg.LogFile)
	if err != nil {
		return Handle{}, fmt.Errorf("spawn daemon: %w", err)
	}
	c.logger.Info("Spawned daemon", zap.Int("pid", proc.Pid()), zap.String("driver", driver))

	d, err := c.waitHandoff(ctx, proc)
	if err != nil {
		if terr := c.signaler.Terminate(proc.Pid()); terr != nil && !errors.Is(terr, ErrProcessGone) {
			c.logger.Warn("Failed to terminate unready daemon", zap.Int("pid", proc.Pid()), zap.Error(terr))
		}
		return Handle{}, err
	}
	return Handle{PID: proc.Pid(), Descriptor: d}, nil
}

// StopAndWait stops a running daemon and waits up to the stop timeout for it to exit.
// It returns nil at once when no daemon is running.
func (c *Controller) StopAndWait(ctx context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	old, ok := c.store.Load()
	if !ok {
		return nil
	}
	stopped, err := c.Stop()
	if err != nil {
		return err
	}
	if !stopped {
		return nil
	}
	return c.waitGone(ctx, old.PID)
}

// waitGone blocks until pid has exited or the stop timeout passes.
func (c *Controller) waitGone(ctx context.Context, pid int) error {
	deadline := time.NewTimer(c.cfg.StopTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.cfg.PollInterval)
	defer tick.Stop()
	for {
		if errors.Is(c.signaler.Probe(pid), ErrProcessGone) {
			return nil
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return fmt.Errorf("daemon %d still running after %s", pid, c.cfg.StopTimeout)
		case <-ctx.Done():
			return fmt.Errorf("wait for daemon %d to stop: %w", pid, ctx.Err())
		}
	}
}

// waitHandoff blocks until a descriptor naming the child appears.
func (c *Controller) waitHandoff(ctx context.Context, proc Process) (descriptor.Descriptor, error) {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(c.store.Dir()); err == nil {
			events = watcher.Events
			errs = watcher.Errors
		} else {
			c.logger.Debug("Watching descriptor dir failed, polling", zap.Error(err))
		}
	}

	return c.awaitHandoff(ctx, proc, events, errs)
}

// awaitHandoff polls the store, waking early on watch events. Watch errors are logged and ignored.
func (c *Controller) awaitHandoff(ctx context.Context, proc Process, events <-chan fsnotify.Event, errs <-chan error) (descriptor.Descriptor, error) {
	deadline := time.NewTimer(c.cfg.StartupTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.cfg.PollInterval)
	defer tick.Stop()
	for {
		if d, ok := c.store.Load(); ok && d.PID == proc.Pid() {
			c.logger.Info("Daemon ready", zap.Int("pid", d.PID), zap.String("url", d.URL))
			return d, nil
		}
		select {
		case <-events:
		case werr := <-errs:
			c.logger.Debug("Descriptor watch error", zap.Error(werr))
		case <-tick.C:
		case <-proc.Done():
			if d, ok := c.store.Load(); ok && d.PID == proc.Pid() {
				return descriptor.Descriptor{}, fmt.Errorf("%w: daemon %d exited after publishing", ErrHandoffFailed, proc.Pid())
			}
			return descriptor.Descriptor{}, fmt.Errorf("%w: daemon %d exited before handoff (see %s)", ErrHandoffFailed, proc.Pid(), logHint(c.cfg.LogFile))
		case <-deadline.C:
			return descriptor.Descriptor{}, fmt.Errorf("%w: no descriptor from daemon %d after %s", ErrHandoffFailed, proc.Pid(), c.cfg.StartupTimeout)
		case <-ctx.Done():
			return descriptor.Descriptor{}, fmt.Errorf("wait for daemon handoff: %w", ctx.Err())
		}
	}
}

func (c *Controller) dropStale(d descriptor.Descriptor, cause error) {
	c.logger.Info("Removing stale descriptor", zap.Int("pid", d.PID), zap.Error(cause))
	if err := c.store.Delete(); err != nil {
		c.logger.Warn("Failed to delete stale descriptor", zap.Error(err))
	}
}

func logHint(path string) string {
	if path == "" {
		return "daemon.log_file"
	}
	return path
}
