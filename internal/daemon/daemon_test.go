package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/legifetch/internal/descriptor"
)

type mockSignaler struct {
	mock.Mock
}

func (m *mockSignaler) Probe(pid int) error {
	return m.Called(pid).Error(0)
}

func (m *mockSignaler) Terminate(pid int) error {
	return m.Called(pid).Error(0)
}

// processTable is a stateful signaler: terminated pids stop answering probes.
type processTable struct {
	mu         sync.Mutex
	alive      map[int]bool
	terminated []int
}

func newProcessTable(pids ...int) *processTable {
	t := &processTable{alive: map[int]bool{}}
	for _, p := range pids {
		t.alive[p] = true
	}
	return t
}

func (t *processTable) Probe(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.alive[pid] {
		return nil
	}
	return ErrProcessGone
}

func (t *processTable) Terminate(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminated = append(t.terminated, pid)
	if !t.alive[pid] {
		return ErrProcessGone
	}
	delete(t.alive, pid)
	return nil
}

func (t *processTable) terminatedPIDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.terminated...)
}

type fakeProcess struct {
	pid  int
	done chan struct{}
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

// fakeSpawner simulates a child that publishes its descriptor, or exits early.
type fakeSpawner struct {
	store   *descriptor.Store
	pid     int
	publish bool
	exit    bool
	args    []string
	spawns  int
}

func (s *fakeSpawner) Spawn(args []string, _ string) (Process, error) {
	s.spawns++
	s.args = args
	p := &fakeProcess{pid: s.pid, done: make(chan struct{})}
	go func() {
		time.Sleep(10 * time.Millisecond)
		if s.publish {
			_ = s.store.Save(descriptor.Descriptor{PID: s.pid, URL: "http://127.0.0.1:9222", SessionID: "S"})
		}
		if s.exit {
			close(p.done)
		}
	}()
	return p, nil
}

func newStore(t *testing.T) *descriptor.Store {
	t.Helper()
	store, err := descriptor.NewStore(filepath.Join(t.TempDir(), "legifetch", descriptor.FileName))
	require.NoError(t, err)
	return store
}

func newController(t *testing.T, store *descriptor.Store, sig Signaler, sp Spawner, cfg Config) *Controller {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	c, err := New(cfg, store, sig, sp, nil)
	require.NoError(t, err)
	return c
}

func TestIsRunningWithoutDescriptor(t *testing.T) {
	t.Parallel()

	sig := &mockSignaler{}
	c := newController(t, newStore(t), sig, &fakeSpawner{}, Config{})
	assert.False(t, c.IsRunning())
	sig.AssertNotCalled(t, "Probe", mock.Anything)
}

func TestIsRunningDeadPIDDeletesDescriptor(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.Save(descriptor.Descriptor{PID: 4242, URL: "u", SessionID: "S"}))
	sig := &mockSignaler{}
	sig.On("Probe", 4242).Return(ErrProcessGone).Once()
	c := newController(t, store, sig, &fakeSpawner{}, Config{})

	assert.False(t, c.IsRunning())
	_, err := os.Stat(store.Path())
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.NotPanics(t, func() { assert.False(t, c.IsRunning()) })
	sig.AssertNumberOfCalls(t, "Probe", 1)
}

func TestIsRunningUnreachableCountsAsRunning(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.Save(descriptor.Descriptor{PID: 1, URL: "u", SessionID: "S"}))
	sig := &mockSignaler{}
	sig.On("Probe", 1).Return(ErrDaemonUnreachable)
	c := newController(t, store, sig, &fakeSpawner{}, Config{})

	assert.True(t, c.IsRunning())
	_, ok := store.Load()
	assert.True(t, ok)
}

func TestIsRunningInvalidDescriptor(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, os.MkdirAll(store.Dir(), 0o700))
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"pid":0,"url":"u"}`), 0o600))
	sig := &mockSignaler{}
	c := newController(t, store, sig, &fakeSpawner{}, Config{})

	assert.False(t, c.IsRunning())
	_, ok := store.Load()
	assert.False(t, ok)
	sig.AssertNotCalled(t, "Probe", mock.Anything)
}

func TestStop(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	sig := &mockSignaler{}
	c := newController(t, store, sig, &fakeSpawner{}, Config{})

	stopped, err := c.Stop()
	require.NoError(t, err)
	assert.False(t, stopped)

	require.NoError(t, store.Save(descriptor.Descriptor{PID: 77, URL: "u"}))
	sig.On("Terminate", 77).Return(nil).Once()
	stopped, err = c.Stop()
	require.NoError(t, err)
	assert.True(t, stopped)
	sig.AssertExpectations(t)
}

func TestStopGoneProcessDropsDescriptor(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.Save(descriptor.Descriptor{PID: 78, URL: "u"}))
	sig := &mockSignaler{}
	sig.On("Terminate", 78).Return(ErrProcessGone)
	c := newController(t, store, sig, &fakeSpawner{}, Config{})

	stopped, err := c.Stop()
	require.NoError(t, err)
	assert.False(t, stopped)
	_, ok := store.Load()
	assert.False(t, ok)
}

func TestStopUnreachableReturnsError(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.Save(descriptor.Descriptor{PID: 1, URL: "u"}))
	sig := &mockSignaler{}
	sig.On("Terminate", 1).Return(ErrDaemonUnreachable)
	c := newController(t, store, sig, &fakeSpawner{}, Config{})

	_, err := c.Stop()
	require.ErrorIs(t, err, ErrDaemonUnreachable)
}

func TestStartWhileRunningStopsExactlyOnce(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.Save(descriptor.Descriptor{PID: 100, URL: "old", SessionID: "OLD"}))
	table := newProcessTable(100)
	spawner := &fakeSpawner{store: store, pid: 200, publish: true}
	c := newController(t, store, table, spawner, Config{Args: []string{"--config", "/etc/legifetch.yaml"}})

	h, err := c.Start(context.Background(), "rod")
	require.NoError(t, err)

	assert.Equal(t, []int{100}, table.terminatedPIDs())
	assert.Equal(t, 200, h.PID)
	assert.Equal(t, "S", h.Descriptor.SessionID)
	assert.Equal(t, 1, spawner.spawns)
	assert.Equal(t, []string{"daemon", "--driver", "rod", "--spawned", "--config", "/etc/legifetch.yaml"}, spawner.args)
}

func TestStartWithoutRunningDaemonDoesNotStop(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	table := newProcessTable()
	spawner := &fakeSpawner{store: store, pid: 300, publish: true}
	c := newController(t, store, table, spawner, Config{})

	h, err := c.Start(context.Background(), "chromedp")
	require.NoError(t, err)
	assert.Equal(t, 300, h.PID)
	assert.Empty(t, table.terminatedPIDs())
}

func TestStartChildExitsBeforeHandoff(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	table := newProcessTable()
	spawner := &fakeSpawner{store: store, pid: 400, exit: true}
	c := newController(t, store, table, spawner, Config{LogFile: "/tmp/legifetch-daemon.log"})

	_, err := c.Start(context.Background(), "chromedp")
	require.ErrorIs(t, err, ErrHandoffFailed)
	assert.ErrorContains(t, err, "/tmp/legifetch-daemon.log")
}

func TestStartTimesOutWithoutHandoff(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	table := newProcessTable(500)
	spawner := &fakeSpawner{store: store, pid: 500}
	c := newController(t, store, table, spawner, Config{StartupTimeout: 50 * time.Millisecond})

	_, err := c.Start(context.Background(), "chromedp")
	require.ErrorIs(t, err, ErrHandoffFailed)
	assert.Equal(t, []int{500}, table.terminatedPIDs(), "unready child is terminated")
}

func TestStartFailsWhenOldDaemonLingers(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.Save(descriptor.Descriptor{PID: 600, URL: "u"}))
	sig := &mockSignaler{}
	sig.On("Probe", 600).Return(nil)
	sig.On("Terminate", 600).Return(nil).Once()
	spawner := &fakeSpawner{store: store, pid: 601, publish: true}
	c := newController(t, store, sig, spawner, Config{StopTimeout: 30 * time.Millisecond})

	_, err := c.Start(context.Background(), "chromedp")
	require.ErrorContains(t, err, "still running")
	assert.Zero(t, spawner.spawns)
	sig.AssertNumberOfCalls(t, "Terminate", 1)
}

type fakeOwner struct {
	mu      sync.Mutex
	pingErr error
	closed  int
}

func (o *fakeOwner) Descriptor() descriptor.Descriptor {
	return descriptor.Descriptor{
		URL:          "http://127.0.0.1:9222",
		SessionID:    "S",
		Capabilities: map[string]any{"driver": "chromedp"},
	}
}

func (o *fakeOwner) Driver() string { return "chromedp" }

func (o *fakeOwner) Ping(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pingErr
}

func (o *fakeOwner) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
	return nil
}

func (o *fakeOwner) closeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func TestRunForegroundPublishesAndCleansUp(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	c := newController(t, store, newProcessTable(), &fakeSpawner{}, Config{WakeInterval: 10 * time.Millisecond})
	owner := &fakeOwner{}
	assert.Equal(t, StateIdle, c.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunForeground(ctx, owner) }()

	require.Eventually(t, func() bool { return c.State() == StateServing }, time.Second, 5*time.Millisecond)
	d, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), d.PID)
	assert.Equal(t, "S", d.SessionID)
	assert.Equal(t, "chromedp", d.Driver())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, 1, owner.closeCount())
	_, ok = store.Load()
	assert.False(t, ok)
}

func TestRunForegroundKeepsNewerDescriptor(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	c := newController(t, store, newProcessTable(), &fakeSpawner{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunForeground(ctx, &fakeOwner{}) }()
	require.Eventually(t, func() bool { return c.State() == StateServing }, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Save(descriptor.Descriptor{PID: 99999, URL: "newer"}))
	cancel()
	require.NoError(t, <-done)

	d, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, 99999, d.PID)
}

func TestRunForegroundStopsWhenEngineDies(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	c := newController(t, store, newProcessTable(), &fakeSpawner{}, Config{WakeInterval: 10 * time.Millisecond})
	owner := &fakeOwner{pingErr: errors.New("websocket closed")}

	err := c.RunForeground(context.Background(), owner)
	require.ErrorIs(t, err, ErrEngineGone)
	assert.Equal(t, 1, owner.closeCount())
	_, ok := store.Load()
	assert.False(t, ok)
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestStopAndWaitWithoutDaemon(t *testing.T) {
	t.Parallel()

	sig := &mockSignaler{}
	c := newController(t, newStore(t), sig, &fakeSpawner{}, Config{})
	require.NoError(t, c.StopAndWait(context.Background()))
	sig.AssertNotCalled(t, "Terminate", mock.Anything)
}

func TestStopAndWaitBlocksUntilExit(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.Save(descriptor.Descriptor{PID: 700, URL: "u", SessionID: "S"}))
	table := newProcessTable(700)
	c := newController(t, store, table, &fakeSpawner{}, Config{})

	require.NoError(t, c.StopAndWait(context.Background()))
	assert.Equal(t, []int{700}, table.terminatedPIDs())
	assert.False(t, c.IsRunning())
}

func TestAwaitHandoffDrainsWatchErrors(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, os.MkdirAll(store.Dir(), 0o700))
	c := newController(t, store, newProcessTable(), &fakeSpawner{}, Config{PollInterval: time.Hour, StartupTimeout: 5 * time.Second})
	proc := &fakeProcess{pid: 800, done: make(chan struct{})}

	errs := make(chan error)
	events := make(chan fsnotify.Event, 1)
	go func() {
		for i := 0; i < 3; i++ {
			errs <- errors.New("event queue overflow")
		}
		_ = store.Save(descriptor.Descriptor{PID: 800, URL: "http://127.0.0.1:9222", SessionID: "S"})
		events <- fsnotify.Event{Name: store.Path(), Op: fsnotify.Write}
	}()

	d, err := c.awaitHandoff(context.Background(), proc, events, errs)
	require.NoError(t, err)
	assert.Equal(t, 800, d.PID)
}
